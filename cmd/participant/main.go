package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/absmach/flcoord/participant"
	"github.com/absmach/flcoord/pkg/mqtt"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "participant"
	defHTTPPort   = "9090"
	envPrefixHTTP = "FLCOORD_PARTICIPANT_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel          string        `env:"FLCOORD_PARTICIPANT_LOG_LEVEL"          envDefault:"info"`
	ID                string        `env:"FLCOORD_PARTICIPANT_ID"`
	Endpoint          string        `env:"FLCOORD_PARTICIPANT_ENDPOINT"           envDefault:"http://localhost:9090"`
	Samples           int           `env:"FLCOORD_PARTICIPANT_SAMPLES"            envDefault:"500"`
	HoldoutFraction   float64       `env:"FLCOORD_PARTICIPANT_HOLDOUT_FRACTION"   envDefault:"0.2"`
	TrueWeights       []float64     `env:"FLCOORD_PARTICIPANT_TRUE_WEIGHTS"       envDefault:"1.5,-2,0.5"`
	TrueBias          float64       `env:"FLCOORD_PARTICIPANT_TRUE_BIAS"          envDefault:"0.3"`
	Noise             float64       `env:"FLCOORD_PARTICIPANT_NOISE"              envDefault:"0.1"`
	Seed              uint64        `env:"FLCOORD_PARTICIPANT_SEED"               envDefault:"1"`
	MQTTAddress       string        `env:"FLCOORD_PARTICIPANT_MQTT_ADDRESS"`
	MQTTQoS           uint8         `env:"FLCOORD_PARTICIPANT_MQTT_QOS"           envDefault:"1"`
	MQTTTimeout       time.Duration `env:"FLCOORD_PARTICIPANT_MQTT_TIMEOUT"       envDefault:"30s"`
	MQTTUsername      string        `env:"FLCOORD_PARTICIPANT_MQTT_USERNAME"`
	MQTTPassword      string        `env:"FLCOORD_PARTICIPANT_MQTT_PASSWORD"`
	BaseTopic         string        `env:"FLCOORD_PARTICIPANT_MQTT_BASE_TOPIC"    envDefault:"flcoord"`
	HeartbeatInterval time.Duration `env:"FLCOORD_PARTICIPANT_HEARTBEAT_INTERVAL" envDefault:"10s"`
	OTELURL           url.URL       `env:"FLCOORD_PARTICIPANT_OTEL_URL"`
	TraceRatio        float64       `env:"FLCOORD_PARTICIPANT_TRACE_RATIO"        envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler).With(slog.String("participant_id", cfg.ID))
	slog.SetDefault(logger)

	if cfg.OTELURL != (url.URL{}) {
		tp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.ID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		otel.SetTracerProvider(tp)
	}

	data := participant.SyntheticDataset(cfg.Samples, cfg.TrueWeights, cfg.TrueBias, cfg.Noise, cfg.Seed)
	train, holdout := data.Split(int(float64(data.Len()) * (1 - cfg.HoldoutFraction)))
	trainer := participant.NewLinearTrainer(train, holdout, cfg.Seed)
	logger.Info("dataset ready",
		slog.Int("train_samples", train.Len()),
		slog.Int("holdout_samples", holdout.Len()),
		slog.Int("features", len(cfg.TrueWeights)),
	)

	if cfg.MQTTAddress != "" {
		pubsub, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName+"-"+cfg.ID, cfg.MQTTUsername, cfg.MQTTPassword, participant.LeaveTopic(cfg.BaseTopic), cfg.MQTTTimeout, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := pubsub.Disconnect(context.Background()); err != nil {
				logger.Error("failed to disconnect mqtt client", slog.String("error", err.Error()))
			}
		}()
		g.Go(func() error {
			participant.Announce(ctx, pubsub, cfg.BaseTopic, cfg.ID, cfg.Endpoint, cfg.HeartbeatInterval, logger)

			return nil
		})
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, participant.MakeHandler(participant.NewMonitor(cfg.ID, trainer), logger, cfg.ID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}
