package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/absmach/flcoord"
	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/coordinator/api"
	"github.com/absmach/flcoord/coordinator/middleware"
	"github.com/absmach/flcoord/participant"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/cron"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/mqtt"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/pkg/storage"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "coordinator"
	defHTTPPort   = "7070"
	envPrefixHTTP = "FLCOORD_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel           string        `env:"FLCOORD_LOG_LEVEL"           envDefault:"info"`
	InstanceID         string        `env:"FLCOORD_INSTANCE_ID"`
	ConfigFile         string        `env:"FLCOORD_CONFIG_FILE"`
	ModelFeatures      int           `env:"FLCOORD_MODEL_FEATURES"      envDefault:"3"`
	MQTTAddress        string        `env:"FLCOORD_MQTT_ADDRESS"`
	MQTTQoS            uint8         `env:"FLCOORD_MQTT_QOS"            envDefault:"1"`
	MQTTTimeout        time.Duration `env:"FLCOORD_MQTT_TIMEOUT"        envDefault:"30s"`
	MQTTUsername       string        `env:"FLCOORD_MQTT_USERNAME"`
	MQTTPassword       string        `env:"FLCOORD_MQTT_PASSWORD"`
	BaseTopic          string        `env:"FLCOORD_MQTT_BASE_TOPIC"     envDefault:"flcoord"`
	ParticipantTimeout time.Duration `env:"FLCOORD_PARTICIPANT_TIMEOUT" envDefault:"60s"`
	AggregatorWasm     string        `env:"FLCOORD_AGGREGATOR_WASM"`
	AggregatorTimeout  time.Duration `env:"FLCOORD_AGGREGATOR_TIMEOUT"  envDefault:"30s"`
	Schedule           string        `env:"FLCOORD_SCHEDULE"`
	ScheduleTimezone   string        `env:"FLCOORD_SCHEDULE_TZ"         envDefault:"UTC"`
	Autostart          bool          `env:"FLCOORD_AUTOSTART"           envDefault:"false"`
	Resume             bool          `env:"FLCOORD_RESUME"              envDefault:"true"`
	OTELURL            url.URL       `env:"FLCOORD_OTEL_URL"`
	TraceRatio         float64       `env:"FLCOORD_TRACE_RATIO"         envDefault:"0"`
	Training           coordinator.Config
	Metrics            storage.Config
	Checkpoints        checkpoint.Config
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

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var fileCfg flcoord.Config
	if cfg.ConfigFile != "" {
		c, err := flcoord.LoadConfig(cfg.ConfigFile)
		if err != nil {
			logger.Error("failed to load config file", slog.String("path", cfg.ConfigFile), slog.String("error", err.Error()))

			return
		}
		fileCfg = *c
	}
	if fileCfg.Model.Features == 0 && len(fileCfg.Model.Tensors) == 0 {
		fileCfg.Model.Features = cfg.ModelFeatures
	}

	training, err := fileCfg.Training.Apply(cfg.Training)
	if err != nil {
		logger.Error("invalid training configuration", slog.String("error", err.Error()))

		return
	}
	if err := training.Validate(); err != nil {
		logger.Error("invalid training configuration", slog.String("error", err.Error()))

		return
	}

	initial, err := fileCfg.Model.InitialParameters()
	if err != nil {
		logger.Error("failed to build initial model", slog.String("error", err.Error()))

		return
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(svcName)

	metricsStore, err := storage.New(cfg.Metrics)
	if err != nil {
		logger.Error("failed to initialize metrics store", slog.String("error", err.Error()))

		return
	}
	defer metricsStore.Close()

	checkpoints, err := checkpoint.New(ctx, cfg.Checkpoints)
	if err != nil {
		logger.Error("failed to initialize checkpoint store", slog.String("error", err.Error()))

		return
	}
	defer checkpoints.Close()

	reg := registry.New()
	for _, p := range fileCfg.Participants {
		if err := reg.Register(p.ID, p.Endpoint); err != nil {
			logger.Error("failed to register participant", slog.String("participant_id", p.ID), slog.String("error", err.Error()))

			return
		}
	}

	var pubsub mqtt.PubSub
	var opts []coordinator.Option
	if cfg.MQTTAddress != "" {
		ps, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName+"-"+cfg.InstanceID, cfg.MQTTUsername, cfg.MQTTPassword, "", cfg.MQTTTimeout, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := ps.Disconnect(context.Background()); err != nil {
				logger.Error("failed to disconnect mqtt client", slog.String("error", err.Error()))
			}
		}()
		pubsub = ps
		opts = append(opts, coordinator.WithEvents(coordinator.NewMQTTPublisher(ps, cfg.BaseTopic)))
	}

	if cfg.AggregatorWasm != "" {
		wasm, err := os.ReadFile(cfg.AggregatorWasm)
		if err != nil {
			logger.Error("failed to read wasm aggregator", slog.String("path", cfg.AggregatorWasm), slog.String("error", err.Error()))

			return
		}
		agg, err := fl.NewWasmAggregator(ctx, wasm, cfg.AggregatorTimeout)
		if err != nil {
			logger.Error("failed to load wasm aggregator", slog.String("error", err.Error()))

			return
		}
		defer agg.Close(context.Background())
		opts = append(opts, coordinator.WithAggregator(agg))
		logger.Info("using wasm aggregator", slog.String("path", cfg.AggregatorWasm))
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	rounds := coordinator.NewRoundCoordinator(training, reg, participant.NewTrainerFactory(httpClient), checkpoints, metricsStore, logger, opts...)
	supervisor := coordinator.NewSupervisor(training, rounds, checkpoints, metricsStore, logger)

	svc := newService(supervisor, reg, metricsStore, checkpoints, initial, pubsub, cfg.BaseTopic, logger, tracer)

	if err := svc.Subscribe(ctx); err != nil {
		logger.Error("failed to subscribe to participant topics", slog.String("error", err.Error()))

		return
	}
	if pubsub != nil && cfg.ParticipantTimeout > 0 {
		g.Go(func() error {
			coordinator.ExpireParticipants(ctx, reg, cfg.ParticipantTimeout, logger)

			return nil
		})
	}

	if cfg.Schedule != "" {
		schedule, err := cron.Parse(cfg.Schedule, cfg.ScheduleTimezone)
		if err != nil {
			logger.Error("failed to parse session schedule", slog.String("error", err.Error()))

			return
		}
		cs := coordinator.NewCronScheduler(schedule, svc, coordinator.SessionRequest{Resume: cfg.Resume}, logger)
		g.Go(func() error {
			if err := cs.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		})
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if cfg.Autostart {
		status, err := svc.StartSession(ctx, coordinator.SessionRequest{Resume: cfg.Resume})
		if err != nil {
			logger.Error("failed to start training session", slog.String("error", err.Error()))
		} else {
			logger.Info("training session started", slog.String("session_id", status.SessionID), slog.String("name", status.Name))
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	if supervisor.Status().IsRunning {
		if err := supervisor.Abort(context.Background()); err != nil && !errors.Is(err, coordinator.ErrNoSession) {
			logger.Error("failed to abort training session", slog.String("error", err.Error()))
		}
	}
}

func newService(sup *coordinator.Supervisor, reg *registry.Registry, metrics storage.MetricsStore, checkpoints checkpoint.Store, initial fl.ParameterSet, pubsub mqtt.PubSub, baseTopic string, logger *slog.Logger, tracer trace.Tracer) coordinator.Service {
	svc := coordinator.NewService(sup, reg, metrics, checkpoints, initial, pubsub, baseTopic, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	return svc
}
