package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/flcoord/pkg/mqtt"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/round"
)

const (
	aliveTopic  = "/participants/alive"
	leaveTopic  = "/participants/leave"
	roundsTopic = "/rounds/"
)

var errInvalidParticipantID = errors.New("invalid participant_id")

// Subscribe feeds participant heartbeats and departures into the registry.
func Subscribe(ctx context.Context, baseTopic string, pubsub mqtt.PubSub, reg *registry.Registry, logger *slog.Logger) error {
	return pubsub.Subscribe(ctx, baseTopic+"/participants/#", Handle(ctx, baseTopic, reg, logger))
}

func Handle(ctx context.Context, baseTopic string, reg *registry.Registry, logger *slog.Logger) mqtt.Handler {
	return func(topic string, msg map[string]any) error {
		switch topic {
		case baseTopic + aliveTopic:
			id, err := participantID(msg)
			if err != nil {
				return err
			}
			endpoint, _ := msg["endpoint"].(string)

			return reg.Heartbeat(id, endpoint)
		case baseTopic + leaveTopic:
			id, err := participantID(msg)
			if err != nil {
				return err
			}
			if err := reg.Deregister(id); err != nil {
				return err
			}
			logger.InfoContext(ctx, "participant left", slog.String("participant_id", id))
		}

		return nil
	}
}

func participantID(msg map[string]any) (string, error) {
	id, ok := msg["participant_id"].(string)
	if !ok || id == "" {
		return "", errInvalidParticipantID
	}

	return id, nil
}

const minExpiryInterval = time.Second

// ExpireParticipants marks participants unavailable once their last
// heartbeat is older than maxAge. The registry is swept every maxAge/2, but
// never more often than once a second. It blocks until ctx is done.
func ExpireParticipants(ctx context.Context, reg *registry.Registry, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(max(maxAge/2, minExpiryInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range reg.Expire(maxAge) {
				logger.WarnContext(ctx, "participant heartbeat expired", slog.String("participant_id", id))
			}
		}
	}
}

type roundEvent struct {
	Event       EventKind          `json:"event"`
	Round       uint64             `json:"round_number"`
	SessionID   string             `json:"session_id"`
	Status      round.Status       `json:"status"`
	Responded   int                `json:"responded"`
	FitMetrics  map[string]float64 `json:"fit_metrics,omitempty"`
	EvalMetrics map[string]float64 `json:"eval_metrics,omitempty"`
	Error       string             `json:"error,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

type mqttPublisher struct {
	pubsub    mqtt.PubSub
	baseTopic string
}

// NewMQTTPublisher publishes round events on <baseTopic>/rounds/<event>.
func NewMQTTPublisher(pubsub mqtt.PubSub, baseTopic string) EventPublisher {
	return &mqttPublisher{pubsub: pubsub, baseTopic: baseTopic}
}

func (p *mqttPublisher) PublishRound(ctx context.Context, kind EventKind, r round.Round) error {
	return p.pubsub.Publish(ctx, p.baseTopic+roundsTopic+string(kind), roundEvent{
		Event:       kind,
		Round:       r.Number,
		SessionID:   r.SessionID,
		Status:      r.Status,
		Responded:   len(r.Responded),
		FitMetrics:  r.FitMetrics,
		EvalMetrics: r.EvalMetrics,
		Error:       r.Error,
		Timestamp:   time.Now(),
	})
}
