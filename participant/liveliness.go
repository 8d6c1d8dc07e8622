package participant

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/flcoord/pkg/mqtt"
)

const (
	aliveTopic = "/participants/alive"
	leaveTopic = "/participants/leave"
)

// LeaveTopic is where the broker publishes the last will of a participant
// that disconnects without announcing its departure.
func LeaveTopic(baseTopic string) string {
	return baseTopic + leaveTopic
}

// Announce publishes a heartbeat right away and then every interval until
// ctx is done, when it publishes a leave message.
func Announce(ctx context.Context, pubsub mqtt.PubSub, baseTopic, id, endpoint string, interval time.Duration, logger *slog.Logger) {
	alive := map[string]any{
		"participant_id": id,
		"endpoint":       endpoint,
	}
	publish := func() {
		if err := pubsub.Publish(ctx, baseTopic+aliveTopic, alive); err != nil {
			logger.Error("failed to publish liveliness message", slog.Any("error", err))

			return
		}
		logger.Debug("published liveliness message", slog.String("topic", baseTopic+aliveTopic))
	}

	publish()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping liveliness updates")
			leave := map[string]any{"participant_id": id}
			if err := pubsub.Publish(context.WithoutCancel(ctx), LeaveTopic(baseTopic), leave); err != nil {
				logger.Error("failed to publish leave message", slog.Any("error", err))
			}

			return
		case <-ticker.C:
			publish()
		}
	}
}
