package coordinator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/flcoord/pkg/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startRecorder struct {
	Service
	starts []SessionRequest
	err    error
}

func (s *startRecorder) StartSession(_ context.Context, req SessionRequest) (SessionStatus, error) {
	s.starts = append(s.starts, req)

	return SessionStatus{SessionID: "id"}, s.err
}

func TestCronSchedulerTick(t *testing.T) {
	sched, err := cron.Parse("0 * * * *", "UTC")
	require.NoError(t, err)

	cases := []struct {
		desc   string
		now    time.Time
		err    error
		starts int
	}{
		{
			desc:   "not yet due",
			now:    time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC),
			starts: 0,
		},
		{
			desc:   "due",
			now:    time.Date(2026, 1, 1, 11, 0, 30, 0, time.UTC),
			starts: 1,
		},
		{
			desc:   "due while a session runs",
			now:    time.Date(2026, 1, 1, 11, 0, 30, 0, time.UTC),
			err:    ErrSessionRunning,
			starts: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			svc := &startRecorder{err: tc.err}
			cs := NewCronScheduler(sched, svc, SessionRequest{NumRounds: 3}, slog.New(slog.NewTextHandler(io.Discard, nil))).(*cronScheduler)
			cs.setNextRun(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC))
			cs.now = func() time.Time { return tc.now }

			cs.tick(context.Background())

			require.Len(t, svc.starts, tc.starts)
			if tc.starts > 0 {
				assert.Equal(t, uint64(3), svc.starts[0].NumRounds)
				assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), cs.NextRun())
			}
		})
	}
}

func TestCronSchedulerStop(t *testing.T) {
	sched, err := cron.Parse("@hourly", "")
	require.NoError(t, err)
	cs := NewCronScheduler(sched, &startRecorder{}, SessionRequest{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan error, 1)
	go func() { done <- cs.Start(context.Background()) }()
	assert.Eventually(t, func() bool { return !cs.NextRun().IsZero() }, time.Second, 5*time.Millisecond)
	cs.Stop()
	cs.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
