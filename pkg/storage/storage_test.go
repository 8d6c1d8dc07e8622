package storage_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/absmach/flcoord/pkg/storage"
	"github.com/absmach/flcoord/round"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]storage.MetricsStore {
	t.Helper()

	tmp := os.TempDir()
	sqlitePath := filepath.Join(tmp, "test_"+uuid.NewString()+".db")
	badgerPath := filepath.Join(tmp, "badger_test_"+uuid.NewString())

	out := map[string]storage.MetricsStore{}
	for typ, cfg := range map[string]storage.Config{
		"memory": {Type: "memory"},
		"sqlite": {Type: "sqlite", SQLitePath: sqlitePath},
		"badger": {Type: "badger", BadgerPath: badgerPath},
	} {
		s, err := storage.New(cfg)
		require.NoError(t, err, typ)
		out[typ] = s
	}
	t.Cleanup(func() {
		for _, s := range out {
			s.Close()
		}
		os.Remove(sqlitePath)
		os.RemoveAll(badgerPath)
	})

	return out
}

func completedRound(number uint64, loss float64) round.Round {
	start := time.Date(2026, 1, 1, 0, 0, int(number), 0, time.UTC)

	return round.Round{
		Number:      number,
		SessionID:   "session-1",
		Status:      round.Completed,
		StartedAt:   start,
		EndedAt:     start.Add(time.Second),
		Invited:     []string{"hospital-a", "hospital-b"},
		Responded:   []string{"hospital-a", "hospital-b"},
		FitMetrics:  map[string]float64{"loss": loss},
		EvalMetrics: map[string]float64{"loss": loss, "rmse": loss},
		Participants: []round.ParticipantOutcome{
			{ParticipantID: "hospital-a", Phase: round.PhaseFit, SampleCount: 100, Metrics: map[string]float64{"loss": loss}},
		},
	}
}

func failedRound(number uint64) round.Round {
	return round.Round{
		Number:    number,
		SessionID: "session-1",
		Status:    round.Failed,
		StartedAt: time.Date(2026, 1, 1, 0, 0, int(number), 0, time.UTC),
		Error:     "quorum not met",
	}
}

func TestAppendAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cases := []struct {
				desc  string
				round round.Round
				err   error
			}{
				{desc: "append completed round", round: completedRound(1, 0.5)},
				{desc: "append failed round", round: failedRound(2)},
				{desc: "append duplicate round", round: completedRound(1, 0.1), err: storage.ErrRoundExists},
				{desc: "append round zero", round: round.Round{Status: round.Completed}, err: storage.ErrInvalidKey},
			}
			for _, tc := range cases {
				err := s.Append(ctx, tc.round)
				assert.ErrorIs(t, err, tc.err, fmt.Sprintf("%s: expected %v got %v", tc.desc, tc.err, err))
			}

			got, err := s.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, round.Completed, got.Status)
			assert.Equal(t, 0.5, got.FitMetrics["loss"])
			assert.Equal(t, []string{"hospital-a", "hospital-b"}, got.Responded)
			require.Len(t, got.Participants, 1)
			assert.Equal(t, int64(100), got.Participants[0].SampleCount)

			failed, err := s.Get(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, "quorum not met", failed.Error)

			_, err = s.Get(ctx, 99)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestRecent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Insert out of order to check the store orders by round number.
			for _, n := range []uint64{3, 1, 2, 10, 4, 5, 9, 6, 8, 7} {
				require.NoError(t, s.Append(ctx, completedRound(n, float64(n))))
			}

			cases := []struct {
				desc  string
				limit uint64
				want  []uint64
			}{
				{desc: "last five", limit: 5, want: []uint64{6, 7, 8, 9, 10}},
				{desc: "limit above size", limit: 20, want: []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
				{desc: "single", limit: 1, want: []uint64{10}},
				{desc: "zero", limit: 0, want: []uint64{}},
			}
			for _, tc := range cases {
				rounds, err := s.Recent(ctx, tc.limit)
				require.NoError(t, err, tc.desc)
				got := make([]uint64, len(rounds))
				for i, r := range rounds {
					got[i] = r.Number
				}
				assert.Equal(t, tc.want, got, tc.desc)
			}

			last, err := s.LastRound(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), last)
		})
	}
}

func TestSummary(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := s.Summary(ctx)
			require.NoError(t, err)
			assert.Zero(t, empty.TotalRounds)
			assert.Nil(t, empty.AverageLoss)

			last, err := s.LastRound(ctx)
			require.NoError(t, err)
			assert.Zero(t, last)

			require.NoError(t, s.Append(ctx, completedRound(1, 0.9)))
			require.NoError(t, s.Append(ctx, failedRound(2)))
			require.NoError(t, s.Append(ctx, completedRound(3, 0.3)))

			sum, err := s.Summary(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), sum.TotalRounds)
			assert.Equal(t, uint64(2), sum.CompletedRounds)
			assert.Equal(t, uint64(1), sum.FailedRounds)
			require.NotNil(t, sum.AverageLoss)
			assert.InDelta(t, 0.6, *sum.AverageLoss, 1e-9)
			assert.InDelta(t, 0.3, *sum.MinLoss, 1e-9)
			assert.InDelta(t, 0.9, *sum.MaxLoss, 1e-9)
			assert.Equal(t, uint64(3), sum.LatestRound)
			assert.InDelta(t, 0.3, *sum.LatestLoss, 1e-9)
		})
	}
}

func TestTruncate(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for n := uint64(1); n <= 150; n++ {
				require.NoError(t, s.Append(ctx, completedRound(n, 1/float64(n))))
			}

			assert.ErrorIs(t, s.Truncate(ctx, 10), storage.ErrRetention)
			require.NoError(t, s.Truncate(ctx, 100))

			rounds, err := s.Recent(ctx, 1000)
			require.NoError(t, err)
			require.Len(t, rounds, 100)
			for i, r := range rounds {
				assert.Equal(t, uint64(51+i), r.Number)
			}
			_, err = s.Get(ctx, 50)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestConcurrentReaders(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := uint64(1); n <= 20; n++ {
					assert.NoError(t, s.Append(ctx, completedRound(n, 0.5)))
				}
			}()
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range 20 {
						rounds, err := s.Recent(ctx, 5)
						assert.NoError(t, err)
						for i := 1; i < len(rounds); i++ {
							assert.Less(t, rounds[i-1].Number, rounds[i].Number)
						}
					}
				}()
			}
			wg.Wait()
		})
	}
}

func TestNewUnsupported(t *testing.T) {
	_, err := storage.New(storage.Config{Type: "cassandra"})
	assert.ErrorIs(t, err, storage.ErrUnsupported)
}
