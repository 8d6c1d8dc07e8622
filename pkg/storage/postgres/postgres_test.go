package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	pkgerrors "github.com/absmach/flcoord/pkg/errors"
	"github.com/absmach/flcoord/pkg/storage/postgres"
	"github.com/absmach/flcoord/round"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *postgres.Database

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16.2-alpine",
		Env: []string{
			"POSTGRES_USER=test",
			"POSTGRES_PASSWORD=test",
			"POSTGRES_DB=test",
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start container: %s", err)
	}

	port := container.GetPort("5432/tcp")

	pool.MaxWait = 120 * time.Second
	if err := pool.Retry(func() error {
		url := fmt.Sprintf("host=localhost port=%s user=test dbname=test password=test sslmode=disable", port)
		db, err := sql.Open("pgx", url)
		if err != nil {
			return err
		}
		return db.Ping()
	}); err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	testDB, err = postgres.NewDatabase("localhost", port, "test", "test", "test", "disable")
	if err != nil {
		log.Fatalf("Could not setup test DB connection: %s", err)
	}

	code := m.Run()

	testDB.Close()
	if err := pool.Purge(container); err != nil {
		log.Fatalf("Could not purge container: %s", err)
	}

	os.Exit(code)
}

func testRound(number uint64, status round.Status, loss float64) round.Round {
	r := round.Round{
		Number:    number,
		SessionID: "session-pg",
		Status:    status,
		StartedAt: time.Now().UTC(),
		EndedAt:   time.Now().UTC(),
	}
	if status == round.Completed {
		r.Responded = []string{"hospital-a", "hospital-b", "hospital-c"}
		r.FitMetrics = map[string]float64{"loss": loss}
	} else {
		r.Error = "quorum not met"
	}

	return r
}

func TestRoundRepository(t *testing.T) {
	repo := postgres.NewRoundRepository(testDB)
	ctx := context.Background()

	cases := []struct {
		desc  string
		round round.Round
		err   error
	}{
		{
			desc:  "append completed round",
			round: testRound(1, round.Completed, 0.8),
			err:   nil,
		},
		{
			desc:  "append failed round",
			round: testRound(2, round.Failed, 0),
			err:   nil,
		},
		{
			desc:  "append duplicate round",
			round: testRound(1, round.Completed, 0.1),
			err:   pkgerrors.ErrEntityExists,
		},
		{
			desc:  "append round zero",
			round: round.Round{},
			err:   pkgerrors.ErrInvalidKey,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := repo.Append(ctx, tc.round)
			assert.ErrorIs(t, err, tc.err, fmt.Sprintf("%s: expected error %v, got %v", tc.desc, tc.err, err))
		})
	}

	for n := uint64(3); n <= 10; n++ {
		require.NoError(t, repo.Append(ctx, testRound(n, round.Completed, 1/float64(n))))
	}

	recent, err := repo.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for i, r := range recent {
		assert.Equal(t, uint64(6+i), r.Number)
	}

	got, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, round.Failed, got.Status)
	assert.Equal(t, "quorum not met", got.Error)

	_, err = repo.Get(ctx, 404)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	sum, err := repo.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), sum.TotalRounds)
	assert.Equal(t, uint64(9), sum.CompletedRounds)
	assert.Equal(t, uint64(1), sum.FailedRounds)
	require.NotNil(t, sum.MaxLoss)
	assert.InDelta(t, 0.8, *sum.MaxLoss, 1e-9)
	assert.InDelta(t, 0.1, *sum.MinLoss, 1e-9)
	assert.Equal(t, uint64(10), sum.LatestRound)

	last, err := repo.LastRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), last)

	assert.ErrorIs(t, repo.Truncate(ctx, 5), pkgerrors.ErrRetention)
	require.NoError(t, repo.Truncate(ctx, round.MinRetention))
	recent, err = repo.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 10)
}
