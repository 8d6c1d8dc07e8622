package registry_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/absmach/flcoord/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(ps []registry.Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}

	return out
}

func newRegistry(t *testing.T, available ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, id := range available {
		require.NoError(t, reg.Register(id, "http://"+id))
	}

	return reg
}

func TestSelect(t *testing.T) {
	cases := []struct {
		desc      string
		available []string
		min       int
		fraction  float64
		want      []string
		err       error
	}{
		{
			desc:      "full fraction selects everyone in id order",
			available: []string{"hospital-c", "hospital-a", "hospital-b"},
			min:       2,
			fraction:  1,
			want:      []string{"hospital-a", "hospital-b", "hospital-c"},
		},
		{
			desc:      "fraction rounds up",
			available: []string{"a", "b", "c", "d", "e"},
			min:       1,
			fraction:  0.5,
			want:      []string{"a", "b", "c"},
		},
		{
			desc:      "minimum dominates small fraction",
			available: []string{"a", "b", "c", "d"},
			min:       3,
			fraction:  0.1,
			want:      []string{"a", "b", "c"},
		},
		{
			desc:      "zero fraction with zero minimum selects nobody",
			available: []string{"a"},
			min:       0,
			fraction:  0,
			want:      []string{},
		},
		{
			desc:      "not enough available",
			available: []string{"a", "b"},
			min:       3,
			fraction:  1,
			err:       registry.ErrInsufficientParticipants,
		},
		{
			desc:      "invalid fraction",
			available: []string{"a"},
			min:       1,
			fraction:  1.5,
			err:       registry.ErrInvalidFraction,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			reg := newRegistry(t, tc.available...)
			got, err := reg.Select(tc.min, tc.fraction)
			assert.ErrorIs(t, err, tc.err, fmt.Sprintf("%s: expected %v got %v", tc.desc, tc.err, err))
			if tc.err == nil {
				assert.Equal(t, tc.want, ids(got))
			}
		})
	}
}

func TestSelectDoesNotMutateAvailability(t *testing.T) {
	reg := newRegistry(t, "a", "b")

	_, err := reg.Select(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.AvailableCount())
}

func TestRegisterDeregisterIdempotent(t *testing.T) {
	reg := registry.New()

	require.NoError(t, reg.Register("a", "http://a"))
	require.NoError(t, reg.Register("a", ""))
	p, err := reg.Get("a")
	require.NoError(t, err)
	assert.True(t, p.Available)
	assert.Equal(t, "http://a", p.Endpoint)

	require.NoError(t, reg.Deregister("a"))
	require.NoError(t, reg.Deregister("a"))
	require.NoError(t, reg.Deregister("unknown"))

	p, err = reg.Get("a")
	require.NoError(t, err)
	assert.False(t, p.Available)
	assert.Len(t, reg.List(), 1)

	assert.ErrorIs(t, reg.Register("", ""), registry.ErrEmptyID)
	_, err = reg.Get("unknown")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestHeartbeatHistoryIsBounded(t *testing.T) {
	reg := registry.New()
	for range 15 {
		require.NoError(t, reg.Heartbeat("a", ""))
	}

	p, err := reg.Get("a")
	require.NoError(t, err)
	assert.Len(t, p.AliveHistory, 10)
}

func TestExpire(t *testing.T) {
	reg := newRegistry(t, "a", "b")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Heartbeat("b", ""))

	expired := reg.Expire(10 * time.Millisecond)
	assert.Equal(t, []string{"a"}, expired)

	sel, err := reg.Select(1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(sel))
}

func TestWaitAndSelect(t *testing.T) {
	t.Run("wakes when participants register", func(t *testing.T) {
		reg := newRegistry(t, "a")
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = reg.Register("b", "")
		}()

		sel, err := reg.WaitAndSelect(context.Background(), 2, 1, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(sel))
	})

	t.Run("times out", func(t *testing.T) {
		reg := newRegistry(t, "a")
		_, err := reg.WaitAndSelect(context.Background(), 2, 1, 30*time.Millisecond)
		assert.ErrorIs(t, err, registry.ErrInsufficientParticipants)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		reg := newRegistry(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := reg.WaitAndSelect(ctx, 1, 1, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
