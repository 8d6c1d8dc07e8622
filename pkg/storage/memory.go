package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/absmach/flcoord/pkg/errors"
	"github.com/absmach/flcoord/round"
)

type inMemoryStore struct {
	sync.RWMutex

	rounds []round.Round
}

// NewInMemoryStore returns a non-durable MetricsStore for tests.
func NewInMemoryStore() MetricsStore {
	return &inMemoryStore{}
}

func (s *inMemoryStore) Append(_ context.Context, r round.Round) error {
	if r.Number == 0 {
		return errors.ErrInvalidKey
	}

	s.Lock()
	defer s.Unlock()

	i, found := s.search(r.Number)
	if found {
		return errors.ErrEntityExists
	}
	s.rounds = slices.Insert(s.rounds, i, r.Clone())

	return nil
}

func (s *inMemoryStore) Recent(_ context.Context, limit uint64) ([]round.Round, error) {
	s.RLock()
	defer s.RUnlock()

	start := 0
	if uint64(len(s.rounds)) > limit {
		start = len(s.rounds) - int(limit)
	}
	out := make([]round.Round, 0, len(s.rounds)-start)
	for _, r := range s.rounds[start:] {
		out = append(out, r.Clone())
	}

	return out, nil
}

func (s *inMemoryStore) Get(_ context.Context, number uint64) (round.Round, error) {
	s.RLock()
	defer s.RUnlock()

	i, found := s.search(number)
	if !found {
		return round.Round{}, errors.ErrNotFound
	}

	return s.rounds[i].Clone(), nil
}

func (s *inMemoryStore) Summary(_ context.Context) (round.Summary, error) {
	s.RLock()
	defer s.RUnlock()

	return round.Summarize(s.rounds), nil
}

func (s *inMemoryStore) LastRound(_ context.Context) (uint64, error) {
	s.RLock()
	defer s.RUnlock()

	if len(s.rounds) == 0 {
		return 0, nil
	}

	return s.rounds[len(s.rounds)-1].Number, nil
}

func (s *inMemoryStore) Truncate(_ context.Context, keep uint64) error {
	if keep < round.MinRetention {
		return errors.ErrRetention
	}

	s.Lock()
	defer s.Unlock()

	if uint64(len(s.rounds)) > keep {
		s.rounds = slices.Clone(s.rounds[len(s.rounds)-int(keep):])
	}

	return nil
}

func (s *inMemoryStore) Close() error {
	return nil
}

func (s *inMemoryStore) search(number uint64) (int, bool) {
	return slices.BinarySearchFunc(s.rounds, number, func(r round.Round, n uint64) int {
		return cmp.Compare(r.Number, n)
	})
}
