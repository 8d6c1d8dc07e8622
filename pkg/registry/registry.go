package registry

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"
)

const (
	aliveHistoryLimit = 10
	pollInterval      = 250 * time.Millisecond
)

var (
	ErrInsufficientParticipants = errors.New("insufficient available participants")
	ErrInvalidFraction          = errors.New("selection fraction must be within [0, 1]")
	ErrEmptyID                  = errors.New("participant id is empty")
	ErrNotFound                 = errors.New("participant not found")
)

type Participant struct {
	ID           string      `json:"id"`
	Endpoint     string      `json:"endpoint,omitempty"`
	Available    bool        `json:"available"`
	LastSeen     time.Time   `json:"last_seen"`
	RegisteredAt time.Time   `json:"registered_at"`
	AliveHistory []time.Time `json:"alive_history,omitempty"`
}

func (p *Participant) markAlive(now time.Time) {
	p.Available = true
	p.LastSeen = now
	p.AliveHistory = append(p.AliveHistory, now)
	if len(p.AliveHistory) > aliveHistoryLimit {
		p.AliveHistory = p.AliveHistory[1:]
	}
}

func (p Participant) clone() Participant {
	p.AliveHistory = slices.Clone(p.AliveHistory)

	return p
}

// Registry tracks which participants are reachable. Participants are never
// removed, only marked unavailable.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	changed      chan struct{}
	now          func() time.Time
}

func New() *Registry {
	return &Registry{
		participants: make(map[string]*Participant),
		changed:      make(chan struct{}),
		now:          time.Now,
	}
}

// Register marks the participant available, creating it if unknown. An
// empty endpoint keeps the previously known one.
func (r *Registry) Register(id, endpoint string) error {
	if id == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p, ok := r.participants[id]
	if !ok {
		p = &Participant{ID: id, RegisteredAt: now}
		r.participants[id] = p
	}
	if endpoint != "" {
		p.Endpoint = endpoint
	}
	p.markAlive(now)
	r.notify()

	return nil
}

func (r *Registry) Deregister(id string) error {
	if id == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return nil
	}
	p.Available = false
	r.notify()

	return nil
}

// Heartbeat refreshes liveness of a participant.
func (r *Registry) Heartbeat(id, endpoint string) error {
	return r.Register(id, endpoint)
}

// Expire marks unavailable every participant not seen within maxAge and
// returns their ids.
func (r *Registry) Expire(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	var expired []string
	for id, p := range r.participants {
		if p.Available && p.LastSeen.Before(cutoff) {
			p.Available = false
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		slices.Sort(expired)
		r.notify()
	}

	return expired
}

func (r *Registry) Get(id string) (Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return Participant{}, ErrNotFound
	}

	return p.clone(), nil
}

// List returns every known participant in ascending id order.
func (r *Registry) List() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b Participant) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return out
}

func (r *Registry) AvailableCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.participants {
		if p.Available {
			n++
		}
	}

	return n
}

// Select returns the first max(minAvailable, ceil(fraction*available))
// available participants in ascending id order.
func (r *Registry) Select(minAvailable int, fraction float64) ([]Participant, error) {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return nil, ErrInvalidFraction
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	available := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.Available {
			available = append(available, p.clone())
		}
	}
	if len(available) < minAvailable {
		return nil, ErrInsufficientParticipants
	}
	slices.SortFunc(available, func(a, b Participant) int {
		return cmp.Compare(a.ID, b.ID)
	})

	size := max(minAvailable, int(math.Ceil(fraction*float64(len(available)))))
	size = min(size, len(available))

	return available[:size], nil
}

// WaitAndSelect blocks until Select succeeds, the timeout elapses or ctx is
// done. On timeout it returns ErrInsufficientParticipants.
func (r *Registry) WaitAndSelect(ctx context.Context, minAvailable int, fraction float64, timeout time.Duration) ([]Participant, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		r.mu.RLock()
		changed := r.changed
		r.mu.RUnlock()

		selected, err := r.Select(minAvailable, fraction)
		if !errors.Is(err, ErrInsufficientParticipants) || timeout <= 0 {
			return selected, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrInsufficientParticipants
		case <-changed:
		case <-ticker.C:
		}
	}
}

// notify wakes waiters; callers hold the write lock.
func (r *Registry) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}
