package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/absmach/flcoord/pkg/fl"
)

const (
	roundFilePattern = "model_round_%d.ckpt"
	activeFile       = "active"
)

// FSStore keeps checkpoints as files in a single directory. Every write goes
// to a temporary file that is synced and renamed into place.
type FSStore struct {
	dir string
	mu  sync.RWMutex
}

var _ Store = (*FSStore)(nil)

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Save(ctx context.Context, round uint64, params fl.ParameterSet) error {
	data, err := Marshal(newCheckpoint(round, params))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeAtomic(s.roundPath(round), data); err != nil {
		return fmt.Errorf("failed to write round checkpoint: %w", err)
	}
	if err := s.writeAtomic(filepath.Join(s.dir, activeFile), []byte(strconv.FormatUint(round, 10))); err != nil {
		return fmt.Errorf("failed to update active checkpoint: %w", err)
	}

	return nil
}

func (s *FSStore) LoadActive(ctx context.Context) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, ok, err := s.active()
	if err != nil {
		return Checkpoint{}, err
	}
	if !ok {
		return Checkpoint{}, ErrNoActiveModel
	}

	return s.load(round)
}

func (s *FSStore) Load(ctx context.Context, round uint64) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.load(round)
}

func (s *FSStore) List(ctx context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds, err := s.rounds()
	if err != nil {
		return nil, err
	}
	active, hasActive, err := s.active()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(rounds))
	for _, r := range rounds {
		fi, err := os.Stat(s.roundPath(r))
		if err != nil {
			return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
		}
		infos = append(infos, Info{
			Round:     r,
			CreatedAt: fi.ModTime().UTC(),
			Size:      int(fi.Size()),
			Active:    hasActive && r == active,
		})
	}

	return infos, nil
}

func (s *FSStore) Prune(ctx context.Context, keep int) error {
	if keep < 1 {
		return ErrInvalidKeep
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rounds, err := s.rounds()
	if err != nil {
		return err
	}
	active, hasActive, err := s.active()
	if err != nil {
		return err
	}
	for _, r := range pruneCandidates(rounds, active, hasActive, keep) {
		if err := os.Remove(s.roundPath(r)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove checkpoint: %w", err)
		}
	}

	return nil
}

func (s *FSStore) Revert(ctx context.Context, round uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rounds, err := s.rounds()
	if err != nil {
		return err
	}
	pointer := filepath.Join(s.dir, activeFile)
	if prev, ok := previousRound(rounds, round); ok {
		if err := s.writeAtomic(pointer, []byte(strconv.FormatUint(prev, 10))); err != nil {
			return fmt.Errorf("failed to update active checkpoint: %w", err)
		}
	} else if err := os.Remove(pointer); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear active checkpoint: %w", err)
	}
	if err := os.Remove(s.roundPath(round)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}

	return nil
}

func (s *FSStore) Close() error {
	return nil
}

func (s *FSStore) roundPath(round uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf(roundFilePattern, round))
}

func (s *FSStore) load(round uint64) (Checkpoint, error) {
	data, err := os.ReadFile(s.roundPath(round))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, ErrNotFound
		}

		return Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	return Unmarshal(data)
}

func (s *FSStore) active() (uint64, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, activeFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("failed to read active pointer: %w", err)
	}
	round, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: active pointer: %w", ErrCorrupt, err)
	}

	return round, true, nil
}

func (s *FSStore) rounds() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var rounds []uint64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ckpt") {
			continue
		}
		var round uint64
		if _, err := fmt.Sscanf(entry.Name(), roundFilePattern, &round); err == nil {
			rounds = append(rounds, round)
		}
	}
	slices.Sort(rounds)

	return rounds, nil
}

func (s *FSStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	dir, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	defer dir.Close()

	return dir.Sync()
}
