package checkpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/dgraph-io/badger/v4"
)

var (
	roundPrefix = []byte("ckpt:round:")
	activeKey   = []byte("ckpt:active")
)

// BadgerStore writes the round checkpoint and the active pointer in one
// transaction.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func roundKey(round uint64) []byte {
	key := make([]byte, len(roundPrefix)+8)
	copy(key, roundPrefix)
	binary.BigEndian.PutUint64(key[len(roundPrefix):], round)

	return key
}

func (s *BadgerStore) Save(ctx context.Context, round uint64, params fl.ParameterSet) error {
	data, err := Marshal(newCheckpoint(round, params))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pointer := make([]byte, 8)
	binary.BigEndian.PutUint64(pointer, round)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(roundKey(round), data); err != nil {
			return err
		}

		return txn.Set(activeKey, pointer)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

func (s *BadgerStore) LoadActive(ctx context.Context) (Checkpoint, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey)
		if err != nil {
			return err
		}
		pointer, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(pointer) != 8 {
			return ErrCorrupt
		}
		item, err = txn.Get(roundKey(binary.BigEndian.Uint64(pointer)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Checkpoint{}, ErrNoActiveModel
		}

		return Checkpoint{}, fmt.Errorf("failed to load active checkpoint: %w", err)
	}

	return Unmarshal(data)
}

func (s *BadgerStore) Load(ctx context.Context, round uint64) (Checkpoint, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roundKey(round))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Checkpoint{}, ErrNotFound
		}

		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return Unmarshal(data)
}

func (s *BadgerStore) List(ctx context.Context) ([]Info, error) {
	var infos []Info
	err := s.db.View(func(txn *badger.Txn) error {
		active, hasActive, err := s.activeRound(txn)
		if err != nil {
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(roundPrefix); it.ValidForPrefix(roundPrefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			c, err := Unmarshal(val)
			if err != nil {
				return err
			}
			infos = append(infos, Info{
				Round:     c.Round,
				CreatedAt: c.CreatedAt,
				Size:      len(val),
				Active:    hasActive && c.Round == active,
			})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	return infos, nil
}

func (s *BadgerStore) Prune(ctx context.Context, keep int) error {
	if keep < 1 {
		return ErrInvalidKeep
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		active, hasActive, err := s.activeRound(txn)
		if err != nil {
			return err
		}
		rounds := storedRounds(txn)

		for _, r := range pruneCandidates(rounds, active, hasActive, keep) {
			if err := txn.Delete(roundKey(r)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	return nil
}

func (s *BadgerStore) Revert(ctx context.Context, round uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if prev, ok := previousRound(storedRounds(txn), round); ok {
			pointer := make([]byte, 8)
			binary.BigEndian.PutUint64(pointer, prev)
			if err := txn.Set(activeKey, pointer); err != nil {
				return err
			}
		} else if err := txn.Delete(activeKey); err != nil {
			return err
		}

		return txn.Delete(roundKey(round))
	})
	if err != nil {
		return fmt.Errorf("failed to revert checkpoint: %w", err)
	}

	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func storedRounds(txn *badger.Txn) []uint64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var rounds []uint64
	for it.Seek(roundPrefix); it.ValidForPrefix(roundPrefix); it.Next() {
		key := it.Item().Key()
		rounds = append(rounds, binary.BigEndian.Uint64(key[len(roundPrefix):]))
	}

	return rounds
}

func (s *BadgerStore) activeRound(txn *badger.Txn) (uint64, bool, error) {
	item, err := txn.Get(activeKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, false, nil
		}

		return 0, false, err
	}
	pointer, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	if len(pointer) != 8 {
		return 0, false, ErrCorrupt
	}

	return binary.BigEndian.Uint64(pointer), true, nil
}
