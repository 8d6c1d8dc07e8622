package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	pkgerrors "github.com/absmach/flcoord/pkg/errors"
	"github.com/absmach/flcoord/round"
	"github.com/dgraph-io/badger/v4"
)

var roundPrefix = []byte("round:")

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) RoundRepository {
	return &roundRepo{db: db}
}

// Round numbers are big-endian so key order matches round order.
func roundKey(number uint64) []byte {
	key := make([]byte, len(roundPrefix)+8)
	copy(key, roundPrefix)
	binary.BigEndian.PutUint64(key[len(roundPrefix):], number)

	return key
}

func (r *roundRepo) Append(ctx context.Context, rd round.Round) error {
	if rd.Number == 0 {
		return pkgerrors.ErrInvalidKey
	}

	val, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	key := roundKey(rd.Number)
	err = r.db.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return pkgerrors.ErrEntityExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return txn.Set(key, val)
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrEntityExists) {
			return err
		}

		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *roundRepo) Recent(ctx context.Context, limit uint64) ([]round.Round, error) {
	var rounds []round.Round
	if limit == 0 {
		return rounds, nil
	}
	err := r.db.iterate(roundPrefix, true, func(_, val []byte) (bool, error) {
		var rd round.Round
		if err := json.Unmarshal(val, &rd); err != nil {
			return false, err
		}
		rounds = append(rounds, rd)

		return uint64(len(rounds)) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(rounds)

	return rounds, nil
}

func (r *roundRepo) Get(ctx context.Context, number uint64) (round.Round, error) {
	var val []byte
	err := r.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roundKey(number))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return round.Round{}, pkgerrors.ErrNotFound
		}

		return round.Round{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var rd round.Round
	if err := json.Unmarshal(val, &rd); err != nil {
		return round.Round{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return rd, nil
}

func (r *roundRepo) Summary(ctx context.Context) (round.Summary, error) {
	var rounds []round.Round
	err := r.db.iterate(roundPrefix, false, func(_, val []byte) (bool, error) {
		var rd round.Round
		if err := json.Unmarshal(val, &rd); err != nil {
			return false, err
		}
		rounds = append(rounds, rd)

		return true, nil
	})
	if err != nil {
		return round.Summary{}, err
	}

	return round.Summarize(rounds), nil
}

func (r *roundRepo) LastRound(ctx context.Context) (uint64, error) {
	var last uint64
	err := r.db.iterate(roundPrefix, true, func(key, _ []byte) (bool, error) {
		last = binary.BigEndian.Uint64(key[len(roundPrefix):])

		return false, nil
	})
	if err != nil {
		return 0, err
	}

	return last, nil
}

func (r *roundRepo) Truncate(ctx context.Context, keep uint64) error {
	if keep < round.MinRetention {
		return pkgerrors.ErrRetention
	}

	var stale [][]byte
	seen := uint64(0)
	err := r.db.iterate(roundPrefix, true, func(key, _ []byte) (bool, error) {
		seen++
		if seen > keep {
			stale = append(stale, key)
		}

		return true, nil
	})
	if err != nil {
		return err
	}

	wb := r.db.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("%w: %w", ErrDelete, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return nil
}

func (r *roundRepo) Close() error {
	return r.db.Close()
}
