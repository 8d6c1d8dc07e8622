package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/absmach/flcoord/round"
	"github.com/dgraph-io/badger/v4"
)

var (
	ErrDBConnection = errors.New("badger database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrDelete       = errors.New("delete error")
)

type RoundRepository interface {
	Append(ctx context.Context, r round.Round) error
	Recent(ctx context.Context, limit uint64) ([]round.Round, error)
	Get(ctx context.Context, number uint64) (round.Round, error)
	Summary(ctx context.Context) (round.Summary, error)
	LastRound(ctx context.Context) (uint64, error)
	Truncate(ctx context.Context, keep uint64) error
	Close() error
}

type Database struct {
	db *badger.DB
}

func NewDatabase(path string) (*Database, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// iterate walks values under prefix in key order, or reverse key order,
// until fn returns false.
func (d *Database) iterate(prefix []byte, reverse bool, fn func(key, val []byte) (bool, error)) error {
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			seek = append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, 9)...)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			more, err := fn(item.KeyCopy(nil), val)
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return nil
}
