package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/absmach/flcoord/pkg/storage/badger"
	"github.com/absmach/flcoord/pkg/storage/postgres"
	"github.com/absmach/flcoord/pkg/storage/sqlite"
)

type Config struct {
	Type string `env:"FLCOORD_METRICS_STORE" envDefault:"sqlite"`

	PostgresHost    string `env:"FLCOORD_POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"FLCOORD_POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"FLCOORD_POSTGRES_USER"    envDefault:"flcoord"`
	PostgresPass    string `env:"FLCOORD_POSTGRES_PASS"    envDefault:"flcoord"`
	PostgresDB      string `env:"FLCOORD_POSTGRES_DB"      envDefault:"flcoord"`
	PostgresSSLMode string `env:"FLCOORD_POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"FLCOORD_SQLITE_PATH" envDefault:"./data/metrics.db"`

	BadgerPath string `env:"FLCOORD_METRICS_BADGER_PATH" envDefault:"./data/metrics-badger"`
}

func New(cfg Config) (MetricsStore, error) {
	switch cfg.Type {
	case "postgres":
		db, err := postgres.NewDatabase(
			cfg.PostgresHost,
			cfg.PostgresPort,
			cfg.PostgresUser,
			cfg.PostgresPass,
			cfg.PostgresDB,
			cfg.PostgresSSLMode,
		)
		if err != nil {
			return nil, err
		}

		return postgres.NewRoundRepository(db), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		db, err := sqlite.NewDatabase(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}

		return sqlite.NewRoundRepository(db), nil
	case "badger":
		db, err := badger.NewDatabase(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}

		return badger.NewRoundRepository(db), nil
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Type)
	}
}
