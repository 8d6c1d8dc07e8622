package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/flcoord/round"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrDBScan       = errors.New("database scan error")
	ErrCreate       = errors.New("create error")
	ErrDelete       = errors.New("delete error")
	ErrMigration    = errors.New("database migration error")
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
	*sqlx.DB
}

func NewDatabase(host, port, user, pass, name, sslMode string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, sslMode)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_rounds",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS rounds (
						number BIGINT PRIMARY KEY,
						session_id VARCHAR(64),
						status VARCHAR(16) NOT NULL,
						loss DOUBLE PRECISION,
						started_at TIMESTAMPTZ NOT NULL,
						ended_at TIMESTAMPTZ,
						record JSONB NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(status)`,
				},
				Down: []string{
					`DROP INDEX IF EXISTS idx_rounds_status`,
					`DROP TABLE IF EXISTS rounds`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "postgres", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}
