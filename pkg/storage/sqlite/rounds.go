package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/flcoord/pkg/errors"
	"github.com/absmach/flcoord/round"
)

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) RoundRepository {
	return &roundRepo{db: db}
}

type dbSummary struct {
	Total     uint64          `db:"total"`
	Completed uint64          `db:"completed"`
	Failed    uint64          `db:"failed"`
	AvgLoss   sql.NullFloat64 `db:"avg_loss"`
	MinLoss   sql.NullFloat64 `db:"min_loss"`
	MaxLoss   sql.NullFloat64 `db:"max_loss"`
}

type dbLatest struct {
	Number uint64          `db:"number"`
	Loss   sql.NullFloat64 `db:"loss"`
}

func (r *roundRepo) Append(ctx context.Context, rd round.Round) error {
	if rd.Number == 0 {
		return pkgerrors.ErrInvalidKey
	}

	record, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	var loss sql.NullFloat64
	if v, ok := rd.Loss(); ok {
		loss = sql.NullFloat64{Float64: v, Valid: true}
	}
	var endedAt sql.NullTime
	if !rd.EndedAt.IsZero() {
		endedAt = sql.NullTime{Time: rd.EndedAt, Valid: true}
	}

	query := `INSERT INTO rounds (number, session_id, status, loss, started_at, ended_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		rd.Number, rd.SessionID, string(rd.Status), loss, rd.StartedAt, endedAt, record,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}
	if n == 0 {
		return pkgerrors.ErrEntityExists
	}

	return nil
}

func (r *roundRepo) Recent(ctx context.Context, limit uint64) ([]round.Round, error) {
	query := `SELECT record FROM (
			SELECT number, record FROM rounds ORDER BY number DESC LIMIT ?
		) AS recent ORDER BY number ASC`

	var records [][]byte
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	rounds := make([]round.Round, 0, len(records))
	for _, rec := range records {
		var rd round.Round
		if err := json.Unmarshal(rec, &rd); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDBScan, err)
		}
		rounds = append(rounds, rd)
	}

	return rounds, nil
}

func (r *roundRepo) Get(ctx context.Context, number uint64) (round.Round, error) {
	var record []byte
	if err := r.db.GetContext(ctx, &record, `SELECT record FROM rounds WHERE number = ?`, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.Round{}, pkgerrors.ErrNotFound
		}

		return round.Round{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var rd round.Round
	if err := json.Unmarshal(record, &rd); err != nil {
		return round.Round{}, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	return rd, nil
}

func (r *roundRepo) Summary(ctx context.Context) (round.Summary, error) {
	query := `SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			AVG(CASE WHEN status = 'completed' THEN loss END) AS avg_loss,
			MIN(CASE WHEN status = 'completed' THEN loss END) AS min_loss,
			MAX(CASE WHEN status = 'completed' THEN loss END) AS max_loss
		FROM rounds`

	var dbs dbSummary
	if err := r.db.GetContext(ctx, &dbs, query); err != nil {
		return round.Summary{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	s := round.Summary{
		TotalRounds:     dbs.Total,
		CompletedRounds: dbs.Completed,
		FailedRounds:    dbs.Failed,
		AverageLoss:     nullFloat(dbs.AvgLoss),
		MinLoss:         nullFloat(dbs.MinLoss),
		MaxLoss:         nullFloat(dbs.MaxLoss),
	}

	var latest dbLatest
	err := r.db.GetContext(ctx, &latest, `SELECT number, loss FROM rounds WHERE status = 'completed' ORDER BY number DESC LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return round.Summary{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	default:
		s.LatestRound = latest.Number
		s.LatestLoss = nullFloat(latest.Loss)
	}

	return s, nil
}

func (r *roundRepo) LastRound(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := r.db.GetContext(ctx, &last, `SELECT MAX(number) FROM rounds`); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return uint64(last.Int64), nil
}

func (r *roundRepo) Truncate(ctx context.Context, keep uint64) error {
	if keep < round.MinRetention {
		return pkgerrors.ErrRetention
	}

	query := `DELETE FROM rounds WHERE number NOT IN (
			SELECT number FROM rounds ORDER BY number DESC LIMIT ?
		)`
	if _, err := r.db.ExecContext(ctx, query, keep); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return nil
}

func (r *roundRepo) Close() error {
	return r.db.Close()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64

	return &f
}
