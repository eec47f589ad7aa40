package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinepi/cdipipe/internal/domain"
)

// loadRunRepository persists per-run summaries to the load_run table.
type loadRunRepository struct {
	pool *pgxpool.Pool
}

func NewLoadRunRepository(pool *pgxpool.Pool) LoadRunRepository {
	return &loadRunRepository{pool: pool}
}

func (r *loadRunRepository) Record(ctx context.Context, summary domain.RunSummary) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO load_run
		  (id, entity_type, source_file, rows_read, rows_ok, rows_rejected,
		   rows_mapped, rows_loaded, status, fatal_error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		summary.ID, string(summary.Entity), summary.SourceFile,
		summary.Read, summary.Ok, summary.Rejected,
		summary.Mapped, summary.Loaded,
		string(summary.Status), nullString(summary.FatalError),
		summary.StartedAt, summary.FinishedAt)
	if err != nil {
		return &domain.DatabaseError{Op: "record load_run", Err: err}
	}
	return nil
}

func (r *loadRunRepository) List(ctx context.Context, entity domain.EntityType, limit int) ([]domain.RunSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entity_type, source_file, rows_read, rows_ok, rows_rejected,
		       rows_mapped, rows_loaded, status, fatal_error, started_at, finished_at
		FROM load_run
		WHERE entity_type = $1
		ORDER BY started_at DESC
		LIMIT $2`, string(entity), limit)
	if err != nil {
		return nil, &domain.DatabaseError{Op: "list load_run", Err: err}
	}
	defer rows.Close()

	var summaries []domain.RunSummary
	for rows.Next() {
		var s domain.RunSummary
		var entityType, status string
		var fatal pgtype.Text
		var finished pgtype.Timestamptz
		if err := rows.Scan(&s.ID, &entityType, &s.SourceFile,
			&s.Read, &s.Ok, &s.Rejected, &s.Mapped, &s.Loaded,
			&status, &fatal, &s.StartedAt, &finished); err != nil {
			return nil, &domain.DatabaseError{Op: "scan load_run", Err: err}
		}
		s.Entity = domain.EntityType(entityType)
		s.Status = domain.RunStatus(status)
		if fatal.Valid {
			s.FatalError = fatal.String
		}
		if finished.Valid {
			s.FinishedAt = finished.Time
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.DatabaseError{Op: "list load_run", Err: err}
	}
	return summaries, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
