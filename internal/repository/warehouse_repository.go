package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinepi/cdipipe/internal/domain"
)

// warehouseRepository deletes cohort rows from the dimension and fact tables.
type warehouseRepository struct {
	pool *pgxpool.Pool
}

func NewWarehouseRepository(pool *pgxpool.Pool) WarehouseRepository {
	return &warehouseRepository{pool: pool}
}

func (r *warehouseRepository) DeleteBySource(ctx context.Context, entity domain.EntityType, sourceSystem string) (int64, error) {
	var query string
	switch entity {
	case domain.EntityPatient:
		query = `DELETE FROM patient_dimension WHERE sourcesystem_cd = $1`
	case domain.EntityEncounter:
		query = `DELETE FROM visit_dimension WHERE sourcesystem_cd = $1`
	case domain.EntityFact:
		query = `DELETE FROM observation_fact WHERE sourcesystem_cd = $1`
	case domain.EntityConcept:
		query = `DELETE FROM concept_dimension WHERE sourcesystem_cd = $1`
	}

	tag, err := r.pool.Exec(ctx, query, sourceSystem)
	if err != nil {
		return 0, &domain.DatabaseError{Op: "delete " + entity.TargetTable(), Err: err}
	}
	return tag.RowsAffected(), nil
}
