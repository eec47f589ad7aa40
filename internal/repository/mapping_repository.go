package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinepi/cdipipe/internal/domain"
)

// mappingRepository implements MappingRepository over pgxpool.
type mappingRepository struct {
	pool      *pgxpool.Pool
	projectID string
}

// NewMappingRepository wires a mapping repository backed by pgxpool.
func NewMappingRepository(pool *pgxpool.Pool, projectID string) MappingRepository {
	return &mappingRepository{pool: pool, projectID: projectID}
}

func (r *mappingRepository) LoadAll(ctx context.Context, entity domain.EntityType) (map[string]int64, error) {
	table := entity.MappingTable()
	if table == "" {
		return nil, &domain.MappingError{Entity: entity, Op: "load",
			Err: fmt.Errorf("entity has no mapping table")}
	}

	var query string
	switch entity {
	case domain.EntityPatient:
		query = `SELECT patient_ide, patient_num FROM patient_mapping`
	case domain.EntityEncounter:
		query = `SELECT encounter_ide, encounter_num FROM encounter_mapping`
	}

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, &domain.MappingError{Entity: entity, Op: "load", Err: err}
	}
	defer rows.Close()

	mapping := make(map[string]int64)
	for rows.Next() {
		var ide string
		var num int64
		if err := rows.Scan(&ide, &num); err != nil {
			return nil, &domain.MappingError{Entity: entity, Op: "scan", Err: err}
		}
		mapping[ide] = num
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.MappingError{Entity: entity, Op: "load", Err: err}
	}
	return mapping, nil
}

// Resolve runs the check-then-insert inside one transaction holding a table
// lock, so a concurrent resolver of the same unseen id blocks until the row
// is durable and then reads it instead of minting a second surrogate.
func (r *mappingRepository) Resolve(ctx context.Context, entity domain.EntityType, m NewMapping) (int64, error) {
	table := entity.MappingTable()
	if table == "" {
		return 0, &domain.MappingError{Entity: entity, Op: "resolve",
			Err: fmt.Errorf("entity has no mapping table")}
	}
	if m.NaturalID == "" {
		return 0, &domain.MappingError{Entity: entity, Op: "resolve",
			Err: fmt.Errorf("empty natural id")}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, &domain.MappingError{Entity: entity, Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf("LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE", table)); err != nil {
		return 0, &domain.MappingError{Entity: entity, Op: "lock", Err: err}
	}

	num, err := r.lookup(ctx, tx, entity, m)
	if err == nil {
		return num, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, &domain.MappingError{Entity: entity, Op: "lookup", Err: err}
	}

	num, err = r.insertNext(ctx, tx, entity, m)
	if err != nil {
		return 0, &domain.MappingError{Entity: entity, Op: "insert", Err: err}
	}

	// The insert is committed before the surrogate is handed downstream: a
	// crash after this point cannot lose the mapping.
	if err := tx.Commit(ctx); err != nil {
		return 0, &domain.MappingError{Entity: entity, Op: "commit", Err: err}
	}
	return num, nil
}

func (r *mappingRepository) lookup(ctx context.Context, tx pgx.Tx, entity domain.EntityType, m NewMapping) (int64, error) {
	var query string
	switch entity {
	case domain.EntityPatient:
		query = `SELECT patient_num FROM patient_mapping
		         WHERE patient_ide = $1 AND patient_ide_source = $2`
	case domain.EntityEncounter:
		query = `SELECT encounter_num FROM encounter_mapping
		         WHERE encounter_ide = $1 AND encounter_ide_source = $2`
	}

	var num int64
	err := tx.QueryRow(ctx, query, m.NaturalID, m.SourceSystem).Scan(&num)
	return num, err
}

func (r *mappingRepository) insertNext(ctx context.Context, tx pgx.Tx, entity domain.EntityType, m NewMapping) (int64, error) {
	var num int64
	switch entity {
	case domain.EntityPatient:
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(patient_num), 0) + 1 FROM patient_mapping`).Scan(&num); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO patient_mapping (patient_ide, patient_ide_source, patient_num, project_id)
			 VALUES ($1, $2, $3, $4)`,
			m.NaturalID, m.SourceSystem, num, r.projectID); err != nil {
			return 0, err
		}
	case domain.EntityEncounter:
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(encounter_num), 0) + 1 FROM encounter_mapping`).Scan(&num); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO encounter_mapping
			 (encounter_ide, encounter_ide_source, encounter_num, patient_ide, patient_ide_source, project_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			m.NaturalID, m.SourceSystem, num, m.PatientID, m.SourceSystem, r.projectID); err != nil {
			return 0, err
		}
	}
	return num, nil
}

func (r *mappingRepository) Assign(ctx context.Context, entity domain.EntityType, m NewMapping, num int64) error {
	if m.NaturalID == "" {
		return &domain.MappingError{Entity: entity, Op: "assign",
			Err: fmt.Errorf("empty natural id")}
	}

	var query string
	var args []any
	switch entity {
	case domain.EntityPatient:
		query = `INSERT INTO patient_mapping (patient_ide, patient_ide_source, patient_num, project_id)
		         VALUES ($1, $2, $3, $4)
		         ON CONFLICT (patient_ide, patient_ide_source) DO NOTHING`
		args = []any{m.NaturalID, m.SourceSystem, num, r.projectID}
	case domain.EntityEncounter:
		query = `INSERT INTO encounter_mapping
		         (encounter_ide, encounter_ide_source, encounter_num, patient_ide, patient_ide_source, project_id)
		         VALUES ($1, $2, $3, $4, $5, $6)
		         ON CONFLICT (encounter_ide, encounter_ide_source) DO NOTHING`
		args = []any{m.NaturalID, m.SourceSystem, num, m.PatientID, m.SourceSystem, r.projectID}
	default:
		return &domain.MappingError{Entity: entity, Op: "assign",
			Err: fmt.Errorf("entity has no mapping table")}
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return &domain.MappingError{Entity: entity, Op: "assign", Err: err}
	}
	return nil
}

func (r *mappingRepository) DeleteBySource(ctx context.Context, entity domain.EntityType, sourceSystem string) (int64, error) {
	var query string
	switch entity {
	case domain.EntityPatient:
		query = `DELETE FROM patient_mapping WHERE patient_ide_source = $1`
	case domain.EntityEncounter:
		query = `DELETE FROM encounter_mapping WHERE encounter_ide_source = $1`
	default:
		return 0, &domain.MappingError{Entity: entity, Op: "delete",
			Err: fmt.Errorf("entity has no mapping table")}
	}

	tag, err := r.pool.Exec(ctx, query, sourceSystem)
	if err != nil {
		return 0, &domain.DatabaseError{Op: "delete " + entity.MappingTable(), Err: err}
	}
	return tag.RowsAffected(), nil
}
