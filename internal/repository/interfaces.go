package repository

import (
	"context"

	"github.com/clinepi/cdipipe/internal/domain"
)

// NewMapping describes a natural identifier that needs a surrogate number.
// PatientID is set for encounter mappings only (the encounter_mapping table
// carries the owning patient's natural id).
type NewMapping struct {
	NaturalID    string
	SourceSystem string
	PatientID    string
}

// MappingRepository persists surrogate-key mappings for patients and
// encounters. Resolve must be transactionally atomic with the existence
// check so concurrent resolutions of the same unseen natural id cannot mint
// two surrogate numbers.
type MappingRepository interface {
	// LoadAll returns every existing (natural_id -> surrogate_num) pair for
	// the entity type, keyed by natural id. Used to warm the in-memory cache
	// at the start of a run.
	LoadAll(ctx context.Context, entity domain.EntityType) (map[string]int64, error)

	// Resolve returns the surrogate number for the natural id, inserting a
	// new mapping with max(surrogate)+1 when none exists. Idempotent.
	Resolve(ctx context.Context, entity domain.EntityType, m NewMapping) (int64, error)

	// Assign records a mapping to an already-minted surrogate number, so the
	// same patient's identifiers from several source systems share one
	// surrogate. Assigning an identifier that is already mapped is a no-op.
	Assign(ctx context.Context, entity domain.EntityType, m NewMapping, num int64) error

	// DeleteBySource removes all mapping rows for one cohort (source system)
	// and returns the number of rows deleted. Deleting an absent cohort is a
	// no-op.
	DeleteBySource(ctx context.Context, entity domain.EntityType, sourceSystem string) (int64, error)
}

// WarehouseRepository issues cohort-scoped deletes against the star-schema
// target tables.
type WarehouseRepository interface {
	// DeleteBySource removes the entity's warehouse rows belonging to one
	// cohort and returns the number of rows deleted.
	DeleteBySource(ctx context.Context, entity domain.EntityType, sourceSystem string) (int64, error)
}

// LoadRunRepository persists per-entity run summaries.
type LoadRunRepository interface {
	Record(ctx context.Context, summary domain.RunSummary) error
	List(ctx context.Context, entity domain.EntityType, limit int) ([]domain.RunSummary, error)
}
