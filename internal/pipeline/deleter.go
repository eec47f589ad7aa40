package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/repository"
)

// Deleter removes one cohort from the warehouse. Deletion runs in dependency
// order so a failure partway leaves no dangling references: facts first, then
// the mapping and dimension rows they pointed at, concepts last.
type Deleter struct {
	mappings  repository.MappingRepository
	warehouse repository.WarehouseRepository
	log       zerolog.Logger
}

func NewDeleter(mappings repository.MappingRepository, warehouse repository.WarehouseRepository, log zerolog.Logger) *Deleter {
	return &Deleter{mappings: mappings, warehouse: warehouse, log: log}
}

// DeleteCohort removes every row the named source system loaded. It is
// idempotent: deleting an absent cohort succeeds with zero counts.
func (d *Deleter) DeleteCohort(ctx context.Context, sourceSystem string) (map[string]int64, error) {
	counts := make(map[string]int64)

	steps := []struct {
		table string
		fn    func(context.Context) (int64, error)
	}{
		{domain.EntityFact.TargetTable(), func(ctx context.Context) (int64, error) {
			return d.warehouse.DeleteBySource(ctx, domain.EntityFact, sourceSystem)
		}},
		{domain.EntityEncounter.MappingTable(), func(ctx context.Context) (int64, error) {
			return d.mappings.DeleteBySource(ctx, domain.EntityEncounter, sourceSystem)
		}},
		{domain.EntityEncounter.TargetTable(), func(ctx context.Context) (int64, error) {
			return d.warehouse.DeleteBySource(ctx, domain.EntityEncounter, sourceSystem)
		}},
		{domain.EntityPatient.MappingTable(), func(ctx context.Context) (int64, error) {
			return d.mappings.DeleteBySource(ctx, domain.EntityPatient, sourceSystem)
		}},
		{domain.EntityPatient.TargetTable(), func(ctx context.Context) (int64, error) {
			return d.warehouse.DeleteBySource(ctx, domain.EntityPatient, sourceSystem)
		}},
		{domain.EntityConcept.TargetTable(), func(ctx context.Context) (int64, error) {
			return d.warehouse.DeleteBySource(ctx, domain.EntityConcept, sourceSystem)
		}},
	}

	for _, step := range steps {
		deleted, err := step.fn(ctx)
		if err != nil {
			return counts, err
		}
		counts[step.table] = deleted
		d.log.Info().
			Str("table", step.table).
			Str("source_system", sourceSystem).
			Int64("deleted", deleted).
			Msg("cohort rows removed")
	}
	return counts, nil
}
