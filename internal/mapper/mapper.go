// Package mapper assigns and caches surrogate numbers for natural patient
// and encounter identifiers. The cache fronts the durable mapping tables, so
// a run touches the database once per unseen identifier.
package mapper

import (
	"context"
	"fmt"
	"sync"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/repository"
)

// IdentifierMapper resolves natural identifiers to surrogate numbers.
type IdentifierMapper struct {
	repo         repository.MappingRepository
	sourceSystem string

	mu    sync.Mutex
	cache map[domain.EntityType]map[string]int64
}

func New(repo repository.MappingRepository, sourceSystem string) *IdentifierMapper {
	return &IdentifierMapper{
		repo:         repo,
		sourceSystem: sourceSystem,
		cache:        make(map[domain.EntityType]map[string]int64),
	}
}

// Warm preloads the cache for an entity type from the mapping table. Loading
// once up front turns resolution of already-known identifiers into a map hit.
func (m *IdentifierMapper) Warm(ctx context.Context, entity domain.EntityType) error {
	existing, err := m.repo.LoadAll(ctx, entity)
	if err != nil {
		return fmt.Errorf("warm %s cache: %w", entity, err)
	}

	m.mu.Lock()
	m.cache[entity] = existing
	m.mu.Unlock()
	return nil
}

// ResolvePatient returns the surrogate for a patient identifier, minting one
// if the identifier has never been seen. Resolving the same identifier twice
// returns the same surrogate.
func (m *IdentifierMapper) ResolvePatient(ctx context.Context, naturalID string) (int64, error) {
	return m.resolve(ctx, domain.EntityPatient, repository.NewMapping{
		NaturalID:    naturalID,
		SourceSystem: m.sourceSystem,
	})
}

// ResolveEncounter returns the surrogate for an encounter identifier. The
// owning patient's natural identifier is recorded alongside the mapping.
func (m *IdentifierMapper) ResolveEncounter(ctx context.Context, naturalID, patientID string) (int64, error) {
	return m.resolve(ctx, domain.EntityEncounter, repository.NewMapping{
		NaturalID:    naturalID,
		SourceSystem: m.sourceSystem,
		PatientID:    patientID,
	})
}

// Lookup reads the cache without touching the database. It reports false for
// identifiers that were never resolved this run or warmed from the table.
func (m *IdentifierMapper) Lookup(entity domain.EntityType, naturalID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.cache[entity]
	if !ok {
		return 0, false
	}
	num, ok := byID[naturalID]
	return num, ok
}

func (m *IdentifierMapper) resolve(ctx context.Context, entity domain.EntityType, mapping repository.NewMapping) (int64, error) {
	if mapping.NaturalID == "" {
		return 0, &domain.MappingError{Entity: entity, Op: "resolve",
			Err: fmt.Errorf("empty natural id")}
	}

	m.mu.Lock()
	if byID, ok := m.cache[entity]; ok {
		if num, ok := byID[mapping.NaturalID]; ok {
			m.mu.Unlock()
			return num, nil
		}
	}
	m.mu.Unlock()

	num, err := m.repo.Resolve(ctx, entity, mapping)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.cache[entity] == nil {
		m.cache[entity] = make(map[string]int64)
	}
	m.cache[entity][mapping.NaturalID] = num
	m.mu.Unlock()
	return num, nil
}
