package mapper

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/repository"
)

// LoadMRNs maps a multi-source patient identifier file. The header names one
// source system per column; every identifier on a row belongs to the same
// patient and resolves to one shared surrogate number. The first non-empty
// identifier on a row mints (or finds) the surrogate, the rest are assigned
// to it. Returns the number of rows mapped.
func (m *IdentifierMapper) LoadMRNs(ctx context.Context, path string, delimiter rune) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = delimiter
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%s: file is empty", path)
		}
		return 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	sources := make([]string, len(header))
	for i, name := range header {
		sources[i] = strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))
		if sources[i] == "" {
			return 0, fmt.Errorf("%s: column %d has no source system name", path, i+1)
		}
	}

	rows := 0
	rowNum := 1
	for {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("failed to read %s row %d: %w", path, rowNum+1, err)
		}
		rowNum++

		mapped, err := m.mapRow(ctx, sources, row)
		if err != nil {
			return rows, fmt.Errorf("row %d: %w", rowNum, err)
		}
		if mapped {
			rows++
		}
	}
}

func (m *IdentifierMapper) mapRow(ctx context.Context, sources []string, row []string) (bool, error) {
	first := -1
	for i := range sources {
		if i < len(row) && strings.TrimSpace(row[i]) != "" {
			first = i
			break
		}
	}
	if first == -1 {
		// Blank line; nothing to map.
		return false, nil
	}

	primary := strings.TrimSpace(row[first])
	num, err := m.repo.Resolve(ctx, domain.EntityPatient, repository.NewMapping{
		NaturalID:    primary,
		SourceSystem: sources[first],
	})
	if err != nil {
		return false, err
	}
	m.remember(domain.EntityPatient, primary, num)

	for i := first + 1; i < len(sources) && i < len(row); i++ {
		id := strings.TrimSpace(row[i])
		if id == "" {
			continue
		}
		if err := m.repo.Assign(ctx, domain.EntityPatient, repository.NewMapping{
			NaturalID:    id,
			SourceSystem: sources[i],
		}, num); err != nil {
			return false, err
		}
		m.remember(domain.EntityPatient, id, num)
	}
	return true, nil
}

func (m *IdentifierMapper) remember(entity domain.EntityType, naturalID string, num int64) {
	m.mu.Lock()
	if m.cache[entity] == nil {
		m.cache[entity] = make(map[string]int64)
	}
	m.cache[entity][naturalID] = num
	m.mu.Unlock()
}
