// Package reader turns delimited and spreadsheet source files into
// SourceRecord streams with the header validated up front.
package reader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/schemadef"
)

// RowSource streams source records to a handler. Implementations validate
// the file header before delivering the first record and stop when the
// handler returns an error or the context is cancelled.
type RowSource interface {
	Each(ctx context.Context, fn func(domain.SourceRecord) error) error
}

// Open picks a source by file extension: .xlsx gets the spreadsheet reader,
// everything else is treated as delimited text.
func Open(path string, entity domain.EntityType, sourceSystem string, delimiter rune) RowSource {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return NewXLSXSource(path, entity, sourceSystem)
	}
	return NewCSVSource(path, entity, sourceSystem, delimiter)
}

// CSVSource reads a delimited text file.
type CSVSource struct {
	path         string
	entity       domain.EntityType
	sourceSystem string
	delimiter    rune
}

func NewCSVSource(path string, entity domain.EntityType, sourceSystem string, delimiter rune) *CSVSource {
	return &CSVSource{path: path, entity: entity, sourceSystem: sourceSystem, delimiter: delimiter}
}

func (s *CSVSource) Each(ctx context.Context, fn func(domain.SourceRecord) error) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = s.delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	schema := schemadef.For(s.entity)

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: file is empty", s.path)
		}
		return fmt.Errorf("failed to read header of %s: %w", s.path, err)
	}
	if err := schema.ValidateHeader(header); err != nil {
		return err
	}

	rowNum := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s row %d: %w", s.path, rowNum+1, err)
		}
		rowNum++
		if err := fn(toRecord(schema, s.entity, s.sourceSystem, rowNum, row)); err != nil {
			return err
		}
	}
}

// XLSXSource reads the first sheet of a spreadsheet.
type XLSXSource struct {
	path         string
	entity       domain.EntityType
	sourceSystem string
}

func NewXLSXSource(path string, entity domain.EntityType, sourceSystem string) *XLSXSource {
	return &XLSXSource{path: path, entity: entity, sourceSystem: sourceSystem}
}

func (s *XLSXSource) Each(ctx context.Context, fn func(domain.SourceRecord) error) error {
	book, err := openWorkbook(s.path)
	if err != nil {
		return err
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("%s: workbook has no sheets", s.path)
	}

	rows, err := book.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("failed to read sheet %q of %s: %w", sheets[0], s.path, err)
	}
	defer rows.Close()

	schema := schemadef.For(s.entity)

	if !rows.Next() {
		return fmt.Errorf("%s: sheet %q is empty", s.path, sheets[0])
	}
	header, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", s.path, err)
	}
	if err := schema.ValidateHeader(header); err != nil {
		return err
	}

	rowNum := 1
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("failed to read %s row %d: %w", s.path, rowNum+1, err)
		}
		rowNum++
		if err := fn(toRecord(schema, s.entity, s.sourceSystem, rowNum, row)); err != nil {
			return err
		}
	}
	return rows.Error()
}

// toRecord maps a positional row onto the schema's column names. Short rows
// leave trailing columns empty; extra cells are dropped.
func toRecord(schema schemadef.Schema, entity domain.EntityType, sourceSystem string, rowNum int, row []string) domain.SourceRecord {
	values := make(map[string]string, len(schema.InputHeader))
	for i, name := range schema.InputHeader {
		if i < len(row) {
			values[name] = strings.TrimSpace(row[i])
		} else {
			values[name] = ""
		}
	}
	return domain.SourceRecord{
		Entity:       entity,
		RowNumber:    rowNum,
		SourceSystem: sourceSystem,
		Values:       values,
	}
}
