// Package bulkcopy streams staged bulk files into warehouse tables with the
// PostgreSQL COPY protocol.
package bulkcopy

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinepi/cdipipe/internal/domain"
)

// Uploader loads one staged file into one table.
type Uploader interface {
	Upload(ctx context.Context, filePath, tableName string, delimiter rune) (int64, error)
}

// CopyUploader implements Uploader over a pgx pool.
type CopyUploader struct {
	pool *pgxpool.Pool
}

func NewCopyUploader(pool *pgxpool.Pool) *CopyUploader {
	return &CopyUploader{pool: pool}
}

// Upload copies every data row of the file into the table. The file's header
// names the destination columns; empty cells load as NULL. All rows go in one
// COPY, so a failure loads nothing.
func (u *CopyUploader) Upload(ctx context.Context, filePath, tableName string, delimiter rune) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, &domain.BcpUploadError{Table: tableName, File: filePath,
			Err: fmt.Errorf("open: %w", err)}
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = delimiter

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, &domain.BcpUploadError{Table: tableName, File: filePath,
			Err: fmt.Errorf("read header: %w", err)}
	}

	copied, err := u.pool.CopyFrom(ctx,
		pgx.Identifier{tableName}, header, &fileSource{reader: r, width: len(header)})
	if err != nil {
		return 0, &domain.BcpUploadError{Table: tableName, File: filePath, Err: err}
	}
	return copied, nil
}

// fileSource adapts the CSV reader to pgx.CopyFromSource.
type fileSource struct {
	reader *csv.Reader
	width  int
	row    []any
	err    error
}

func (s *fileSource) Next() bool {
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}
	if len(record) != s.width {
		s.err = fmt.Errorf("row has %d cells, header has %d", len(record), s.width)
		return false
	}

	s.row = make([]any, len(record))
	for i, cell := range record {
		if cell == "" {
			s.row[i] = nil
		} else {
			s.row[i] = cell
		}
	}
	return true
}

func (s *fileSource) Values() ([]any, error) {
	return s.row, nil
}

func (s *fileSource) Err() error {
	return s.err
}
