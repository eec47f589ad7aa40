// Package sink writes delimited rows to the intermediate files the bulk
// loader and the error reports consume.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// RowSink receives header-ordered rows one at a time.
type RowSink interface {
	WriteHeader(columns []string) error
	WriteRow(values []string) error
	Rows() int
	Close() error
}

// FileSink streams rows to a delimited file, header first. The file is
// created lazily on the first write so an all-clean run leaves no empty
// error file behind.
type FileSink struct {
	path      string
	delimiter rune
	header    []string

	file   *os.File
	writer *csv.Writer
	rows   int
}

func NewFileSink(path string, delimiter rune) *FileSink {
	return &FileSink{path: path, delimiter: delimiter}
}

func (s *FileSink) WriteHeader(columns []string) error {
	if s.header != nil {
		return fmt.Errorf("header already written to %s", s.path)
	}
	s.header = append([]string(nil), columns...)
	return nil
}

func (s *FileSink) WriteRow(values []string) error {
	if s.header == nil {
		return fmt.Errorf("row written before header to %s", s.path)
	}
	if len(values) != len(s.header) {
		return fmt.Errorf("row has %d values, header has %d columns", len(values), len(s.header))
	}
	if s.writer == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	if err := s.writer.Write(values); err != nil {
		return fmt.Errorf("failed to write row to %s: %w", s.path, err)
	}
	s.rows++
	return nil
}

func (s *FileSink) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", s.path, err)
	}
	s.file = file
	s.writer = csv.NewWriter(file)
	s.writer.Comma = s.delimiter
	if err := s.writer.Write(s.header); err != nil {
		return fmt.Errorf("failed to write header to %s: %w", s.path, err)
	}
	return nil
}

// Rows reports data rows written, header excluded.
func (s *FileSink) Rows() int {
	return s.rows
}

// Path returns the output file path.
func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) Close() error {
	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush %s: %w", s.path, err)
	}
	return s.file.Close()
}

// MemorySink collects rows in memory for tests.
type MemorySink struct {
	Header   []string
	Captured [][]string
	Closed   bool
}

func (s *MemorySink) WriteHeader(columns []string) error {
	s.Header = append([]string(nil), columns...)
	return nil
}

func (s *MemorySink) WriteRow(values []string) error {
	if len(values) != len(s.Header) {
		return fmt.Errorf("row has %d values, header has %d columns", len(values), len(s.Header))
	}
	s.Captured = append(s.Captured, append([]string(nil), values...))
	return nil
}

func (s *MemorySink) Rows() int {
	return len(s.Captured)
}

func (s *MemorySink) Close() error {
	s.Closed = true
	return nil
}
