// Package sourceconv rewrites Synthea export files into the pipeline's input
// formats. Output lands in an i2b2/ directory next to the source file.
package sourceconv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/schemadef"
	"github.com/clinepi/cdipipe/internal/sink"
)

const syntheaProvider = "SYNTHEA"

// ConvertObservations rewrites a Synthea observations.csv into a fact input
// file. Returns the output path.
func ConvertObservations(observationsPath string, delimiter rune) (string, error) {
	header := schemadef.For(domain.EntityFact).InputHeader
	return convert(observationsPath, "facts.csv", delimiter, header, func(row fields) []string {
		return []string{
			row.get("ENCOUNTER"),
			row.get("PATIENT"),
			row.get("CODE"),
			syntheaProvider,
			dateWithTime(row.get("DATE")),
			"@",
			"",
			row.get("VALUE"),
			row.get("UNITS"),
		}
	})
}

// ConvertEncounters rewrites a Synthea encounters.csv into an encounter input
// file.
func ConvertEncounters(encountersPath string, delimiter rune) (string, error) {
	header := schemadef.For(domain.EntityEncounter).InputHeader
	return convert(encountersPath, "encounters.csv", delimiter, header, func(row fields) []string {
		return []string{
			row.get("Id"),
			row.get("PATIENT"),
			isoToLayout(row.get("START")),
			isoToLayout(row.get("STOP")),
			row.get("ENCOUNTERCLASS"),
			row.get("DESCRIPTION"),
			row.get("CODE"),
		}
	})
}

// ConvertPatients rewrites a Synthea patients.csv into a patient input file.
// Identifying columns carry through here; the de-identifier strips them on
// load.
func ConvertPatients(patientsPath string, delimiter rune) (string, error) {
	header := schemadef.For(domain.EntityPatient).InputHeader
	return convert(patientsPath, "patients.csv", delimiter, header, func(row fields) []string {
		return []string{
			row.get("Id"),
			dateWithTime(row.get("BIRTHDATE")),
			dateWithTime(row.get("DEATHDATE")),
			row.get("GENDER"),
			row.get("RACE"),
			"",
			row.get("MARITAL"),
			strings.TrimSpace(row.get("FIRST") + " " + row.get("LAST")),
			row.get("ADDRESS"),
			row.get("CITY"),
			row.get("STATE"),
			row.get("ZIP"),
			"",
		}
	})
}

// ConvertMRNs extracts the patient identifier list from a Synthea
// patients.csv, one column named after the source system.
func ConvertMRNs(patientsPath string, delimiter rune) (string, error) {
	return convert(patientsPath, "mrn.csv", delimiter, []string{syntheaProvider}, func(row fields) []string {
		return []string{row.get("Id")}
	})
}

// fields is one source row keyed by its header names.
type fields struct {
	index map[string]int
	row   []string
}

func (f fields) get(name string) string {
	i, ok := f.index[name]
	if !ok || i >= len(f.row) {
		return ""
	}
	return strings.TrimSpace(f.row[i])
}

func convert(inputPath, outputName string, delimiter rune, header []string, project func(fields) []string) (string, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", inputPath, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	sourceHeader, err := r.Read()
	if err != nil {
		return "", fmt.Errorf("failed to read header of %s: %w", inputPath, err)
	}
	index := make(map[string]int, len(sourceHeader))
	for i, name := range sourceHeader {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = i
	}

	outputPath := filepath.Join(filepath.Dir(inputPath), "i2b2", outputName)
	out := sink.NewFileSink(outputPath, delimiter)
	if err := out.WriteHeader(header); err != nil {
		return "", err
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return "", fmt.Errorf("failed to read %s: %w", inputPath, err)
		}
		if err := out.WriteRow(project(fields{index: index, row: row})); err != nil {
			out.Close()
			return "", err
		}
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return outputPath, nil
}

// dateWithTime appends midnight to a date-only value; empty stays empty.
func dateWithTime(date string) string {
	if date == "" {
		return ""
	}
	if strings.Contains(date, ":") {
		return isoToLayout(date)
	}
	return date + " 00:00:00"
}

// isoToLayout strips the ISO-8601 markers Synthea emits.
func isoToLayout(ts string) string {
	return strings.TrimSuffix(strings.ReplaceAll(ts, "T", " "), "Z")
}
