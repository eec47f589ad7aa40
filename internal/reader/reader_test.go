package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/clinepi/cdipipe/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

const encounterHeader = "EncounterID,PatientID,StartDate,EndDate,ActivityTypeCD,ActivityStatusCD,ProgramCD\n"

func TestCSVSourceStreamsRecords(t *testing.T) {
	path := writeFile(t, "encounters.csv", encounterHeader+
		"V-1,MRN-1,2020-01-01 00:00:00,2020-01-02 00:00:00,INPATIENT,CLOSED,CARDIO\n"+
		"V-2,MRN-2,2020-02-01 00:00:00,,OUTPATIENT,OPEN,\n")

	src := NewCSVSource(path, domain.EntityEncounter, "DEMO", ',')

	var records []domain.SourceRecord
	err := src.Each(context.Background(), func(rec domain.SourceRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RowNumber != 2 || records[1].RowNumber != 3 {
		t.Errorf("row numbers = %d, %d; want 2, 3", records[0].RowNumber, records[1].RowNumber)
	}
	if got := records[0].Field("EncounterID"); got != "V-1" {
		t.Errorf("EncounterID = %q, want V-1", got)
	}
	if got := records[1].Field("EndDate"); got != "" {
		t.Errorf("empty EndDate read as %q", got)
	}
	if records[0].SourceSystem != "DEMO" {
		t.Errorf("source system = %q, want DEMO", records[0].SourceSystem)
	}
}

func TestCSVSourceRejectsWrongHeader(t *testing.T) {
	path := writeFile(t, "bad.csv", "Foo,Bar\nV-1,MRN-1\n")
	src := NewCSVSource(path, domain.EntityEncounter, "DEMO", ',')

	err := src.Each(context.Background(), func(domain.SourceRecord) error { return nil })
	if err == nil {
		t.Fatal("expected header validation error")
	}
}

func TestCSVSourceToleratesBOMAndSpaces(t *testing.T) {
	path := writeFile(t, "bom.csv", "\uFEFFEncounterID, PatientID ,StartDate,EndDate,ActivityTypeCD,ActivityStatusCD,ProgramCD\n"+
		"V-1,MRN-1,2020-01-01 00:00:00,,AMB,OPEN,\n")
	src := NewCSVSource(path, domain.EntityEncounter, "DEMO", ',')

	count := 0
	err := src.Each(context.Background(), func(domain.SourceRecord) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record, got %d", count)
	}
}

func TestCSVSourcePadsShortRows(t *testing.T) {
	path := writeFile(t, "short.csv", encounterHeader+"V-1,MRN-1\n")
	src := NewCSVSource(path, domain.EntityEncounter, "DEMO", ',')

	err := src.Each(context.Background(), func(rec domain.SourceRecord) error {
		if got := rec.Field("ProgramCD"); got != "" {
			t.Errorf("missing trailing column read as %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
}

func TestCSVSourceStopsOnHandlerError(t *testing.T) {
	path := writeFile(t, "stop.csv", encounterHeader+
		"V-1,MRN-1,,,,,\nV-2,MRN-2,,,,,\n")
	src := NewCSVSource(path, domain.EntityEncounter, "DEMO", ',')

	stop := errors.New("stop")
	count := 0
	err := src.Each(context.Background(), func(domain.SourceRecord) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected handler error back, got %v", err)
	}
	if count != 1 {
		t.Errorf("handler ran %d times after erroring, want 1", count)
	}
}

func TestOpenPicksSourceByExtension(t *testing.T) {
	if _, ok := Open("facts.xlsx", domain.EntityFact, "DEMO", ',').(*XLSXSource); !ok {
		t.Error("expected XLSXSource for .xlsx")
	}
	if _, ok := Open("facts.csv", domain.EntityFact, "DEMO", ',').(*CSVSource); !ok {
		t.Error("expected CSVSource for .csv")
	}
}
