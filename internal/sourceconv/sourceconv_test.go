package sourceconv

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestConvertObservations(t *testing.T) {
	src := writeSource(t, "observations.csv",
		"DATE,PATIENT,ENCOUNTER,CODE,DESCRIPTION,VALUE,UNITS,TYPE\n"+
			"2020-04-01,p-1,e-1,8302-2,Body Height,170.2,cm,numeric\n")

	out, err := ConvertObservations(src, ',')
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if filepath.Base(filepath.Dir(out)) != "i2b2" {
		t.Errorf("output %s not under an i2b2 directory", out)
	}

	records := readAll(t, out)
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(records))
	}
	row := records[1]
	want := []string{"e-1", "p-1", "8302-2", "SYNTHEA", "2020-04-01 00:00:00", "@", "", "170.2", "cm"}
	for i, w := range want {
		if row[i] != w {
			t.Errorf("column %d = %q, want %q", i, row[i], w)
		}
	}
}

func TestConvertEncountersStripsISOMarkers(t *testing.T) {
	src := writeSource(t, "encounters.csv",
		"Id,START,STOP,PATIENT,ENCOUNTERCLASS,CODE,DESCRIPTION\n"+
			"e-1,2020-04-01T08:30:00Z,2020-04-01T09:00:00Z,p-1,ambulatory,185349003,Encounter for check up\n")

	out, err := ConvertEncounters(src, ',')
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	records := readAll(t, out)
	row := records[1]
	if row[2] != "2020-04-01 08:30:00" {
		t.Errorf("StartDate = %q", row[2])
	}
	if row[3] != "2020-04-01 09:00:00" {
		t.Errorf("EndDate = %q", row[3])
	}
	if row[4] != "ambulatory" || row[5] != "Encounter for check up" || row[6] != "185349003" {
		t.Errorf("coded columns = %v", row[4:])
	}
}

func TestConvertPatients(t *testing.T) {
	src := writeSource(t, "patients.csv",
		"Id,BIRTHDATE,DEATHDATE,FIRST,LAST,MARITAL,RACE,GENDER,ADDRESS,CITY,STATE,ZIP\n"+
			"p-1,1980-06-15,,Jane,Doe,M,white,F,1 Main St,Boston,MA,02115\n")

	out, err := ConvertPatients(src, ',')
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	row := readAll(t, out)[1]
	if row[0] != "p-1" {
		t.Errorf("PatientID = %q", row[0])
	}
	if row[1] != "1980-06-15 00:00:00" {
		t.Errorf("BirthDate = %q", row[1])
	}
	if row[2] != "" {
		t.Errorf("DeathDate = %q, want empty", row[2])
	}
	if row[7] != "Jane Doe" {
		t.Errorf("Name = %q", row[7])
	}
}

func TestConvertMRNs(t *testing.T) {
	src := writeSource(t, "patients.csv", "Id,BIRTHDATE\np-1,1980-06-15\np-2,1990-01-01\n")

	out, err := ConvertMRNs(src, ',')
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	records := readAll(t, out)
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[0][0] != "SYNTHEA" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][0] != "p-1" || records[2][0] != "p-2" {
		t.Errorf("rows = %v", records[1:])
	}
}

func TestConvertMissingFileFails(t *testing.T) {
	if _, err := ConvertObservations(filepath.Join(t.TempDir(), "absent.csv"), ','); err == nil {
		t.Fatal("expected error for missing input")
	}
}
