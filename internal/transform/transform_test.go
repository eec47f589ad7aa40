package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/schemadef"
)

const layout = "2006-01-02 15:04:05"

func fixedNow(t *Transformer) {
	t.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
}

func col(t *testing.T, tr *Transformer, row []string, name string) string {
	t.Helper()
	for i, c := range tr.Header() {
		if c == name {
			return row[i]
		}
	}
	t.Fatalf("column %s not in header", name)
	return ""
}

func factRecord(value string) domain.DeidentifiedRecord {
	return domain.DeidentifiedRecord{
		Entity: domain.EntityFact, RowNumber: 2,
		Values: map[string]string{
			"EncounterID": "11", "PatientID": "7", "ConceptCD": "LOINC:1234-5",
			"ProviderID": "", "StartDate": "2020-01-05 00:00:00",
			"ModifierCD": "", "InstanceNum": "", "value": value, "UnitCD": "mg/dL",
		},
	}
}

func TestFactNumericValueTyping(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "1", layout, 10)
	fixedNow(tr)

	row, reasons := tr.Transform(factRecord("98.6"), 1)
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if got := col(t, tr, row, "valtype_cd"); got != "N" {
		t.Errorf("valtype_cd = %q, want N", got)
	}
	if got := col(t, tr, row, "tval_char"); got != "E" {
		t.Errorf("tval_char = %q, want E", got)
	}
	if got := col(t, tr, row, "nval_num"); got != "98.6" {
		t.Errorf("nval_num = %q, want 98.6", got)
	}
}

func TestFactNumericValueHonorsPrecision(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "1", layout, 3)
	fixedNow(tr)

	row, reasons := tr.Transform(factRecord("98.6491"), 1)
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if got := col(t, tr, row, "nval_num"); got != "98.6" {
		t.Errorf("nval_num = %q, want 98.6 at 3 significant digits", got)
	}
}

func TestFactTextValueTyping(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "1", layout, 10)
	fixedNow(tr)

	row, reasons := tr.Transform(factRecord("positive"), 1)
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if got := col(t, tr, row, "valtype_cd"); got != "T" {
		t.Errorf("valtype_cd = %q, want T", got)
	}
	if got := col(t, tr, row, "tval_char"); got != "positive" {
		t.Errorf("tval_char = %q, want the text value", got)
	}
	if got := col(t, tr, row, "nval_num"); got != "" {
		t.Errorf("nval_num = %q for a text value, want empty", got)
	}
}

func TestFactEmptyValueTyping(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "1", layout, 10)
	fixedNow(tr)

	row, reasons := tr.Transform(factRecord(""), 1)
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if got := col(t, tr, row, "valtype_cd"); got != "@" {
		t.Errorf("valtype_cd = %q, want @", got)
	}
}

func TestFactDefaults(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "42", layout, 10)
	fixedNow(tr)

	row, _ := tr.Transform(factRecord("1"), 3)
	if got := col(t, tr, row, "provider_id"); got != "0" {
		t.Errorf("provider_id default = %q, want 0", got)
	}
	if got := col(t, tr, row, "modifier_cd"); got != "@" {
		t.Errorf("modifier_cd default = %q, want @", got)
	}
	if got := col(t, tr, row, "instance_num"); got != "1" {
		t.Errorf("instance_num default = %q, want 1", got)
	}
	if got := col(t, tr, row, "line_num"); got != "3" {
		t.Errorf("line_num = %q, want 3", got)
	}
	if got := col(t, tr, row, "upload_id"); got != "42" {
		t.Errorf("upload_id = %q, want 42", got)
	}
	if got := col(t, tr, row, "sourcesystem_cd"); got != "DEMO" {
		t.Errorf("sourcesystem_cd = %q, want DEMO", got)
	}
}

func TestFactRejectsNonNumericInstance(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "1", layout, 10)
	fixedNow(tr)

	rec := factRecord("1")
	rec.Values["InstanceNum"] = "abc"
	_, reasons := tr.Transform(rec, 1)
	if len(reasons) != 1 || reasons[0] != domain.ReasonTypeConversionError {
		t.Errorf("reasons = %v, want [TYPE_CONVERSION_ERROR]", reasons)
	}
}

func TestFactRejectsOverlongConcept(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "1", layout, 10)
	fixedNow(tr)

	rec := factRecord("1")
	rec.Values["ConceptCD"] = strings.Repeat("X", 51)
	_, reasons := tr.Transform(rec, 1)
	if len(reasons) != 1 || reasons[0] != domain.ReasonFieldTooLong {
		t.Errorf("reasons = %v, want [FIELD_TOO_LONG]", reasons)
	}
}

func TestRowMatchesBulkColumnOrder(t *testing.T) {
	tr := New(domain.EntityFact, "DEMO", "1", layout, 10)
	fixedNow(tr)

	row, _ := tr.Transform(factRecord("1"), 1)
	want := schemadef.For(domain.EntityFact).BulkColumns
	if len(row) != len(want) {
		t.Fatalf("row has %d columns, bulk order has %d", len(row), len(want))
	}
}

func TestPatientRow(t *testing.T) {
	tr := New(domain.EntityPatient, "DEMO", "1", layout, 10)
	fixedNow(tr)

	rec := domain.DeidentifiedRecord{
		Entity: domain.EntityPatient, RowNumber: 2,
		Values: map[string]string{
			"PatientID": "7", "BirthDate": "1980-06-15 00:00:00", "DeathDate": "",
			"Sex": "F", "Race": "white", "Language": "english",
			"MaritalStatus": "married", "State": "MA", "Zip": "02100",
		},
	}
	row, reasons := tr.Transform(rec, 1)
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if got := col(t, tr, row, "patient_num"); got != "7" {
		t.Errorf("patient_num = %q, want 7", got)
	}
	if got := col(t, tr, row, "vital_status_cd"); got != "N" {
		t.Errorf("vital_status_cd = %q, want N", got)
	}
	if got := col(t, tr, row, "age_in_years_num"); got != "43" {
		t.Errorf("age_in_years_num = %q, want 43", got)
	}
	if got := col(t, tr, row, "statecityzip_path"); got != `Zip codes\MA\02100\` {
		t.Errorf("statecityzip_path = %q", got)
	}
}

func TestDeceasedPatientAgeStopsAtDeath(t *testing.T) {
	tr := New(domain.EntityPatient, "DEMO", "1", layout, 10)
	fixedNow(tr)

	rec := domain.DeidentifiedRecord{
		Entity: domain.EntityPatient,
		Values: map[string]string{
			"PatientID": "7", "BirthDate": "1980-06-15 00:00:00",
			"DeathDate": "2000-06-14 00:00:00",
		},
	}
	row, _ := tr.Transform(rec, 1)
	if got := col(t, tr, row, "vital_status_cd"); got != "D" {
		t.Errorf("vital_status_cd = %q, want D", got)
	}
	if got := col(t, tr, row, "age_in_years_num"); got != "19" {
		t.Errorf("age_in_years_num = %q, want 19", got)
	}
}

func TestEncounterLengthOfStay(t *testing.T) {
	tr := New(domain.EntityEncounter, "DEMO", "1", layout, 10)
	fixedNow(tr)

	rec := domain.DeidentifiedRecord{
		Entity: domain.EntityEncounter,
		Values: map[string]string{
			"EncounterID": "11", "PatientID": "7",
			"StartDate": "2020-03-01 08:00:00", "EndDate": "2020-03-04 08:00:00",
			"ActivityTypeCD": "INPATIENT", "ActivityStatusCD": "CLOSED", "ProgramCD": "CARDIO",
		},
	}
	row, reasons := tr.Transform(rec, 1)
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if got := col(t, tr, row, "length_of_stay"); got != "3" {
		t.Errorf("length_of_stay = %q, want 3", got)
	}
}

func TestEncounterRejectsEndBeforeStart(t *testing.T) {
	tr := New(domain.EntityEncounter, "DEMO", "1", layout, 10)
	fixedNow(tr)

	rec := domain.DeidentifiedRecord{
		Entity: domain.EntityEncounter,
		Values: map[string]string{
			"EncounterID": "11", "PatientID": "7",
			"StartDate": "2020-03-04 08:00:00", "EndDate": "2020-03-01 08:00:00",
		},
	}
	_, reasons := tr.Transform(rec, 1)
	if len(reasons) != 1 || reasons[0] != domain.ReasonTypeConversionError {
		t.Errorf("reasons = %v, want [TYPE_CONVERSION_ERROR]", reasons)
	}
}

func TestConceptRow(t *testing.T) {
	tr := New(domain.EntityConcept, "DEMO", "1", layout, 10)
	fixedNow(tr)

	rec := domain.DeidentifiedRecord{
		Entity: domain.EntityConcept,
		Values: map[string]string{
			"Path": `\Diagnoses\Cardiology\Hypertension\`, "Key": "ICD10:I10",
		},
	}
	row, reasons := tr.Transform(rec, 1)
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if got := col(t, tr, row, "concept_cd"); got != "ICD10:I10" {
		t.Errorf("concept_cd = %q", got)
	}
	if got := col(t, tr, row, "name_char"); got != "Hypertension" {
		t.Errorf("name_char = %q, want Hypertension", got)
	}
}
