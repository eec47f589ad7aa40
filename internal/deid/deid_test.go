package deid

import (
	"context"
	"testing"
	"time"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/mapper"
	"github.com/clinepi/cdipipe/internal/repository"
)

const layout = "2006-01-02 15:04:05"

// seqMappingRepo mints sequential surrogates per entity type, in memory.
type seqMappingRepo struct {
	next     map[domain.EntityType]int64
	assigned map[domain.EntityType]map[string]int64
}

func newSeqMappingRepo() *seqMappingRepo {
	return &seqMappingRepo{
		next:     map[domain.EntityType]int64{},
		assigned: map[domain.EntityType]map[string]int64{},
	}
}

func (s *seqMappingRepo) LoadAll(context.Context, domain.EntityType) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (s *seqMappingRepo) Resolve(_ context.Context, entity domain.EntityType, m repository.NewMapping) (int64, error) {
	if s.assigned[entity] == nil {
		s.assigned[entity] = make(map[string]int64)
	}
	if num, ok := s.assigned[entity][m.NaturalID]; ok {
		return num, nil
	}
	s.next[entity]++
	s.assigned[entity][m.NaturalID] = s.next[entity]
	return s.next[entity], nil
}

func (s *seqMappingRepo) Assign(_ context.Context, entity domain.EntityType, m repository.NewMapping, num int64) error {
	if s.assigned[entity] == nil {
		s.assigned[entity] = make(map[string]int64)
	}
	s.assigned[entity][m.NaturalID] = num
	return nil
}

func (s *seqMappingRepo) DeleteBySource(context.Context, domain.EntityType, string) (int64, error) {
	return 0, nil
}

func newTestDeidentifier(entity domain.EntityType) *Deidentifier {
	m := mapper.New(newSeqMappingRepo(), "DEMO")
	return New(entity, m, layout, 30, "test-salt")
}

func patientRecord(values map[string]string) domain.SourceRecord {
	base := map[string]string{
		"PatientID": "MRN-1", "BirthDate": "1980-06-15 00:00:00", "DeathDate": "",
		"Sex": "F", "Race": "white", "Language": "english", "MaritalStatus": "married",
		"Name": "Jane Doe", "Address": "1 Main St", "City": "Boston", "State": "MA",
		"Zip": "02115", "Phone": "617-555-1234",
	}
	for k, v := range values {
		base[k] = v
	}
	return domain.SourceRecord{Entity: domain.EntityPatient, RowNumber: 2, SourceSystem: "DEMO", Values: base}
}

func TestApplyReplacesPatientIdentifier(t *testing.T) {
	d := newTestDeidentifier(domain.EntityPatient)

	rec, reasons, err := d.Apply(context.Background(), patientRecord(nil))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if rec.Values["PatientID"] != "1" {
		t.Errorf("PatientID = %q, want surrogate 1", rec.Values["PatientID"])
	}
	for _, name := range []string{"Name", "Address", "City", "Phone"} {
		if _, ok := rec.Values[name]; ok {
			t.Errorf("direct identifier %s survived de-identification", name)
		}
	}
}

func TestApplyShiftsDatesDeterministically(t *testing.T) {
	d := newTestDeidentifier(domain.EntityPatient)

	first, _, err := d.Apply(context.Background(), patientRecord(nil))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	second, _, err := d.Apply(context.Background(), patientRecord(nil))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if first.Values["BirthDate"] != second.Values["BirthDate"] {
		t.Errorf("same patient shifted to %q then %q",
			first.Values["BirthDate"], second.Values["BirthDate"])
	}

	shifted, err := time.Parse(layout, first.Values["BirthDate"])
	if err != nil {
		t.Fatalf("parse shifted date: %v", err)
	}
	original, _ := time.Parse(layout, "1980-06-15 00:00:00")
	days := int(shifted.Sub(original).Hours() / 24)
	if days < -30 || days > 30 {
		t.Errorf("shift of %d days outside the 30-day window", days)
	}
}

func TestApplyPreservesIntervals(t *testing.T) {
	d := newTestDeidentifier(domain.EntityEncounter)
	rec := domain.SourceRecord{
		Entity: domain.EntityEncounter, RowNumber: 2, SourceSystem: "DEMO",
		Values: map[string]string{
			"EncounterID": "V-1", "PatientID": "MRN-1",
			"StartDate": "2020-03-01 08:00:00", "EndDate": "2020-03-04 08:00:00",
			"ActivityTypeCD": "INPATIENT", "ActivityStatusCD": "CLOSED", "ProgramCD": "",
		},
	}

	out, reasons, err := d.Apply(context.Background(), rec)
	if err != nil || len(reasons) != 0 {
		t.Fatalf("apply: err=%v reasons=%v", err, reasons)
	}

	start, _ := time.Parse(layout, out.Values["StartDate"])
	end, _ := time.Parse(layout, out.Values["EndDate"])
	if got := end.Sub(start); got != 72*time.Hour {
		t.Errorf("interval = %v, want 72h", got)
	}
}

func TestApplyRejectsMissingMandatoryField(t *testing.T) {
	d := newTestDeidentifier(domain.EntityPatient)

	_, reasons, err := d.Apply(context.Background(), patientRecord(map[string]string{"PatientID": ""}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != domain.ReasonMissingMandatoryField {
		t.Errorf("reasons = %v, want [MISSING_MANDATORY_FIELD]", reasons)
	}
}

func TestApplyRejectsBadDate(t *testing.T) {
	d := newTestDeidentifier(domain.EntityPatient)

	_, reasons, err := d.Apply(context.Background(), patientRecord(map[string]string{"BirthDate": "15/06/1980"}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != domain.ReasonInvalidDateFormat {
		t.Errorf("reasons = %v, want [INVALID_DATE_FORMAT]", reasons)
	}
}

func TestApplyRejectsPHIInFreeText(t *testing.T) {
	d := newTestDeidentifier(domain.EntityFact)
	rec := domain.SourceRecord{
		Entity: domain.EntityFact, RowNumber: 2, SourceSystem: "DEMO",
		Values: map[string]string{
			"EncounterID": "V-1", "PatientID": "MRN-1", "ConceptCD": "NOTE:1",
			"ProviderID": "", "StartDate": "", "ModifierCD": "", "InstanceNum": "",
			"value": "patient SSN 123-45-6789 on file", "UnitCD": "",
		},
	}

	_, reasons, err := d.Apply(context.Background(), rec)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != domain.ReasonPHIPatternFound {
		t.Errorf("reasons = %v, want [PHI_PATTERN_FOUND]", reasons)
	}
}

func TestFactRequiresExistingMappings(t *testing.T) {
	repo := newSeqMappingRepo()
	m := mapper.New(repo, "DEMO")
	d := New(domain.EntityFact, m, layout, 30, "test-salt")

	rec := domain.SourceRecord{
		Entity: domain.EntityFact, RowNumber: 2, SourceSystem: "DEMO",
		Values: map[string]string{
			"EncounterID": "V-1", "PatientID": "MRN-1", "ConceptCD": "LOINC:1",
			"value": "5",
		},
	}

	_, reasons, err := d.Apply(context.Background(), rec)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != domain.ReasonMappingNotFound {
		t.Fatalf("reasons = %v, want [MAPPING_NOT_FOUND]", reasons)
	}

	// Once both mappings exist the same fact passes.
	if _, err := m.ResolvePatient(context.Background(), "MRN-1"); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	if _, err := m.ResolveEncounter(context.Background(), "V-1", "MRN-1"); err != nil {
		t.Fatalf("seed encounter: %v", err)
	}
	out, reasons, err := d.Apply(context.Background(), rec)
	if err != nil || len(reasons) != 0 {
		t.Fatalf("apply after seeding: err=%v reasons=%v", err, reasons)
	}
	if out.Values["PatientID"] != "1" || out.Values["EncounterID"] != "1" {
		t.Errorf("surrogates = %q/%q, want 1/1",
			out.Values["PatientID"], out.Values["EncounterID"])
	}
}

func TestFactWithoutEncounterLandsOnSentinel(t *testing.T) {
	repo := newSeqMappingRepo()
	m := mapper.New(repo, "DEMO")
	if _, err := m.ResolvePatient(context.Background(), "MRN-1"); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	d := New(domain.EntityFact, m, layout, 30, "test-salt")

	rec := domain.SourceRecord{
		Entity: domain.EntityFact, RowNumber: 2, SourceSystem: "DEMO",
		Values: map[string]string{
			"EncounterID": "", "PatientID": "MRN-1", "ConceptCD": "LOINC:1",
			"value": "5",
		},
	}
	out, reasons, err := d.Apply(context.Background(), rec)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(reasons) != 0 {
		t.Fatalf("unexpected rejection: %v", reasons)
	}
	if out.Values["EncounterID"] != "0" {
		t.Errorf("EncounterID = %q, want sentinel 0", out.Values["EncounterID"])
	}
}

func TestGeneralizeZip(t *testing.T) {
	cases := []struct{ in, want string }{
		{"02115", "02100"},
		{"02115-4301", "02100"},
		{"99", ""},
		{"abcde", ""},
	}
	for _, c := range cases {
		if got := generalizeZip(c.in); got != c.want {
			t.Errorf("generalizeZip(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestShiftDaysStaysInWindow(t *testing.T) {
	seen := map[int]bool{}
	for num := int64(1); num <= 200; num++ {
		d := shiftDays(num, "salt", 30)
		if d < -30 || d > 30 {
			t.Fatalf("shiftDays(%d) = %d outside [-30, 30]", num, d)
		}
		seen[d] = true
	}
	if len(seen) < 10 {
		t.Errorf("only %d distinct offsets over 200 patients", len(seen))
	}
}

func TestShiftDaysDependsOnSalt(t *testing.T) {
	same := 0
	for num := int64(1); num <= 50; num++ {
		if shiftDays(num, "a", 30) == shiftDays(num, "b", 30) {
			same++
		}
	}
	if same == 50 {
		t.Error("offsets identical across salts for every patient")
	}
}
