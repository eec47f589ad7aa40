// Package deid validates source rows, replaces natural identifiers with
// surrogates, shifts dates by a per-patient offset, and strips direct
// identifiers before anything reaches the warehouse side of the pipeline.
package deid

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/mapper"
	"github.com/clinepi/cdipipe/internal/schemadef"
)

// phiPatterns flags identifier-shaped values that slipped into free text.
var phiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                            // SSN
	regexp.MustCompile(`\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`),                // phone
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), // email
}

// Deidentifier applies the de-identification rules for one entity type.
type Deidentifier struct {
	schema       schemadef.Schema
	mapper       *mapper.IdentifierMapper
	dateLayout   string
	maxShiftDays int
	salt         string
}

func New(entity domain.EntityType, m *mapper.IdentifierMapper, dateLayout string, maxShiftDays int, salt string) *Deidentifier {
	return &Deidentifier{
		schema:       schemadef.For(entity),
		mapper:       m,
		dateLayout:   dateLayout,
		maxShiftDays: maxShiftDays,
		salt:         salt,
	}
}

// Apply de-identifies one source row. A non-empty reason list means the row
// is rejected; a non-nil error means the run itself cannot continue (mapping
// store unavailable, context cancelled).
func (d *Deidentifier) Apply(ctx context.Context, rec domain.SourceRecord) (domain.DeidentifiedRecord, []domain.ReasonCode, error) {
	none := domain.DeidentifiedRecord{}

	if reasons := d.validate(rec); len(reasons) > 0 {
		return none, reasons, nil
	}

	out := make(map[string]string, len(d.schema.DeidHeader))
	for _, name := range d.schema.DeidHeader {
		out[name] = rec.Field(name)
	}

	// Facts never mint mappings: they must reference patients and encounters
	// that earlier loads already mapped. Patient and encounter rows mint.
	lookupOnly := rec.Entity == domain.EntityFact

	offset := 0
	if patientID := rec.Field("PatientID"); patientID != "" {
		var num int64
		if lookupOnly {
			existing, ok := d.mapper.Lookup(domain.EntityPatient, patientID)
			if !ok {
				return none, []domain.ReasonCode{domain.ReasonMappingNotFound}, nil
			}
			num = existing
		} else {
			resolved, err := d.mapper.ResolvePatient(ctx, patientID)
			if err != nil {
				return none, nil, fmt.Errorf("resolve patient %q at row %d: %w",
					patientID, rec.RowNumber, err)
			}
			num = resolved
		}
		out["PatientID"] = strconv.FormatInt(num, 10)
		offset = shiftDays(num, d.salt, d.maxShiftDays)
	}

	if encounterID := rec.Field("EncounterID"); encounterID == "" {
		// Facts may arrive without an encounter; they land on the sentinel
		// encounter 0 rather than on a NULL the fact table would refuse.
		if rec.Entity == domain.EntityFact {
			out["EncounterID"] = "0"
		}
	} else {
		var num int64
		if lookupOnly {
			existing, ok := d.mapper.Lookup(domain.EntityEncounter, encounterID)
			if !ok {
				return none, []domain.ReasonCode{domain.ReasonMappingNotFound}, nil
			}
			num = existing
		} else {
			resolved, err := d.mapper.ResolveEncounter(ctx, encounterID, rec.Field("PatientID"))
			if err != nil {
				return none, nil, fmt.Errorf("resolve encounter %q at row %d: %w",
					encounterID, rec.RowNumber, err)
			}
			num = resolved
		}
		out["EncounterID"] = strconv.FormatInt(num, 10)
	}

	for _, name := range d.schema.DateFields {
		value := out[name]
		if value == "" {
			continue
		}
		parsed, err := time.Parse(d.dateLayout, value)
		if err != nil {
			// validate() already checked the format; a failure here is a bug.
			return none, nil, fmt.Errorf("parse %s at row %d: %w", name, rec.RowNumber, err)
		}
		out[name] = parsed.AddDate(0, 0, offset).Format(d.dateLayout)
	}

	if zip := out["Zip"]; zip != "" {
		out["Zip"] = generalizeZip(zip)
	}

	return domain.DeidentifiedRecord{
		Entity:    rec.Entity,
		RowNumber: rec.RowNumber,
		Values:    out,
	}, nil, nil
}

func (d *Deidentifier) validate(rec domain.SourceRecord) []domain.ReasonCode {
	var reasons []domain.ReasonCode

	for _, name := range d.schema.Mandatory {
		if rec.Field(name) == "" {
			reasons = append(reasons, domain.ReasonMissingMandatoryField)
			break
		}
	}

	for _, name := range d.schema.DateFields {
		value := rec.Field(name)
		if value == "" {
			continue
		}
		if _, err := time.Parse(d.dateLayout, value); err != nil {
			reasons = append(reasons, domain.ReasonInvalidDateFormat)
			break
		}
	}

	for _, name := range d.schema.FreeTextFields {
		if containsPHI(rec.Field(name)) {
			reasons = append(reasons, domain.ReasonPHIPatternFound)
			break
		}
	}

	return reasons
}

func containsPHI(value string) bool {
	if value == "" {
		return false
	}
	for _, p := range phiPatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// generalizeZip keeps the first three digits per the safe-harbor rule.
// Values too short to generalize are blanked.
func generalizeZip(zip string) string {
	if len(zip) < 3 {
		return ""
	}
	for _, c := range zip[:3] {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return zip[:3] + "00"
}

// Row renders the record in the de-identified header order for the sink.
func (d *Deidentifier) Row(rec domain.DeidentifiedRecord) []string {
	row := make([]string, len(d.schema.DeidHeader))
	for i, name := range d.schema.DeidHeader {
		row[i] = rec.Values[name]
	}
	return row
}

// Header is the column order of the de-identified intermediate file.
func (d *Deidentifier) Header() []string {
	return d.schema.DeidHeader
}
