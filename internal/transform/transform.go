// Package transform projects de-identified records into the exact column
// order of their destination warehouse table, typing fact values and filling
// the load metadata columns on the way.
package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/schemadef"
)

// maxFieldLen caps the coded columns at their warehouse widths. Longer values
// reject the row rather than truncate silently.
var maxFieldLen = map[string]int{
	"ConceptCD":        50,
	"ModifierCD":       100,
	"UnitCD":           50,
	"ActivityTypeCD":   50,
	"ActivityStatusCD": 50,
	"ProgramCD":        50,
	"Path":             700,
	"Key":              50,
}

const (
	defaultProviderID  = "0"
	defaultModifierCD  = "@"
	defaultInstanceNum = "1"
	maxTextValueLen    = 255
)

// Transformer renders bulk rows for one entity type.
type Transformer struct {
	schema         schemadef.Schema
	sourceSystem   string
	uploadID       string
	dateLayout     string
	floatPrecision int
	now            func() time.Time
}

func New(entity domain.EntityType, sourceSystem, uploadID, dateLayout string, floatPrecision int) *Transformer {
	return &Transformer{
		schema:         schemadef.For(entity),
		sourceSystem:   sourceSystem,
		uploadID:       uploadID,
		dateLayout:     dateLayout,
		floatPrecision: floatPrecision,
		now:            time.Now,
	}
}

// Header is the bulk file's column order, matching the destination table.
func (t *Transformer) Header() []string {
	return t.schema.BulkColumns
}

// Transform renders one bulk row. A non-empty reason list rejects the record.
func (t *Transformer) Transform(rec domain.DeidentifiedRecord, lineNum int) ([]string, []domain.ReasonCode) {
	if reasons := t.checkLengths(rec); len(reasons) > 0 {
		return nil, reasons
	}

	switch t.schema.Entity {
	case domain.EntityPatient:
		return t.patientRow(rec), nil
	case domain.EntityEncounter:
		return t.encounterRow(rec)
	case domain.EntityFact:
		return t.factRow(rec, lineNum)
	case domain.EntityConcept:
		return t.conceptRow(rec), nil
	}
	return nil, nil
}

func (t *Transformer) checkLengths(rec domain.DeidentifiedRecord) []domain.ReasonCode {
	for name, max := range maxFieldLen {
		if value, ok := rec.Values[name]; ok && len(value) > max {
			return []domain.ReasonCode{domain.ReasonFieldTooLong}
		}
	}
	return nil
}

func (t *Transformer) patientRow(rec domain.DeidentifiedRecord) []string {
	now := t.now().UTC().Format(t.dateLayout)

	vital := "N"
	if rec.Values["DeathDate"] != "" {
		vital = "D"
	}

	age := ""
	if birth, err := time.Parse(t.dateLayout, rec.Values["BirthDate"]); err == nil {
		until := t.now().UTC()
		if death, derr := time.Parse(t.dateLayout, rec.Values["DeathDate"]); derr == nil {
			until = death
		}
		age = strconv.Itoa(yearsBetween(birth, until))
	}

	return t.ordered(map[string]string{
		"patient_num":       rec.Values["PatientID"],
		"vital_status_cd":   vital,
		"birth_date":        rec.Values["BirthDate"],
		"death_date":        rec.Values["DeathDate"],
		"sex_cd":            rec.Values["Sex"],
		"age_in_years_num":  age,
		"language_cd":       rec.Values["Language"],
		"race_cd":           rec.Values["Race"],
		"marital_status_cd": rec.Values["MaritalStatus"],
		"zip_cd":            rec.Values["Zip"],
		"statecityzip_path": statePath(rec.Values["State"], rec.Values["Zip"]),
		"update_date":       now,
		"import_date":       now,
		"sourcesystem_cd":   t.sourceSystem,
		"upload_id":         t.uploadID,
	})
}

func (t *Transformer) encounterRow(rec domain.DeidentifiedRecord) ([]string, []domain.ReasonCode) {
	now := t.now().UTC().Format(t.dateLayout)

	stay := ""
	if start, err := time.Parse(t.dateLayout, rec.Values["StartDate"]); err == nil {
		if end, err := time.Parse(t.dateLayout, rec.Values["EndDate"]); err == nil {
			days := int(end.Sub(start).Hours() / 24)
			if days < 0 {
				return nil, []domain.ReasonCode{domain.ReasonTypeConversionError}
			}
			stay = strconv.Itoa(days)
		}
	}

	return t.ordered(map[string]string{
		"encounter_num":    rec.Values["EncounterID"],
		"patient_num":      rec.Values["PatientID"],
		"active_status_cd": rec.Values["ActivityStatusCD"],
		"start_date":       rec.Values["StartDate"],
		"end_date":         rec.Values["EndDate"],
		"inout_cd":         rec.Values["ActivityTypeCD"],
		"location_cd":      rec.Values["ProgramCD"],
		"length_of_stay":   stay,
		"update_date":      now,
		"import_date":      now,
		"sourcesystem_cd":  t.sourceSystem,
		"upload_id":        t.uploadID,
	}), nil
}

func (t *Transformer) factRow(rec domain.DeidentifiedRecord, lineNum int) ([]string, []domain.ReasonCode) {
	now := t.now().UTC().Format(t.dateLayout)

	provider := rec.Values["ProviderID"]
	if provider == "" {
		provider = defaultProviderID
	}
	modifier := rec.Values["ModifierCD"]
	if modifier == "" {
		modifier = defaultModifierCD
	}
	instance := rec.Values["InstanceNum"]
	if instance == "" {
		instance = defaultInstanceNum
	}
	if _, err := strconv.Atoi(instance); err != nil {
		return nil, []domain.ReasonCode{domain.ReasonTypeConversionError}
	}

	valtype, tval, nval := typeValue(rec.Values["value"], t.floatPrecision)
	if valtype == "T" && len(tval) > maxTextValueLen {
		return nil, []domain.ReasonCode{domain.ReasonFieldTooLong}
	}

	return t.ordered(map[string]string{
		"line_num":        strconv.Itoa(lineNum),
		"encounter_num":   rec.Values["EncounterID"],
		"patient_num":     rec.Values["PatientID"],
		"concept_cd":      rec.Values["ConceptCD"],
		"provider_id":     provider,
		"start_date":      rec.Values["StartDate"],
		"modifier_cd":     modifier,
		"instance_num":    instance,
		"valtype_cd":      valtype,
		"tval_char":       tval,
		"nval_num":        nval,
		"units_cd":        rec.Values["UnitCD"],
		"update_date":     now,
		"import_date":     now,
		"sourcesystem_cd": t.sourceSystem,
		"upload_id":       t.uploadID,
	}), nil
}

func (t *Transformer) conceptRow(rec domain.DeidentifiedRecord) []string {
	now := t.now().UTC().Format(t.dateLayout)

	return t.ordered(map[string]string{
		"concept_path":    rec.Values["Path"],
		"concept_cd":      rec.Values["Key"],
		"name_char":       conceptName(rec.Values["Path"]),
		"update_date":     now,
		"import_date":     now,
		"sourcesystem_cd": t.sourceSystem,
		"upload_id":       t.uploadID,
	})
}

// ordered lays the named values out in bulk-column order, leaving unnamed
// columns empty.
func (t *Transformer) ordered(values map[string]string) []string {
	row := make([]string, len(t.schema.BulkColumns))
	for i, col := range t.schema.BulkColumns {
		row[i] = values[col]
	}
	return row
}

// typeValue classifies a fact value: numbers load as valtype N with the
// numeric column rounded to the configured precision and tval_char "E"
// (equals), text loads as valtype T, and an absent value is the "@"
// placeholder.
func typeValue(value string, precision int) (valtype, tval, nval string) {
	if value == "" {
		return "@", "", ""
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return "N", "E", strconv.FormatFloat(f, 'g', precision, 64)
	}
	return "T", value, ""
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() ||
		(to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

func statePath(state, zip string) string {
	if state == "" {
		return ""
	}
	if zip == "" {
		return "Zip codes\\" + state + "\\"
	}
	return "Zip codes\\" + state + "\\" + zip + "\\"
}

func conceptName(path string) string {
	trimmed := strings.Trim(path, "\\/")
	if trimmed == "" {
		return ""
	}
	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '\\' || r == '/' })
	return parts[len(parts)-1]
}
