package schemadef

import (
	"fmt"
	"strings"

	"github.com/clinepi/cdipipe/internal/domain"
)

// Schema fixes the column contract for one entity type: the expected input
// header, which fields are mandatory, which hold dates, which are direct
// identifiers, and the exact bulk-load column order. The bulk order is a
// contract with the bulk-copy collaborator and must match the destination
// table's column list.
type Schema struct {
	Entity            domain.EntityType
	InputHeader       []string
	Mandatory         []string
	DateFields        []string
	DirectIdentifiers []string
	FreeTextFields    []string
	DeidHeader        []string
	BulkColumns       []string
}

var schemas = map[domain.EntityType]Schema{
	domain.EntityPatient: {
		Entity: domain.EntityPatient,
		InputHeader: []string{
			"PatientID", "BirthDate", "DeathDate", "Sex", "Race", "Language",
			"MaritalStatus", "Name", "Address", "City", "State", "Zip", "Phone",
		},
		Mandatory:         []string{"PatientID"},
		DateFields:        []string{"BirthDate", "DeathDate"},
		DirectIdentifiers: []string{"Name", "Address", "City", "Phone"},
		FreeTextFields:    []string{},
		DeidHeader: []string{
			"PatientID", "BirthDate", "DeathDate", "Sex", "Race", "Language",
			"MaritalStatus", "State", "Zip",
		},
		BulkColumns: []string{
			"patient_num", "vital_status_cd", "birth_date", "death_date",
			"sex_cd", "age_in_years_num", "language_cd", "race_cd",
			"marital_status_cd", "religion_cd", "zip_cd", "statecityzip_path",
			"income_cd", "patient_blob", "update_date", "download_date",
			"import_date", "sourcesystem_cd", "upload_id",
		},
	},
	domain.EntityEncounter: {
		Entity: domain.EntityEncounter,
		InputHeader: []string{
			"EncounterID", "PatientID", "StartDate", "EndDate",
			"ActivityTypeCD", "ActivityStatusCD", "ProgramCD",
		},
		Mandatory:         []string{"EncounterID", "PatientID"},
		DateFields:        []string{"StartDate", "EndDate"},
		DirectIdentifiers: []string{},
		FreeTextFields:    []string{"ActivityStatusCD"},
		DeidHeader: []string{
			"EncounterID", "PatientID", "StartDate", "EndDate",
			"ActivityTypeCD", "ActivityStatusCD", "ProgramCD",
		},
		BulkColumns: []string{
			"encounter_num", "patient_num", "active_status_cd", "start_date",
			"end_date", "inout_cd", "location_cd", "location_path",
			"length_of_stay", "visit_blob", "update_date", "download_date",
			"import_date", "sourcesystem_cd", "upload_id",
		},
	},
	domain.EntityFact: {
		Entity: domain.EntityFact,
		InputHeader: []string{
			"EncounterID", "PatientID", "ConceptCD", "ProviderID", "StartDate",
			"ModifierCD", "InstanceNum", "value", "UnitCD",
		},
		Mandatory:         []string{"PatientID", "ConceptCD"},
		DateFields:        []string{"StartDate"},
		DirectIdentifiers: []string{},
		FreeTextFields:    []string{"value"},
		DeidHeader: []string{
			"EncounterID", "PatientID", "ConceptCD", "ProviderID", "StartDate",
			"ModifierCD", "InstanceNum", "value", "UnitCD",
		},
		BulkColumns: []string{
			"line_num", "encounter_num", "patient_num", "concept_cd",
			"provider_id", "start_date", "modifier_cd", "instance_num",
			"valtype_cd", "tval_char", "nval_num", "valueflag_cd",
			"quantity_num", "units_cd", "end_date", "location_cd",
			"observation_blob", "confidence_num", "update_date",
			"download_date", "import_date", "sourcesystem_cd", "upload_id",
			"text_search_index",
		},
	},
	domain.EntityConcept: {
		Entity: domain.EntityConcept,
		InputHeader: []string{
			"Path", "Key", "ColumnDataType", "MetadataXml", "FactTableColumn",
			"TableName", "ColumnName", "Operator", "Dimcode",
		},
		Mandatory:         []string{"Path", "Key"},
		DateFields:        []string{},
		DirectIdentifiers: []string{},
		FreeTextFields:    []string{"Key"},
		DeidHeader: []string{
			"Path", "Key", "ColumnDataType", "MetadataXml", "FactTableColumn",
			"TableName", "ColumnName", "Operator", "Dimcode",
		},
		BulkColumns: []string{
			"concept_path", "concept_cd", "name_char", "concept_blob",
			"update_date", "download_date", "import_date", "sourcesystem_cd",
			"upload_id",
		},
	},
}

// For returns the fixed schema for the entity type.
func For(entity domain.EntityType) Schema {
	return schemas[entity]
}

// ErrorHeader is the header of the entity's error file: the input columns
// plus the rejection metadata.
func (s Schema) ErrorHeader() []string {
	header := make([]string, 0, len(s.InputHeader)+2)
	header = append(header, s.InputHeader...)
	return append(header, "ValidationError", "ErrorRowNumber")
}

// ValidateHeader matches an input file's header row positionally against the
// expected schema. Surrounding whitespace and a UTF-8 BOM on the first column
// are tolerated.
func (s Schema) ValidateHeader(header []string) error {
	if len(header) != len(s.InputHeader) {
		return fmt.Errorf("%s file: expected %d columns, got %d",
			s.Entity, len(s.InputHeader), len(header))
	}
	for i, got := range header {
		got = strings.TrimSpace(strings.TrimPrefix(got, "\uFEFF"))
		if got != s.InputHeader[i] {
			return fmt.Errorf("%s file: column %d is %q, expected %q",
				s.Entity, i+1, got, s.InputHeader[i])
		}
	}
	return nil
}

// IsDateField reports whether the named input column holds a date.
func (s Schema) IsDateField(name string) bool {
	for _, f := range s.DateFields {
		if f == name {
			return true
		}
	}
	return false
}

// IsDirectIdentifier reports whether the named input column is a direct
// identifier that must not survive de-identification.
func (s Schema) IsDirectIdentifier(name string) bool {
	for _, f := range s.DirectIdentifiers {
		if f == name {
			return true
		}
	}
	return false
}
