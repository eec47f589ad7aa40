package domain

// ReasonCode classifies why a row was rejected. The set is closed; sinks and
// operators rely on these exact tokens.
type ReasonCode string

const (
	ReasonMissingMandatoryField ReasonCode = "MISSING_MANDATORY_FIELD"
	ReasonInvalidDateFormat     ReasonCode = "INVALID_DATE_FORMAT"
	ReasonMappingNotFound       ReasonCode = "MAPPING_NOT_FOUND"
	ReasonTypeConversionError   ReasonCode = "TYPE_CONVERSION_ERROR"
	ReasonPHIPatternFound       ReasonCode = "PHI_PATTERN_FOUND"
	ReasonFieldTooLong          ReasonCode = "FIELD_TOO_LONG"
)

// SourceRecord is one row of an input entity file. Values are keyed by the
// input header names and immutable once read; RowNumber is 1-based over data
// rows (the header is row 0).
type SourceRecord struct {
	Entity       EntityType
	RowNumber    int
	SourceSystem string
	Values       map[string]string
}

// Field returns the named field or "" when absent.
func (r SourceRecord) Field(name string) string {
	return r.Values[name]
}

// DeidentifiedRecord is a SourceRecord with direct identifiers removed,
// natural ids replaced by surrogate numbers, and dates shifted by the
// patient's offset.
type DeidentifiedRecord struct {
	Entity    EntityType
	RowNumber int
	Values    map[string]string
}

// RejectedRecord pairs a source row with the reasons it cannot be loaded.
// It is written to the error sink and never reaches the warehouse.
type RejectedRecord struct {
	Entity    EntityType
	RowNumber int
	Values    map[string]string
	Reasons   []ReasonCode
	Detail    string
}

// ReasonList renders the reason codes for the error file column.
func (r RejectedRecord) ReasonList() string {
	s := ""
	for i, reason := range r.Reasons {
		if i > 0 {
			s += ","
		}
		s += string(reason)
	}
	return s
}
