package domain

import "fmt"

// EntityType identifies one of the fixed warehouse load targets.
type EntityType string

const (
	EntityPatient   EntityType = "patient"
	EntityEncounter EntityType = "encounter"
	EntityFact      EntityType = "fact"
	EntityConcept   EntityType = "concept"
)

// ParseEntityType converts a user supplied name into an EntityType.
func ParseEntityType(name string) (EntityType, error) {
	switch EntityType(name) {
	case EntityPatient, EntityEncounter, EntityFact, EntityConcept:
		return EntityType(name), nil
	}
	return "", fmt.Errorf("unknown entity type %q", name)
}

// TargetTable returns the warehouse table the entity's bulk rows land in.
func (e EntityType) TargetTable() string {
	switch e {
	case EntityPatient:
		return "patient_dimension"
	case EntityEncounter:
		return "visit_dimension"
	case EntityFact:
		return "observation_fact"
	case EntityConcept:
		return "concept_dimension"
	}
	return ""
}

// MappingTable returns the surrogate mapping table for the entity, or ""
// when the entity carries no mapping (facts reference the patient and
// encounter mappings, concepts have none).
func (e EntityType) MappingTable() string {
	switch e {
	case EntityPatient:
		return "patient_mapping"
	case EntityEncounter:
		return "encounter_mapping"
	}
	return ""
}
