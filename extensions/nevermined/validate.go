package nevermined

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Validate checks an extension's info against the extension's own schema.
// It performs no I/O.
func Validate(extension Extension) ValidationResult {
	schema := extension.Schema
	if schema == nil {
		schema = Schema()
	}
	return validateAgainst(schema, extension.Info)
}

// ValidateInfo checks info against the fixed Nevermined schema.
func ValidateInfo(info Info) ValidationResult {
	return validateAgainst(Schema(), info)
}

func validateAgainst(schema map[string]interface{}, info Info) ValidationResult {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Failed to marshal schema: %v", err)},
		}
	}

	infoJSON, err := json.Marshal(info)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Failed to marshal info: %v", err)},
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(infoJSON),
	)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	errors := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{Valid: false, Errors: errors}
}
