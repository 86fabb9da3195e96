package api

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/warp/insurance-tracker/insurance"
)

// importSchema describes the body of /api/import/dry-run and
// /api/import/commit. Cell values are loose on purpose; the factory parses
// dates and amounts per record.
const importSchema = `{
  "type": "object",
  "required": ["records"],
  "properties": {
    "records": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "identifier":        {"type": ["string", "null"]},
          "name":              {"type": ["string", "null"]},
          "type":              {"type": ["string", "null"]},
          "policyNumber":      {"type": ["string", "null"]},
          "insurer":           {"type": ["string", "null"]},
          "validFrom":         {"type": ["string", "null"]},
          "validUntil":        {"type": ["string", "null"]},
          "premium":           {"type": ["number", "string", "null"]},
          "sumInsured":        {"type": ["number", "string", "null"]},
          "paymentFrequency":  {"type": ["string", "null"]},
          "leasingRef":        {"type": ["string", "null"]},
          "insured":           {"type": ["string", "null"]},
          "responsiblePerson": {"type": ["string", "null"]},
          "comments":          {"type": ["string", "null"]},
          "notes":             {"type": ["string", "null"]}
        }
      }
    },
    "resolutions": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var (
	importSchemaOnce     sync.Once
	importSchemaCompiled *gojsonschema.Schema
	importSchemaErr      error
)

// validateImportPayload checks body against importSchema and reports every
// violation as a field error.
func validateImportPayload(body []byte) error {
	importSchemaOnce.Do(func() {
		importSchemaCompiled, importSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(importSchema))
	})
	if importSchemaErr != nil {
		return fmt.Errorf("import schema: %w", importSchemaErr)
	}

	result, err := importSchemaCompiled.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &insurance.ValidationError{Fields: []insurance.FieldError{{Field: "body", Message: err.Error()}}}
	}
	if result.Valid() {
		return nil
	}
	verr := &insurance.ValidationError{}
	for _, desc := range result.Errors() {
		verr.Add(desc.Field(), desc.Description())
	}
	return verr
}
