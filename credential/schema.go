package credential

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// credentialSchema is the default structural schema: the fields identity
// derivation depends on must be present and well-typed.
const credentialSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "type", "issuer", "issuanceDate", "credentialSubject"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {
      "oneOf": [
        {"type": "string"},
        {"type": "array", "minItems": 1, "items": {"type": "string"}}
      ]
    },
    "issuer": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {
          "type": "object",
          "required": ["id"],
          "properties": {"id": {"type": "string", "minLength": 1}}
        }
      ]
    },
    "issuanceDate": {"type": "string", "minLength": 1},
    "credentialSubject": {
      "oneOf": [
        {"type": "object"},
        {"type": "array", "minItems": 1, "items": {"type": "object"}}
      ]
    },
    "credentialStatus": {"type": "object"},
    "proof": {
      "oneOf": [
        {"type": "object"},
        {"type": "array", "items": {"type": "object"}}
      ]
    }
  }
}`

func validateShape(raw []byte, schema string) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate schema: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("credential validation failed: %v", result.Errors())
	}
	return nil
}
