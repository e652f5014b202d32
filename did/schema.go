package did

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/identikit/go-identity-sdk/chainerr"
)

// documentSchema is the structural JSON schema for DID documents. It checks
// shape only; reference integrity is Validate's job.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["@context", "id"],
  "properties": {
    "@context": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string"}
    },
    "id": {
      "type": "string",
      "pattern": "^did:[a-z0-9]+:.+$"
    },
    "controller": {"type": "string"},
    "verificationMethod": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "controller"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string"},
          "controller": {"type": "string"},
          "publicKeyMultibase": {"type": "string"},
          "publicKeyHex": {"type": "string"}
        }
      }
    },
    "authentication": {"type": "array", "items": {"type": "string"}},
    "assertionMethod": {"type": "array", "items": {"type": "string"}},
    "capabilityInvocation": {"type": "array", "items": {"type": "string"}},
    "capabilityDelegation": {"type": "array", "items": {"type": "string"}},
    "keyAgreement": {"type": "array", "items": {"type": "string"}},
    "service": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "serviceEndpoint"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string"},
          "serviceEndpoint": {"type": "string"}
        }
      }
    },
    "didDocumentMetadata": {"type": "object"}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

func validateShape(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return chainerr.NewInvalidDocument(err.Error())
	}
	if !result.Valid() {
		return chainerr.NewInvalidDocument(fmt.Sprintf("document validation failed: %v", result.Errors()))
	}
	return nil
}
