package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema is the JSON Schema the message-definition database must
// satisfy before it is unmarshalled. Validating up front, the way
// C360Studio-semstreams validates its inbound documents with gojsonschema,
// turns a malformed database into one readable field-path error instead of
// a generic encoding/json "cannot unmarshal" failure deep inside splice().
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["messages"],
  "properties": {
    "enums": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "entries"],
        "properties": {
          "name": {"type": "string"},
          "entries": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["value", "code"],
              "properties": {
                "value": {"type": "integer"},
                "code": {"type": "string"}
              }
            }
          }
        }
      }
    },
    "messages": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["id", "name", "format", "measurementSource", "layouts"],
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string"},
          "format": {"type": "string"},
          "measurementSource": {"type": "string"},
          "layouts": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["version", "fields"],
              "properties": {
                "version": {"type": "integer"},
                "fields": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["name", "type"],
                    "properties": {
                      "name": {"type": "string"},
                      "type": {"type": "string"},
                      "enumRef": {"type": "string"},
                      "structRef": {"type": "string"},
                      "charWidth": {"type": "integer"},
                      "array": {"type": "string"},
                      "arrayCount": {"type": "integer"},
                      "terminator": {"type": "integer"}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ValidateDocument checks raw message-database JSON against documentSchema,
// returning every violation joined into one error.
func ValidateDocument(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed to run: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
