// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// addressPattern matches a 0x-prefixed 20-byte hex address, any casing.
const addressPattern = `^0x[0-9a-fA-F]{40}$`

// Schemas for the portal's POST bodies. Declared as Go maps so they live
// next to the handlers that enforce them.
var (
	MembershipStateSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []interface{}{"addresses"},
		"properties": map[string]interface{}{
			"addresses": map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]interface{}{"type": "string", "pattern": addressPattern},
			},
			"chainId":      map[string]interface{}{"type": "integer"},
			"forceRefresh": map[string]interface{}{"type": "boolean"},
		},
	}

	RSVPSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []interface{}{"lockAddress", "recipient"},
		"properties": map[string]interface{}{
			"lockAddress": map[string]interface{}{"type": "string", "pattern": addressPattern},
			"recipient":   map[string]interface{}{"type": "string", "pattern": addressPattern},
		},
	}

	CancelRSVPSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []interface{}{"lockAddress", "recipient"},
		"properties": map[string]interface{}{
			"lockAddress": map[string]interface{}{"type": "string", "pattern": addressPattern},
			"recipient":   map[string]interface{}{"type": "string", "pattern": addressPattern},
			"tokenId":     map[string]interface{}{"type": "string"},
		},
	}

	CheckinSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"qrToken":     map[string]interface{}{"type": "string"},
			"lockAddress": map[string]interface{}{"type": "string", "pattern": addressPattern},
			"tokenId":     map[string]interface{}{"type": "string"},
		},
	}
)

// Validate checks a decoded JSON document against a schema and returns a
// single human-readable error describing every violation.
func Validate(doc map[string]interface{}, schema map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
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
