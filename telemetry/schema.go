package telemetry

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultSchema describes the broker payload. Ranges are checked by
// Reading.Validate so that out-of-range values report the offending field.
const DefaultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["device_id", "temperature", "humidity"],
  "properties": {
    "device_id":   {"type": "string", "minLength": 1},
    "temperature": {"type": "number"},
    "humidity":    {"type": "number"},
    "timestamp":   {"type": ["string", "number", "null"]}
  }
}`

// LoadSchema compiles a payload schema. An empty path compiles DefaultSchema.
func LoadSchema(path string) (*gojsonschema.Schema, error) {
	loader := gojsonschema.NewStringLoader(DefaultSchema)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("schema file: %w", err)
		}
		loader = gojsonschema.NewReferenceLoader("file://" + path)
	}

	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return schema, nil
}

func schemaViolations(result *gojsonschema.Result) string {
	msg := ""
	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", desc.Field(), desc.Description())
	}
	return msg
}
