package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	invjsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateArguments checks args against a JSON schema. String values are
// coerced to the property types the schema declares before validation, since
// the parser produces string-valued arguments only.
func ValidateArguments(schema json.RawMessage, args map[string]string) error {
	if len(strings.TrimSpace(string(schema))) == 0 {
		return nil
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}
	doc, err := coerceArguments(schema, args)
	if err != nil {
		return err
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func coerceArguments(schema json.RawMessage, args map[string]string) (map[string]any, error) {
	var decoded struct {
		Properties map[string]struct {
			Type any `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return nil, fmt.Errorf("decode tool schema: %w", err)
	}

	doc := make(map[string]any, len(args))
	for k, v := range args {
		prop, ok := decoded.Properties[k]
		if !ok {
			doc[k] = v
			continue
		}
		doc[k] = coerceValue(primaryType(prop.Type), v)
	}
	return doc, nil
}

func primaryType(t any) string {
	switch typed := t.(type) {
	case string:
		return typed
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

func coerceValue(typ, v string) any {
	switch typ {
	case "integer", "number":
		var n json.Number
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &n); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	case "object", "array":
		var out any
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return v
}

// ReflectSchema derives a tool argument schema from a Go struct. Fields
// without omitempty are required.
func ReflectSchema(v any) json.RawMessage {
	r := &invjsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
