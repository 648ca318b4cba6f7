// Package tools holds the capability registry the agent loop invokes tools
// through. It tracks per-tool failure counts and disables a tool after
// repeated consecutive failures until it is explicitly re-enabled.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentd/pkg/models"
)

// Tool is a named capability accepting string-keyed arguments.
type Tool interface {
	Name() string
	RiskLevel() models.RiskLevel
	// Schema returns the JSON schema for the tool arguments.
	Schema() json.RawMessage
	// Validate performs tool-specific checks beyond the schema.
	Validate(args map[string]string) error
	Execute(ctx context.Context, args map[string]string) (string, error)
}

// Untimed is implemented by tools that bound their own execution and opt
// out of the registry's per-call timeout. Delegation runs a whole nested
// agent loop whose backend calls carry their own deadlines.
type Untimed interface {
	NoTimeout() bool
}

func untimed(t Tool) bool {
	u, ok := t.(Untimed)
	return ok && u.NoTimeout()
}

// Describer is implemented by tools that carry a human-readable description.
type Describer interface {
	Description() string
}

// Describe returns the tool's description, or "" when it has none.
func Describe(t Tool) string {
	if d, ok := t.(Describer); ok {
		return d.Description()
	}
	return ""
}
