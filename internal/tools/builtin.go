package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/agentd/pkg/models"
)

type responseArgs struct {
	Message string `json:"message" jsonschema:"description=The reply shown to the user"`
}

// ResponseTool delivers the agent's reply. Plain model output without a
// structured call is normalized into a call to this tool.
type ResponseTool struct{}

func (ResponseTool) Name() string                { return models.ResponseTool }
func (ResponseTool) RiskLevel() models.RiskLevel { return models.RiskLow }
func (ResponseTool) Description() string         { return "Reply to the user and finish the turn." }
func (ResponseTool) Schema() json.RawMessage     { return ReflectSchema(&responseArgs{}) }

func (ResponseTool) Validate(args map[string]string) error {
	if _, ok := args["message"]; !ok {
		return errMissing("message")
	}
	return nil
}

func (ResponseTool) Execute(_ context.Context, args map[string]string) (string, error) {
	return strings.TrimSpace(args["message"]), nil
}

// Func adapts a function into a Tool.
type Func struct {
	ToolName  string
	Desc      string
	Risk      models.RiskLevel
	ArgSchema json.RawMessage
	Required  []string
	Fn        func(ctx context.Context, args map[string]string) (string, error)
}

// Name returns ToolName.
func (f *Func) Name() string { return f.ToolName }

// Description returns Desc.
func (f *Func) Description() string { return f.Desc }

// RiskLevel returns Risk, defaulting to low.
func (f *Func) RiskLevel() models.RiskLevel {
	if f.Risk == "" {
		return models.RiskLow
	}
	return f.Risk
}

// Schema returns ArgSchema, or an open object schema when unset.
func (f *Func) Schema() json.RawMessage {
	if len(f.ArgSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return f.ArgSchema
}

// Validate requires a non-blank value for every Required key.
func (f *Func) Validate(args map[string]string) error {
	for _, key := range f.Required {
		if strings.TrimSpace(args[key]) == "" {
			return errMissing(key)
		}
	}
	return nil
}

// Execute calls Fn.
func (f *Func) Execute(ctx context.Context, args map[string]string) (string, error) {
	return f.Fn(ctx, args)
}

type missingArgError string

func (e missingArgError) Error() string { return "missing argument: " + string(e) }

func errMissing(key string) error { return missingArgError(key) }
