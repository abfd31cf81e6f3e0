package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is one callable capability offered to an agent step. Run receives
// the model-supplied arguments and returns a JSON result.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Run         func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ToolSet is the explicit tool collection passed into each agent step.
// There is deliberately no module-level registry; every step sees exactly
// the tools its caller constructed for it.
type ToolSet struct {
	tools map[string]Tool
	order []string
}

// NewToolSet builds a ToolSet from the given tools. Later duplicates of a
// name replace earlier ones.
func NewToolSet(tools ...Tool) *ToolSet {
	ts := &ToolSet{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, ok := ts.tools[t.Name]; !ok {
			ts.order = append(ts.order, t.Name)
		}
		ts.tools[t.Name] = t
	}
	return ts
}

// Get returns a tool by name.
func (ts *ToolSet) Get(name string) (Tool, bool) {
	if ts == nil {
		return Tool{}, false
	}
	t, ok := ts.tools[name]
	return t, ok
}

// Defs returns the tool definitions in registration order for the model.
func (ts *ToolSet) Defs() []ToolDef {
	if ts == nil {
		return nil
	}
	out := make([]ToolDef, 0, len(ts.order))
	for _, name := range ts.order {
		t := ts.tools[name]
		out = append(out, ToolDef{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return out
}

// Execute runs the named tool. An unknown tool name is a schema mismatch
// between producer and consumer and is returned as a hard error, never
// coerced into an empty result.
func (ts *ToolSet) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	t, ok := ts.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool type %q", name)
	}
	return t.Run(ctx, args)
}
