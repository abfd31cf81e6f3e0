// Package agent holds the agent-step layer: the model-capability contract,
// the tool set, the named agents and the router that picks between them.
package agent

import (
	"context"
	"encoding/json"

	"draftflow/pkg/models"
)

// AgentName identifies one named agent. The set is closed; extending the
// system means adding a name and an entry in the dispatch table.
type AgentName string

const (
	AgentResearch AgentName = "research"
	AgentDrafting AgentName = "drafting"
)

// KnownAgent reports whether n names a registered agent.
func KnownAgent(n AgentName) bool {
	return n == AgentResearch || n == AgentDrafting
}

// DeltaType discriminates incremental model output.
type DeltaType string

const (
	DeltaText      DeltaType = "text"
	DeltaReasoning DeltaType = "reasoning"
	DeltaToolCall  DeltaType = "tool-call"
	DeltaSource    DeltaType = "source"
	DeltaFinish    DeltaType = "finish"
)

// Delta is one increment of model output.
type Delta struct {
	Type DeltaType

	// text / reasoning
	Text string

	// tool-call
	ToolCallID string
	ToolName   string
	Args       json.RawMessage

	// source
	URL   string
	Title string

	// finish
	FinishReason models.FinishReason
}

// ModelMessage is one entry of the model-facing conversation history.
type ModelMessage struct {
	Role    string `json:"role"` // user | assistant | system | tool
	Content string `json:"content,omitempty"`

	// tool role: result payload for a prior call
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// ToolDef describes one callable tool to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Request is one model invocation.
type Request struct {
	System   string
	Messages []ModelMessage
	Tools    []ToolDef
}

// ModelProvider is the opaque language-model capability: given messages and
// tools it produces an incremental delta stream whose last delta carries
// the finish reason. Implementations must be safe for concurrent use and
// must close the returned channel when done.
type ModelProvider interface {
	Generate(ctx context.Context, req *Request) (<-chan Delta, error)
	Name() string
}
