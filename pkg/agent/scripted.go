package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"draftflow/pkg/models"
)

// ScriptedProvider replays pre-built delta scripts, one script per
// Generate call, repeating the last script once exhausted. It backs tests
// and offline development; real deployments plug in an external model
// capability behind the same interface.
type ScriptedProvider struct {
	mu    sync.Mutex
	turns [][]Delta
	next  int
}

// NewScriptedProvider builds a provider from delta scripts.
func NewScriptedProvider(turns ...[]Delta) *ScriptedProvider {
	return &ScriptedProvider{turns: turns}
}

func (p *ScriptedProvider) Name() string { return "scripted" }

// Generate streams the next script's deltas, honoring ctx cancellation.
func (p *ScriptedProvider) Generate(ctx context.Context, _ *Request) (<-chan Delta, error) {
	p.mu.Lock()
	if len(p.turns) == 0 {
		p.mu.Unlock()
		out := make(chan Delta)
		close(out)
		return out, nil
	}
	idx := p.next
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	script := p.turns[idx]
	p.next++
	p.mu.Unlock()

	out := make(chan Delta)
	go func() {
		defer close(out)
		for _, d := range script {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// OfflineProvider is a deterministic stand-in model for running the server
// without an external capability. Routing requests get a valid decision;
// research turns call catalog_search once and then summarize; drafting
// turns emit a short draft.
type OfflineProvider struct{}

func (OfflineProvider) Name() string { return "offline" }

func (OfflineProvider) Generate(ctx context.Context, req *Request) (<-chan Delta, error) {
	out := make(chan Delta, 8)
	go func() {
		defer close(out)
		emit := func(d Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if req.System == routerSystem {
			next := AgentResearch
			if userConfirmed(req.Messages) {
				next = AgentDrafting
			}
			b, _ := json.Marshal(Decision{Next: next, Reasoning: "offline heuristic"})
			if !emit(Delta{Type: DeltaText, Text: string(b)}) {
				return
			}
			emit(Delta{Type: DeltaFinish, FinishReason: models.FinishStop})
			return
		}

		topic := lastUserContent(req.Messages)
		if hasTool(req.Tools, "catalog_search") && !hasToolTurn(req.Messages) {
			args, _ := json.Marshal(map[string]string{"query": topic})
			if !emit(Delta{Type: DeltaToolCall, ToolCallID: "call-1", ToolName: "catalog_search", Args: args}) {
				return
			}
			emit(Delta{Type: DeltaFinish, FinishReason: models.FinishToolCalls})
			return
		}
		if !emit(Delta{Type: DeltaText, Text: "Here is what I put together about " + topic + "."}) {
			return
		}
		emit(Delta{Type: DeltaFinish, FinishReason: models.FinishStop})
	}()
	return out, nil
}

func lastUserContent(msgs []ModelMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func userConfirmed(msgs []ModelMessage) bool {
	last := strings.ToLower(lastUserContent(msgs))
	return strings.Contains(last, "confirm") || strings.Contains(last, "looks good")
}

func hasTool(defs []ToolDef, name string) bool {
	for _, d := range defs {
		if d.Name == name {
			return true
		}
	}
	return false
}

func hasToolTurn(msgs []ModelMessage) bool {
	for _, m := range msgs {
		if m.Role == "tool" {
			return true
		}
	}
	return false
}
