package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"draftflow/pkg/logger"
)

// Decision is the router's schema-validated output.
type Decision struct {
	Next      AgentName `json:"next"`
	Reasoning string    `json:"reasoning"`
}

const routerSystem = `You route a conversation to one named agent.
Agents: "research" gathers findings for the user to confirm; "drafting" writes the final content.
Pick "drafting" only when the user has explicitly confirmed the research findings.
Respond with only a JSON object: {"next":"research"|"drafting","reasoning":"<one sentence>"}`

// Router picks which named agent handles the next turn. It is itself one
// agent-step variant: a single model invocation whose output is structured
// JSON instead of free text, decided once per user turn.
type Router struct {
	Provider ModelProvider
	Timeout  time.Duration
}

// Decide inspects the conversation and returns the next agent. A new
// conversation always routes to research; an unusable model response falls
// back to research rather than failing the run.
func (r *Router) Decide(ctx context.Context, history []ModelMessage) (Decision, error) {
	if len(history) == 0 {
		return Decision{Next: AgentResearch, Reasoning: "new conversation"}, nil
	}
	hasAssistantTurn := false
	for _, m := range history {
		if m.Role == "assistant" {
			hasAssistantTurn = true
			break
		}
	}
	if !hasAssistantTurn {
		// nothing to confirm yet
		return Decision{Next: AgentResearch, Reasoning: "no research hand-off yet"}, nil
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	req := &Request{System: routerSystem, Messages: history}
	deltas, err := r.Provider.Generate(ctx, req)
	if err != nil {
		logger.Warn("router_generate_failed", "error", err)
		RouterFallbacks.Inc()
		return Decision{Next: AgentResearch, Reasoning: "router unavailable"}, nil
	}

	var text strings.Builder
	for d := range deltas {
		if d.Type == DeltaText {
			text.WriteString(d.Text)
		}
	}

	dec, err := parseDecision(text.String())
	if err != nil {
		logger.Warn("router_decision_invalid", "raw", text.String(), "error", err)
		RouterFallbacks.Inc()
		return Decision{Next: AgentResearch, Reasoning: "invalid routing output"}, nil
	}
	return dec, nil
}

// parseDecision strictly decodes and validates the router's JSON output.
func parseDecision(raw string) (Decision, error) {
	var dec Decision
	trimmed := strings.TrimSpace(raw)
	d := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	d.DisallowUnknownFields()
	if err := d.Decode(&dec); err != nil {
		return dec, fmt.Errorf("malformed decision: %w", err)
	}
	if !KnownAgent(dec.Next) {
		return dec, fmt.Errorf("decision names unknown agent %q", dec.Next)
	}
	return dec, nil
}
