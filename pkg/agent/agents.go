package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"draftflow/pkg/catalog"
)

const researchSystem = `You are the research agent for a content site.
Gather relevant findings for the user's request using the catalog_search tool,
cite sources, and end with a short summary the user can confirm before drafting.`

const draftingSystem = `You are the drafting agent for a content site.
The user has confirmed the research findings; write the requested content
concisely in the site's voice.`

// CatalogSearchTool wraps the content registry as a model-callable tool.
// Arguments: {"query": "<text>"}.
func CatalogSearchTool(reg *catalog.Registry) Tool {
	schema := json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
	return Tool{
		Name:        "catalog_search",
		Description: "Search the site content registry by title, description or tag.",
		Schema:      schema,
		Run: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid catalog_search arguments: %w", err)
			}
			hits := reg.Search(in.Query)
			out, err := json.Marshal(struct {
				Results []catalog.Entry `json:"results"`
			}{Results: hits})
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

// NewResearchStep builds the research agent.
func NewResearchStep(p ModelProvider, reg *catalog.Registry, timeout time.Duration) *Step {
	return &Step{
		Name:     AgentResearch,
		Provider: p,
		System:   researchSystem,
		Progress: "researching...",
		Tools:    NewToolSet(CatalogSearchTool(reg)),
		Timeout:  timeout,
	}
}

// NewDraftingStep builds the drafting agent.
func NewDraftingStep(p ModelProvider, timeout time.Duration) *Step {
	return &Step{
		Name:     AgentDrafting,
		Provider: p,
		System:   draftingSystem,
		Progress: "drafting...",
		Tools:    NewToolSet(),
		Timeout:  timeout,
	}
}

// BuildAgents assembles the dispatch table the orchestrator selects from
// once per user turn, keyed by the router's decision.
func BuildAgents(p ModelProvider, reg *catalog.Registry, timeout time.Duration) map[AgentName]*Step {
	return map[AgentName]*Step{
		AgentResearch: NewResearchStep(p, reg, timeout),
		AgentDrafting: NewDraftingStep(p, timeout),
	}
}
