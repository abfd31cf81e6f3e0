package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"draftflow/pkg/logger"
	"draftflow/pkg/models"
	"draftflow/pkg/stream"
)

// Step is one replay-safe agent unit: a single model invocation whose
// deltas are forwarded to the run's stream writer as they arrive.
type Step struct {
	Name     AgentName
	Provider ModelProvider
	System   string
	// Progress, when set, is streamed as a data-progress note before the
	// model call so clients see activity ahead of the first token.
	Progress string
	Tools    *ToolSet
	Timeout  time.Duration
}

// StepResult is the outcome of one agent step.
type StepResult struct {
	// ShouldContinue is true when the model asked for tools and expects
	// another turn. The orchestrator still enforces the loop budget.
	ShouldContinue bool                `json:"should_continue"`
	FinishReason   models.FinishReason `json:"finish_reason"`
	// Parts is the structured response content in emission order,
	// identifiers unassigned until the store finalizes them.
	Parts []models.Part `json:"parts"`
	// ModelTurns are the history entries to feed into the next iteration.
	ModelTurns []ModelMessage `json:"model_turns"`
}

// Run invokes the model once, forwarding every delta to w. Stream writes
// all happen before Run returns; the caller persists Parts afterwards.
// A model-capability failure or timeout is reported as FinishError in the
// result, not as an error; the error return is reserved for cancellation
// and stream faults, which abort the run instead of finalizing it.
func (s *Step) Run(ctx context.Context, history []ModelMessage, w *stream.Writer) (StepResult, error) {
	var res StepResult

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if s.Progress != "" {
		if err := w.Write(models.Chunk{Type: models.ChunkProgress, Text: s.Progress}); err != nil {
			return res, err
		}
		res.Parts = append(res.Parts, models.Part{Type: models.PartProgress, Text: s.Progress})
	}

	req := &Request{System: s.System, Messages: history, Tools: s.Tools.Defs()}
	deltas, err := s.Provider.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return res, err
		}
		logger.Error("model_generate_failed", "agent", s.Name, "provider", s.Provider.Name(), "error", err)
		ModelErrors.Inc()
		res.FinishReason = models.FinishError
		return res, nil
	}

	var (
		text      strings.Builder
		reasoning strings.Builder
		toolTurns []ModelMessage
		finish    models.FinishReason
	)
	flushText := func() {
		if text.Len() > 0 {
			res.Parts = append(res.Parts, models.Part{Type: models.PartText, Text: text.String()})
			text.Reset()
		}
		if reasoning.Len() > 0 {
			res.Parts = append(res.Parts, models.Part{Type: models.PartReasoning, Text: reasoning.String()})
			reasoning.Reset()
		}
	}

loop:
	for {
		var d Delta
		var ok bool
		select {
		case d, ok = <-deltas:
			if !ok {
				break loop
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Warn("model_step_timeout", "agent", s.Name)
				ModelErrors.Inc()
				flushText()
				res.FinishReason = models.FinishError
				return res, nil
			}
			return res, ctx.Err()
		}

		switch d.Type {
		case DeltaText:
			if err := w.Write(models.Chunk{Type: models.ChunkTextDelta, Text: d.Text}); err != nil {
				return res, err
			}
			text.WriteString(d.Text)
		case DeltaReasoning:
			if err := w.Write(models.Chunk{Type: models.ChunkReasoningDelta, Text: d.Text}); err != nil {
				return res, err
			}
			reasoning.WriteString(d.Text)
		case DeltaSource:
			if err := w.Write(models.Chunk{Type: models.ChunkSource, URL: d.URL, Title: d.Title}); err != nil {
				return res, err
			}
			flushText()
			res.Parts = append(res.Parts, models.Part{Type: models.PartSourceURL, URL: d.URL, Title: d.Title})
		case DeltaToolCall:
			flushText()
			if err := w.Write(models.Chunk{
				Type: models.ChunkToolInput, ToolCallID: d.ToolCallID, ToolType: d.ToolName, Payload: d.Args,
			}); err != nil {
				return res, err
			}
			part := models.Part{
				Type: models.PartTool, ToolCallID: d.ToolCallID, ToolType: d.ToolName,
				State: models.ToolPending, Input: d.Args,
			}
			out, terr := s.Tools.Execute(ctx, d.ToolName, d.Args)
			if terr != nil {
				if _, known := s.Tools.Get(d.ToolName); !known {
					// schema mismatch, not a recoverable tool failure
					return res, terr
				}
				part.State = models.ToolOutputError
				part.ErrorText = terr.Error()
				payload, _ := json.Marshal(map[string]string{"error": terr.Error()})
				if err := w.Write(models.Chunk{
					Type: models.ChunkToolOutput, ToolCallID: d.ToolCallID, ToolType: d.ToolName, Payload: payload,
				}); err != nil {
					return res, err
				}
				toolTurns = append(toolTurns, ModelMessage{
					Role: "tool", ToolCallID: d.ToolCallID, ToolName: d.ToolName, Result: payload,
				})
			} else {
				part.State = models.ToolOutputAvailable
				part.Output = out
				if err := w.Write(models.Chunk{
					Type: models.ChunkToolOutput, ToolCallID: d.ToolCallID, ToolType: d.ToolName, Payload: out,
				}); err != nil {
					return res, err
				}
				toolTurns = append(toolTurns, ModelMessage{
					Role: "tool", ToolCallID: d.ToolCallID, ToolName: d.ToolName, Result: out,
				})
			}
			res.Parts = append(res.Parts, part)
		case DeltaFinish:
			finish = d.FinishReason
		}
	}
	flushText()

	if finish == "" {
		// provider closed the stream without a terminal reason
		logger.Error("model_stream_no_finish", "agent", s.Name, "provider", s.Provider.Name())
		ModelErrors.Inc()
		finish = models.FinishError
	}
	res.FinishReason = finish
	res.ShouldContinue = finish == models.FinishToolCalls

	if assistant := assistantTurn(res.Parts); assistant.Content != "" || len(toolTurns) > 0 {
		res.ModelTurns = append(res.ModelTurns, assistant)
		res.ModelTurns = append(res.ModelTurns, toolTurns...)
	}
	return res, nil
}

// assistantTurn condenses the step's visible text into one history entry.
func assistantTurn(parts []models.Part) ModelMessage {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == models.PartText {
			b.WriteString(p.Text)
		}
	}
	return ModelMessage{Role: models.RoleAssistant, Content: b.String()}
}
