package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"draftflow/pkg/agent"
	"draftflow/pkg/ids"
	"draftflow/pkg/logger"
	"draftflow/pkg/models"
	"draftflow/pkg/store"
	"draftflow/pkg/stream"
)

// Fixed step indices. The agent loop occupies [stepLoopBase,
// stepLoopBase+loopCap); the tail steps sit above the loop ceiling so
// their keys never collide regardless of how many iterations ran. The
// loop cap is frozen on the run record at CreateRun, so a re-drive after
// a config change still lands on the same tail keys.
const (
	stepPersistInput = 0
	stepCreateRun    = 1
	stepLoadHistory  = 2
	stepRoute        = 3
	stepStartStream  = 4
	stepLoopBase     = 5
)

// TurnInput is one user turn handed to the orchestrator.
type TurnInput struct {
	Chat  string
	Owner string
	Text  string
	RunID string
}

// RunResult summarizes a completed run.
type RunResult struct {
	RunID        string              `json:"run_id"`
	Chat         string              `json:"chat"`
	Message      string              `json:"message"`
	FinishReason models.FinishReason `json:"finish_reason"`
	Loops        int                 `json:"loops"`
}

// Orchestrator drives one durable workflow execution per user turn. Runs
// for different chats execute fully concurrently; within a run, steps are
// strictly sequential.
type Orchestrator struct {
	Streams  *stream.Registry
	Runner   StepRunner
	Router   *agent.Router
	Agents   map[agent.AgentName]*agent.Step
	MaxLoops int
}

// ProcessTurn executes (or re-drives) the workflow for one user turn. The
// whole function is safe to replay from the top: every state whose work is
// already logged returns its previous result instead of re-executing, so a
// crash at any boundary resumes instead of duplicating side effects.
func (o *Orchestrator) ProcessTurn(ctx context.Context, in TurnInput) (*RunResult, error) {
	if in.RunID == "" || in.Chat == "" {
		return nil, fmt.Errorf("turn requires chat and run id")
	}
	if o.MaxLoops <= 0 {
		return nil, fmt.Errorf("orchestrator missing max loops; ensure config defaults applied")
	}

	// PersistInput
	userMsgID, err := o.persistInput(ctx, in)
	if err != nil {
		return nil, err
	}

	// CreateRun
	asstMsgID, loopCap, err := o.createRun(ctx, in)
	if err != nil {
		return nil, err
	}

	// LoadHistory
	history, err := o.loadHistory(ctx, in)
	if err != nil {
		return nil, err
	}

	// Route: one decision per user turn, before the tool loop.
	decision, err := o.route(ctx, in, history)
	if err != nil {
		return nil, err
	}
	step, ok := o.Agents[decision.Next]
	if !ok {
		return nil, fmt.Errorf("router selected unregistered agent %q", decision.Next)
	}

	// The channel is (re)opened on every drive; a restart recovers the
	// persisted backlog before any new chunk is written.
	ch, err := o.Streams.Open(in.RunID)
	if err != nil {
		return nil, err
	}

	// StartStream
	if err := o.startStream(ctx, in, ch, asstMsgID); err != nil {
		return nil, err
	}

	// AgentLoop, bounded by the iteration cap the run was created with.
	finish := models.FinishError
	loops := 0
	for i := 0; i < loopCap; i++ {
		res, err := o.loopIteration(ctx, in, i, step, history, ch, asstMsgID)
		if err != nil {
			return nil, err
		}
		loops++
		finish = res.FinishReason
		history = append(history, res.ModelTurns...)
		if !res.ShouldContinue {
			break
		}
	}

	// FinishStream
	if err := o.finishStream(ctx, in, ch, asstMsgID, finish, loopCap); err != nil {
		return nil, err
	}

	// PersistOutput
	if err := o.persistOutput(ctx, in, asstMsgID, finish, loopCap); err != nil {
		return nil, err
	}

	// ClearRun: strictly after every part is durably stored.
	if err := o.clearRun(ctx, in, asstMsgID, loopCap); err != nil {
		return nil, err
	}

	logger.Info("run_completed", "run", in.RunID, "chat", in.Chat, "user_msg", userMsgID, "loops", loops, "finish", finish)
	return &RunResult{
		RunID: in.RunID, Chat: in.Chat, Message: asstMsgID,
		FinishReason: finish, Loops: loops,
	}, nil
}

func (o *Orchestrator) persistInput(ctx context.Context, in TurnInput) (string, error) {
	data, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepPersistInput}, func(ctx context.Context, tx *store.Txn) ([]byte, error) {
		now := time.Now().UTC().UnixNano()
		if _, err := store.GetChat(in.Chat); err != nil {
			if err != store.ErrNotFound {
				return nil, err
			}
			c := models.Chat{ID: in.Chat, Owner: in.Owner, CreatedTS: now, UpdatedTS: now}
			if err := tx.SaveChat(c); err != nil {
				return nil, err
			}
		}
		msgID := ids.New()
		if err := tx.SaveMessage(models.Message{ID: msgID, Chat: in.Chat, Role: models.RoleUser, TS: now}); err != nil {
			return nil, err
		}
		if _, err := tx.InsertParts(in.Chat, msgID, []models.Part{{Type: models.PartText, Text: in.Text}}); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"user_msg": msgID})
	})
	if err != nil {
		return "", err
	}
	var out struct {
		UserMsg string `json:"user_msg"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("corrupt step log for PersistInput: %w", err)
	}
	return out.UserMsg, nil
}

func (o *Orchestrator) createRun(ctx context.Context, in TurnInput) (string, int, error) {
	data, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepCreateRun}, func(ctx context.Context, tx *store.Txn) ([]byte, error) {
		now := time.Now().UTC().UnixNano()
		msgID := ids.New()
		if err := tx.SaveMessage(models.Message{
			ID: msgID, Chat: in.Chat, Role: models.RoleAssistant, RunID: in.RunID, TS: now,
		}); err != nil {
			return nil, err
		}
		if err := tx.SaveRun(models.Run{
			ID: in.RunID, Chat: in.Chat, Message: msgID, Status: models.RunRunning,
			MaxLoops: o.MaxLoops, StartedTS: now,
		}); err != nil {
			return nil, err
		}
		RunsStarted.Inc()
		return json.Marshal(map[string]any{"assistant_msg": msgID, "max_loops": o.MaxLoops})
	})
	if err != nil {
		return "", 0, err
	}
	var out struct {
		AssistantMsg string `json:"assistant_msg"`
		MaxLoops     int    `json:"max_loops"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", 0, fmt.Errorf("corrupt step log for CreateRun: %w", err)
	}
	if out.MaxLoops <= 0 {
		out.MaxLoops = o.MaxLoops
	}
	return out.AssistantMsg, out.MaxLoops, nil
}

func (o *Orchestrator) loadHistory(ctx context.Context, in TurnInput) ([]agent.ModelMessage, error) {
	data, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepLoadHistory}, func(ctx context.Context, _ *store.Txn) ([]byte, error) {
		msgs, err := store.GetMessages(in.Chat)
		if err != nil {
			return nil, err
		}
		history := make([]agent.ModelMessage, 0, len(msgs))
		for _, m := range msgs {
			if m.Role == models.RoleAssistant && m.RunID != "" {
				// the in-flight message this run is producing
				continue
			}
			content := flattenText(m.Parts)
			if content == "" {
				continue
			}
			history = append(history, agent.ModelMessage{Role: m.Role, Content: content})
		}
		return json.Marshal(history)
	})
	if err != nil {
		return nil, err
	}
	var history []agent.ModelMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("corrupt step log for LoadHistory: %w", err)
	}
	return history, nil
}

func (o *Orchestrator) route(ctx context.Context, in TurnInput, history []agent.ModelMessage) (agent.Decision, error) {
	var dec agent.Decision
	data, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepRoute}, func(ctx context.Context, _ *store.Txn) ([]byte, error) {
		d, err := o.Router.Decide(ctx, history)
		if err != nil {
			return nil, err
		}
		return json.Marshal(d)
	})
	if err != nil {
		return dec, err
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return dec, fmt.Errorf("corrupt step log for Route: %w", err)
	}
	return dec, nil
}

func (o *Orchestrator) startStream(ctx context.Context, in TurnInput, ch *stream.Channel, msgID string) error {
	_, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepStartStream}, func(ctx context.Context, _ *store.Txn) ([]byte, error) {
		w, err := ch.Writer(ctx)
		if err != nil {
			return nil, err
		}
		defer w.Release()
		if err := w.Write(models.Chunk{Type: models.ChunkStart, MessageID: msgID}); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"started": true})
	})
	return err
}

func (o *Orchestrator) loopIteration(ctx context.Context, in TurnInput, i int, step *agent.Step, history []agent.ModelMessage, ch *stream.Channel, msgID string) (agent.StepResult, error) {
	var res agent.StepResult
	data, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepLoopBase + i}, func(ctx context.Context, tx *store.Txn) ([]byte, error) {
		w, err := ch.Writer(ctx)
		if err != nil {
			return nil, err
		}
		defer w.Release()
		r, err := step.Run(ctx, history, w)
		if err != nil {
			return nil, err
		}
		// stream writes are done; release before persisting parts
		w.Release()
		written, err := tx.InsertParts(in.Chat, msgID, r.Parts)
		if err != nil {
			return nil, err
		}
		r.Parts = written
		return json.Marshal(r)
	})
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("corrupt step log for AgentLoop[%d]: %w", i, err)
	}
	return res, nil
}

func (o *Orchestrator) finishStream(ctx context.Context, in TurnInput, ch *stream.Channel, msgID string, finish models.FinishReason, loopCap int) error {
	_, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepLoopBase + loopCap}, func(ctx context.Context, tx *store.Txn) ([]byte, error) {
		if ch.Closed() {
			// a prior drive wrote the finish chunk and closed the channel
			// but crashed before the step-log row landed; only the row is
			// missing, so just log it
			return json.Marshal(map[string]string{"finish": string(finish)})
		}
		w, err := ch.Writer(ctx)
		if err != nil {
			return nil, err
		}
		defer w.Release()
		if finish == models.FinishError {
			note := "the assistant hit an error; partial output was kept"
			if err := w.Write(models.Chunk{Type: models.ChunkProgress, Text: note}); err != nil {
				return nil, err
			}
			if _, err := tx.InsertParts(in.Chat, msgID, []models.Part{{Type: models.PartProgress, Text: note}}); err != nil {
				return nil, err
			}
		}
		if err := w.Write(models.Chunk{Type: models.ChunkFinish, FinishReason: finish}); err != nil {
			return nil, err
		}
		w.Release()
		if err := ch.Close(); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"finish": string(finish)})
	})
	return err
}

func (o *Orchestrator) persistOutput(ctx context.Context, in TurnInput, msgID string, finish models.FinishReason, loopCap int) error {
	_, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepLoopBase + loopCap + 1}, func(ctx context.Context, tx *store.Txn) ([]byte, error) {
		// parts were persisted incrementally after each iteration; this
		// boundary seals the run record and touches chat metadata
		now := time.Now().UTC().UnixNano()
		run, err := store.GetRun(in.RunID)
		if err != nil {
			return nil, err
		}
		run.Status = models.RunComplete
		run.FinishReason = finish
		run.CompletedTS = now
		if err := tx.SaveRun(run); err != nil {
			return nil, err
		}
		if c, err := store.GetChat(in.Chat); err == nil {
			c.UpdatedTS = now
			if c.Title == "" {
				c.Title = autoTitle(in.Text)
			}
			if err := tx.SaveChat(c); err != nil {
				return nil, err
			}
		}
		RunsCompleted.Inc()
		return json.Marshal(map[string]bool{"persisted": true})
	})
	return err
}

func (o *Orchestrator) clearRun(ctx context.Context, in TurnInput, msgID string, loopCap int) error {
	_, _, err := o.Runner.Do(ctx, StepKey{in.RunID, stepLoopBase + loopCap + 2}, func(ctx context.Context, tx *store.Txn) ([]byte, error) {
		if err := tx.ClearMessageRun(in.Chat, msgID); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"cleared": true})
	})
	return err
}

func flattenText(parts []models.Part) string {
	out := ""
	for _, p := range parts {
		if p.Type == models.PartText {
			out += p.Text
		}
	}
	return out
}

// autoTitle derives a chat title from the first user input.
func autoTitle(text string) string {
	const max = 48
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
