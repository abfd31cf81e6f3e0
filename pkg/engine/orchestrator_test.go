package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"draftflow/pkg/agent"
	"draftflow/pkg/catalog"
	"draftflow/pkg/models"
	"draftflow/pkg/store"
	"draftflow/pkg/stream"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func newOrchestrator(t *testing.T, dir string, p agent.ModelProvider, maxLoops int) *Orchestrator {
	t.Helper()
	streams, err := stream.NewRegistry(dir, false, 1<<20)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	reg, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	return &Orchestrator{
		Streams:  streams,
		Runner:   StoreRunner{},
		Router:   &agent.Router{Provider: p},
		Agents:   agent.BuildAgents(p, reg, 5*time.Second),
		MaxLoops: maxLoops,
	}
}

func drainRun(t *testing.T, o *Orchestrator, runID string) []models.Chunk {
	t.Helper()
	ch, err := o.Streams.Lookup(runID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rd := ch.Attach(0)
	var out []models.Chunk
	for {
		c, err := rd.Next(ctx)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, c)
	}
}

func TestProcessTurnEndToEnd(t *testing.T) {
	openTestStore(t)
	o := newOrchestrator(t, t.TempDir(), agent.OfflineProvider{}, 5)

	res, err := o.ProcessTurn(context.Background(), TurnInput{
		Chat: "c1", Owner: "u1", Text: "write me a tweet about go", RunID: "run-1",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.FinishReason != models.FinishStop {
		t.Fatalf("unexpected finish: %s", res.FinishReason)
	}
	// research agent: one tool iteration, then the summarizing turn
	if res.Loops != 2 {
		t.Fatalf("expected 2 loops, got %d", res.Loops)
	}

	msgs, err := store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant, got %d messages", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("roles out of order: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].RunID != "" {
		t.Fatalf("marker not cleared after completion: %q", msgs[1].RunID)
	}
	var sawTool, sawText bool
	for _, p := range msgs[1].Parts {
		switch p.Type {
		case models.PartTool:
			sawTool = true
		case models.PartText:
			sawText = true
		}
	}
	if !sawTool || !sawText {
		t.Fatalf("assistant parts incomplete: %+v", msgs[1].Parts)
	}

	run, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != models.RunComplete || run.FinishReason != models.FinishStop {
		t.Fatalf("unexpected run record: %+v", run)
	}

	c, err := store.GetChat("c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if c.Title == "" {
		t.Fatalf("auto title missing")
	}

	chunks := drainRun(t, o, "run-1")
	if chunks[0].Type != models.ChunkStart || chunks[0].MessageID != msgs[1].ID {
		t.Fatalf("stream must open with a start chunk for the assistant message: %+v", chunks[0])
	}
	if chunks[len(chunks)-1].Type != models.ChunkFinish {
		t.Fatalf("stream must end with finish: %+v", chunks[len(chunks)-1])
	}
}

func TestConfirmationRoutesToDrafting(t *testing.T) {
	openTestStore(t)
	o := newOrchestrator(t, t.TempDir(), agent.OfflineProvider{}, 5)

	if _, err := o.ProcessTurn(context.Background(), TurnInput{
		Chat: "c1", Owner: "u1", Text: "write me a tweet about go", RunID: "run-1",
	}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := o.ProcessTurn(context.Background(), TurnInput{
		Chat: "c1", Owner: "u1", Text: "confirmed, looks good", RunID: "run-2",
	}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	msgs, err := store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	var progress string
	for _, p := range msgs[3].Parts {
		if p.Type == models.PartProgress {
			progress = p.Text
			break
		}
	}
	if progress != "drafting..." {
		t.Fatalf("confirmed turn should reach the drafting agent, got progress %q", progress)
	}
}

func TestLoopBudgetIsEnforced(t *testing.T) {
	openTestStore(t)

	// a model that asks for the same tool forever
	args, _ := json.Marshal(map[string]string{"query": "go"})
	greedy := agent.NewScriptedProvider([]agent.Delta{
		{Type: agent.DeltaToolCall, ToolCallID: "call-1", ToolName: "catalog_search", Args: args},
		{Type: agent.DeltaFinish, FinishReason: models.FinishToolCalls},
	})
	o := newOrchestrator(t, t.TempDir(), greedy, 3)

	res, err := o.ProcessTurn(context.Background(), TurnInput{
		Chat: "c1", Owner: "u1", Text: "loop forever", RunID: "run-1",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Loops != 3 {
		t.Fatalf("loop budget ignored: ran %d iterations", res.Loops)
	}
	if res.FinishReason != models.FinishToolCalls {
		t.Fatalf("unexpected finish: %s", res.FinishReason)
	}
	msgs, err := store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[1].RunID != "" {
		t.Fatalf("capped run must still finalize and clear its marker")
	}
}

// hangingProvider emits one delta and then stalls without closing the
// channel, so only cancellation can end the step.
type hangingProvider struct{}

func (hangingProvider) Name() string { return "hanging" }
func (hangingProvider) Generate(context.Context, *agent.Request) (<-chan agent.Delta, error) {
	out := make(chan agent.Delta, 1)
	out <- agent.Delta{Type: agent.DeltaText, Text: "par"}
	return out, nil
}

func TestCrashRecoveryReplaysWithoutDuplicates(t *testing.T) {
	openTestStore(t)
	dir := t.TempDir()

	o1 := newOrchestrator(t, dir, hangingProvider{}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := o1.ProcessTurn(ctx, TurnInput{
			Chat: "c1", Owner: "u1", Text: "write me a tweet about go", RunID: "run-1",
		})
		errCh <- err
	}()
	// give the run time to persist input and start streaming, then "crash"
	time.Sleep(200 * time.Millisecond)
	cancel()
	if err := <-errCh; err == nil {
		t.Fatalf("expected aborted first drive")
	}

	msgs, err := store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant after crash, got %d", len(msgs))
	}
	if msgs[1].RunID != "run-1" {
		t.Fatalf("marker must survive the crash, got %q", msgs[1].RunID)
	}

	// re-drive with a fresh process: new registry over the same dir
	o2 := newOrchestrator(t, dir, agent.OfflineProvider{}, 5)
	res, err := o2.ProcessTurn(context.Background(), TurnInput{
		Chat: "c1", Owner: "u1", Text: "write me a tweet about go", RunID: "run-1",
	})
	if err != nil {
		t.Fatalf("re-drive: %v", err)
	}
	if res.FinishReason != models.FinishStop {
		t.Fatalf("unexpected finish after re-drive: %s", res.FinishReason)
	}

	msgs, err = store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	// replay must not mint new messages
	if len(msgs) != 2 {
		t.Fatalf("re-drive duplicated messages: got %d", len(msgs))
	}
	if msgs[1].RunID != "" {
		t.Fatalf("marker not cleared after re-drive")
	}
	var userTexts int
	for _, p := range msgs[0].Parts {
		if p.Type == models.PartText {
			userTexts++
		}
	}
	if userTexts != 1 {
		t.Fatalf("user input duplicated: %d text parts", userTexts)
	}

	chunks := drainRun(t, o2, "run-1")
	starts := 0
	for _, c := range chunks {
		if c.Type == models.ChunkStart {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("start chunk written %d times", starts)
	}
	if chunks[len(chunks)-1].Type != models.ChunkFinish {
		t.Fatalf("recovered stream must end with finish")
	}
}

// crashRunner aborts one configured step after its side effects ran but
// before anything reached the store, the way a process death between a
// step's work and its log row would.
type crashRunner struct {
	inner   StoreRunner
	failAt  int
	tripped bool
}

func (c *crashRunner) Do(ctx context.Context, key StepKey, fn func(ctx context.Context, tx *store.Txn) ([]byte, error)) ([]byte, bool, error) {
	if key.Index == c.failAt && !c.tripped {
		c.tripped = true
		tx, err := store.NewTxn()
		if err != nil {
			return nil, false, err
		}
		if _, err := fn(ctx, tx); err != nil {
			tx.Discard()
			return nil, false, err
		}
		tx.Discard()
		return nil, false, errors.New("interrupted before step commit")
	}
	return c.inner.Do(ctx, key, fn)
}

func TestFinishCrashStillResumable(t *testing.T) {
	openTestStore(t)
	dir := t.TempDir()
	in := TurnInput{Chat: "c1", Owner: "u1", Text: "write me a tweet about go", RunID: "run-1"}

	// first drive dies after the finish chunk landed and the channel
	// closed, but before the step was logged
	o1 := newOrchestrator(t, dir, agent.OfflineProvider{}, 5)
	o1.Runner = &crashRunner{failAt: stepLoopBase + 5}
	if _, err := o1.ProcessTurn(context.Background(), in); err == nil {
		t.Fatalf("expected interrupted first drive")
	}
	msgs, err := store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[1].RunID != "run-1" {
		t.Fatalf("marker must survive the crash, got %q", msgs[1].RunID)
	}

	// a fresh process recovers the channel as already closed; the
	// re-drive must complete instead of failing on the closed stream
	o2 := newOrchestrator(t, dir, agent.OfflineProvider{}, 5)
	res, err := o2.ProcessTurn(context.Background(), in)
	if err != nil {
		t.Fatalf("re-drive: %v", err)
	}
	if res.FinishReason != models.FinishStop {
		t.Fatalf("unexpected finish after re-drive: %s", res.FinishReason)
	}
	msgs, err = store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[1].RunID != "" {
		t.Fatalf("marker not cleared after re-drive")
	}
	chunks := drainRun(t, o2, "run-1")
	finishes := 0
	for _, c := range chunks {
		if c.Type == models.ChunkFinish {
			finishes++
		}
	}
	if finishes != 1 {
		t.Fatalf("finish chunk written %d times", finishes)
	}
	if chunks[len(chunks)-1].Type != models.ChunkFinish {
		t.Fatalf("finish must stay the last chunk")
	}
}

func TestStepCrashLeavesNoPartialRows(t *testing.T) {
	cases := []struct {
		name   string
		failAt int
	}{
		{"persist_input", stepPersistInput},
		{"create_run", stepCreateRun},
		{"first_iteration", stepLoopBase},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			openTestStore(t)
			dir := t.TempDir()
			in := TurnInput{Chat: "c1", Owner: "u1", Text: "write me a tweet about go", RunID: "run-1"}

			o1 := newOrchestrator(t, dir, agent.OfflineProvider{}, 5)
			o1.Runner = &crashRunner{failAt: tc.failAt}
			if _, err := o1.ProcessTurn(context.Background(), in); err == nil {
				t.Fatalf("expected interrupted first drive")
			}
			if tc.failAt == stepPersistInput {
				// the aborted step's writes must not be visible at all
				if _, err := store.GetChat("c1"); err != store.ErrNotFound {
					t.Fatalf("aborted step left rows behind: %v", err)
				}
			}
			if tc.failAt == stepCreateRun {
				if _, err := store.GetRun("run-1"); err != store.ErrNotFound {
					t.Fatalf("aborted step left a run record behind: %v", err)
				}
			}

			o2 := newOrchestrator(t, dir, agent.OfflineProvider{}, 5)
			res, err := o2.ProcessTurn(context.Background(), in)
			if err != nil {
				t.Fatalf("re-drive: %v", err)
			}
			if res.FinishReason != models.FinishStop {
				t.Fatalf("unexpected finish after re-drive: %s", res.FinishReason)
			}

			msgs, err := store.GetMessages("c1")
			if err != nil {
				t.Fatalf("GetMessages: %v", err)
			}
			if len(msgs) != 2 {
				t.Fatalf("expected user+assistant, got %d messages", len(msgs))
			}
			userParts, err := store.CountParts("c1", msgs[0].ID)
			if err != nil {
				t.Fatalf("CountParts: %v", err)
			}
			if userParts != 1 {
				t.Fatalf("user input duplicated: %d parts", userParts)
			}
			asstParts, err := store.CountParts("c1", msgs[1].ID)
			if err != nil {
				t.Fatalf("CountParts: %v", err)
			}
			// research agent: progress+tool on the tool turn, then
			// progress+text on the summarizing turn
			if asstParts != 4 {
				t.Fatalf("assistant parts duplicated or lost: %d parts", asstParts)
			}
			if msgs[1].RunID != "" {
				t.Fatalf("marker not cleared after re-drive")
			}
		})
	}
}

func TestLoopCapFrozenAtRunCreation(t *testing.T) {
	openTestStore(t)
	dir := t.TempDir()
	in := TurnInput{Chat: "c1", Owner: "u1", Text: "loop forever", RunID: "run-1"}
	args, _ := json.Marshal(map[string]string{"query": "go"})
	script := []agent.Delta{
		{Type: agent.DeltaToolCall, ToolCallID: "call-1", ToolName: "catalog_search", Args: args},
		{Type: agent.DeltaFinish, FinishReason: models.FinishToolCalls},
	}

	// first drive caps the loop at 3 and dies right before the finish
	// step is logged
	o1 := newOrchestrator(t, dir, agent.NewScriptedProvider(script), 3)
	o1.Runner = &crashRunner{failAt: stepLoopBase + 3}
	if _, err := o1.ProcessTurn(context.Background(), in); err == nil {
		t.Fatalf("expected interrupted first drive")
	}

	// the operator raises the cap before the re-drive; the run must keep
	// replaying under the cap it was created with or its tail step keys
	// shift and the recovered, closed stream gets written again
	o2 := newOrchestrator(t, dir, agent.NewScriptedProvider(script), 6)
	res, err := o2.ProcessTurn(context.Background(), in)
	if err != nil {
		t.Fatalf("re-drive: %v", err)
	}
	if res.Loops != 3 {
		t.Fatalf("re-drive ran %d loops, want the frozen cap of 3", res.Loops)
	}
	if res.FinishReason != models.FinishToolCalls {
		t.Fatalf("unexpected finish: %s", res.FinishReason)
	}
	run, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.MaxLoops != 3 {
		t.Fatalf("run record lost its loop cap: %d", run.MaxLoops)
	}
	msgs, err := store.GetMessages("c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[1].RunID != "" {
		t.Fatalf("marker not cleared after re-drive")
	}
}

func TestResumptionAttachAndStatus(t *testing.T) {
	openTestStore(t)
	o := newOrchestrator(t, t.TempDir(), agent.OfflineProvider{}, 5)
	res := &Resumption{Streams: o.Streams}

	if _, err := res.Attach("nope", 0); err != stream.ErrUnknownRun {
		t.Fatalf("expected ErrUnknownRun, got %v", err)
	}

	if _, err := o.ProcessTurn(context.Background(), TurnInput{
		Chat: "c1", Owner: "u1", Text: "write me a tweet about go", RunID: "run-1",
	}); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	run, err := res.Status("run-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if run.Status != models.RunComplete {
		t.Fatalf("unexpected status: %s", run.Status)
	}

	all := drainRun(t, o, "run-1")
	rd, err := res.Attach("run-1", 2)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var suffix []models.Chunk
	for {
		c, nerr := rd.Next(ctx)
		if nerr == io.EOF {
			break
		}
		if nerr != nil {
			t.Fatalf("Next: %v", nerr)
		}
		suffix = append(suffix, c)
	}
	if len(suffix) != len(all)-2 {
		t.Fatalf("offset attach returned %d chunks, want %d", len(suffix), len(all)-2)
	}
}
