package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"draftflow/pkg/models"
	"draftflow/pkg/stream"
)

// stuckProvider returns a delta channel that never produces anything.
type stuckProvider struct{}

func (stuckProvider) Name() string { return "stuck" }
func (stuckProvider) Generate(context.Context, *Request) (<-chan Delta, error) {
	return make(chan Delta), nil
}

func newTestWriter(t *testing.T) (*stream.Channel, *stream.Writer) {
	t.Helper()
	reg, err := stream.NewRegistry(t.TempDir(), false, 1<<20)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ch, err := reg.Open("run-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w, err := ch.Writer(context.Background())
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	return ch, w
}

func collectChunks(t *testing.T, ch *stream.Channel) []models.Chunk {
	t.Helper()
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rd := ch.Attach(0)
	var out []models.Chunk
	for {
		c, err := rd.Next(ctx)
		if err != nil {
			return out
		}
		out = append(out, c)
	}
}

func TestStepStreamsTextAndCollectsParts(t *testing.T) {
	ch, w := newTestWriter(t)
	defer w.Release()

	step := &Step{
		Name:     AgentDrafting,
		Provider: NewScriptedProvider([]Delta{
			{Type: DeltaText, Text: "hel"},
			{Type: DeltaText, Text: "lo"},
			{Type: DeltaFinish, FinishReason: models.FinishStop},
		}),
		System:   "test",
		Progress: "drafting...",
		Tools:    NewToolSet(),
	}
	res, err := step.Run(context.Background(), nil, w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ShouldContinue {
		t.Fatalf("stop finish must not continue")
	}
	if res.FinishReason != models.FinishStop {
		t.Fatalf("unexpected finish: %s", res.FinishReason)
	}
	if len(res.Parts) != 2 || res.Parts[0].Type != models.PartProgress || res.Parts[1].Text != "hello" {
		t.Fatalf("unexpected parts: %+v", res.Parts)
	}
	if len(res.ModelTurns) != 1 || res.ModelTurns[0].Content != "hello" {
		t.Fatalf("unexpected model turns: %+v", res.ModelTurns)
	}

	w.Release()
	chunks := collectChunks(t, ch)
	want := []models.ChunkType{models.ChunkProgress, models.ChunkTextDelta, models.ChunkTextDelta}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %+v", len(want), chunks)
	}
	for i, c := range chunks {
		if c.Type != want[i] {
			t.Fatalf("chunk %d: got %s, want %s", i, c.Type, want[i])
		}
	}
}

func TestStepExecutesTool(t *testing.T) {
	ch, w := newTestWriter(t)
	defer w.Release()

	echo := Tool{
		Name: "echo",
		Run: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	}
	args := json.RawMessage(`{"q":"tweets"}`)
	step := &Step{
		Name:     AgentResearch,
		Provider: NewScriptedProvider([]Delta{
			{Type: DeltaToolCall, ToolCallID: "call-1", ToolName: "echo", Args: args},
			{Type: DeltaFinish, FinishReason: models.FinishToolCalls},
		}),
		Tools: NewToolSet(echo),
	}
	res, err := step.Run(context.Background(), nil, w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ShouldContinue {
		t.Fatalf("tool-calls finish must continue the loop")
	}
	if len(res.Parts) != 1 {
		t.Fatalf("expected 1 tool part, got %+v", res.Parts)
	}
	p := res.Parts[0]
	if p.Type != models.PartTool || p.State != models.ToolOutputAvailable || string(p.Output) != string(args) {
		t.Fatalf("unexpected tool part: %+v", p)
	}
	var sawTool bool
	for _, m := range res.ModelTurns {
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			sawTool = true
		}
	}
	if !sawTool {
		t.Fatalf("tool result missing from model turns: %+v", res.ModelTurns)
	}

	w.Release()
	chunks := collectChunks(t, ch)
	if len(chunks) != 2 || chunks[0].Type != models.ChunkToolInput || chunks[1].Type != models.ChunkToolOutput {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestStepRecordsToolFailure(t *testing.T) {
	_, w := newTestWriter(t)
	defer w.Release()

	failing := Tool{
		Name: "flaky",
		Run: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, context.DeadlineExceeded
		},
	}
	step := &Step{
		Name:     AgentResearch,
		Provider: NewScriptedProvider([]Delta{
			{Type: DeltaToolCall, ToolCallID: "call-1", ToolName: "flaky", Args: json.RawMessage(`{}`)},
			{Type: DeltaFinish, FinishReason: models.FinishToolCalls},
		}),
		Tools: NewToolSet(failing),
	}
	res, err := step.Run(context.Background(), nil, w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Parts) != 1 || res.Parts[0].State != models.ToolOutputError || res.Parts[0].ErrorText == "" {
		t.Fatalf("expected output-error part, got %+v", res.Parts)
	}
}

func TestStepUnknownToolIsFatal(t *testing.T) {
	_, w := newTestWriter(t)
	defer w.Release()

	step := &Step{
		Name:     AgentResearch,
		Provider: NewScriptedProvider([]Delta{
			{Type: DeltaToolCall, ToolCallID: "call-1", ToolName: "no_such_tool", Args: json.RawMessage(`{}`)},
		}),
		Tools: NewToolSet(),
	}
	if _, err := step.Run(context.Background(), nil, w); err == nil {
		t.Fatalf("unknown tool must abort the step")
	}
}

func TestStepMissingFinishIsError(t *testing.T) {
	_, w := newTestWriter(t)
	defer w.Release()

	step := &Step{
		Name:     AgentDrafting,
		Provider: NewScriptedProvider([]Delta{{Type: DeltaText, Text: "partial"}}),
		Tools:    NewToolSet(),
	}
	res, err := step.Run(context.Background(), nil, w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinishReason != models.FinishError || res.ShouldContinue {
		t.Fatalf("stream without finish must finalize as error: %+v", res)
	}
	// partial text is still kept
	if len(res.Parts) != 1 || res.Parts[0].Text != "partial" {
		t.Fatalf("partial output dropped: %+v", res.Parts)
	}
}

func TestStepTimeoutFinalizesWithError(t *testing.T) {
	_, w := newTestWriter(t)
	defer w.Release()

	step := &Step{
		Name:     AgentDrafting,
		Provider: stuckProvider{},
		Tools:    NewToolSet(),
		Timeout:  50 * time.Millisecond,
	}
	res, err := step.Run(context.Background(), nil, w)
	if err != nil {
		t.Fatalf("timeout must finalize, not abort: %v", err)
	}
	if res.FinishReason != models.FinishError {
		t.Fatalf("expected error finish on timeout, got %s", res.FinishReason)
	}
}

func TestStepCancellationAborts(t *testing.T) {
	_, w := newTestWriter(t)
	defer w.Release()

	step := &Step{
		Name:     AgentDrafting,
		Provider: stuckProvider{},
		Tools:    NewToolSet(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := step.Run(ctx, nil, w); err == nil {
		t.Fatalf("cancellation must abort the step")
	}
}
