package models

import "encoding/json"

// ChunkType discriminates stream chunks. Ordering within a run is the
// contract; types beyond this set are forward-compatible extensions.
type ChunkType string

const (
	ChunkStart          ChunkType = "start"
	ChunkTextDelta      ChunkType = "text-delta"
	ChunkReasoningDelta ChunkType = "reasoning-delta"
	ChunkToolInput      ChunkType = "tool-input"
	ChunkToolOutput     ChunkType = "tool-output"
	ChunkSource         ChunkType = "source"
	ChunkProgress       ChunkType = "data-progress"
	ChunkFinish         ChunkType = "finish"
)

// FinishReason is the terminal state of one model invocation.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool-calls"
	FinishError     FinishReason = "error"
	FinishLength    FinishReason = "length"
)

// Chunk is one typed unit of UI-visible output on a run's stream.
type Chunk struct {
	Type ChunkType `json:"type"`

	// start
	MessageID string `json:"messageId,omitempty"`

	// text-delta / reasoning-delta / data-progress
	Text string `json:"text,omitempty"`

	// tool-input / tool-output
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolType   string          `json:"toolType,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// source
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	// finish
	FinishReason FinishReason `json:"finishReason,omitempty"`
}
