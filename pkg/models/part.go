package models

import (
	"encoding/json"
	"strings"
)

// PartType names a part partition. Parts of different types live in
// separate key ranges so assembled reads can fetch them in parallel.
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartTool           PartType = "tool"
	PartSourceURL      PartType = "source-url"
	PartSourceDocument PartType = "source-document"
	PartFile           PartType = "file"
	PartProgress       PartType = "data-progress"
)

// PartTypes lists every known partition, in the order partitions are
// scanned. An unknown type on a stored row is a schema mismatch and is
// treated as fatal by readers.
var PartTypes = []PartType{
	PartText, PartReasoning, PartTool,
	PartSourceURL, PartSourceDocument, PartFile, PartProgress,
}

// KnownPartType reports whether t is a recognized partition.
func KnownPartType(t PartType) bool {
	for _, k := range PartTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ToolState values for Part.State.
type ToolState string

const (
	ToolPending         ToolState = "pending"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
	ToolOutputDenied    ToolState = "output-denied"
)

// Part is one typed fragment of message content. The identifier is
// assigned at the moment the part is finalized, so sorting a message's
// parts by ID reproduces emission order.
type Part struct {
	ID      string   `json:"id"`
	Message string   `json:"message"`
	Type    PartType `json:"type"`

	// text / reasoning / data-progress
	Text string `json:"text,omitempty"`

	// tool invocation
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolType   string          `json:"tool_type,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"error_text,omitempty"`

	// citation / file
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// Empty reports whether the part carries no content worth persisting.
// Blank text parts show up routinely when a model stream closes without a
// trailing delta; the store skips them.
func (p Part) Empty() bool {
	switch p.Type {
	case PartText, PartReasoning, PartProgress:
		return strings.TrimSpace(p.Text) == ""
	case PartTool:
		return p.ToolCallID == ""
	case PartSourceURL:
		return p.URL == ""
	case PartSourceDocument:
		return p.Title == "" && p.URL == ""
	case PartFile:
		return p.URL == ""
	}
	return true
}
