package models

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
)

// Run is a resumable workflow execution, bound 1:1 to the assistant
// message it produces. The record is created before any model call and
// flipped to complete only after every part is durably persisted.
type Run struct {
	ID      string    `json:"id"`
	Chat    string    `json:"chat"`
	Message string    `json:"message"`
	Status  RunStatus `json:"status"`
	// MaxLoops freezes the agent-loop cap this run was created with, so a
	// re-drive after a config change still replays the same step keys.
	MaxLoops int `json:"max_loops,omitempty"`
	// terminal finish reason, set once complete
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	StartedTS    int64        `json:"started_ts"`
	CompletedTS  int64        `json:"completed_ts,omitempty"`
}
