package models

// Role values for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is the stored envelope for one conversation turn. Parts are
// persisted separately in type partitions and only populated on assembled
// reads; the envelope itself never carries content.
type Message struct {
	ID   string `json:"id"`
	Chat string `json:"chat"`
	Role string `json:"role"`
	// RunID is the resumability marker: non-empty while an assistant
	// message is being generated by an in-flight workflow run, cleared
	// only after every part has been durably persisted.
	RunID string `json:"run_id,omitempty"`
	TS    int64  `json:"ts"`

	// Parts is filled by the assembler, sorted by part identifier.
	Parts []Part `json:"parts,omitempty"`
}
