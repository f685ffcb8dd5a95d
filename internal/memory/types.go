package memory

import "time"

// Shard is one persisted Memory Shard (spec §3), an element of the JSON
// list at <memory-root>/<cid>/<category>.json.
type Shard struct {
	Key           string    `json:"key"`
	Category      string    `json:"category"`
	Payload       any       `json:"payload"`
	Importance    int       `json:"importance"`
	Source        string    `json:"source"`
	Tags          []string  `json:"tags,omitempty"`
	TriggerCount  int       `json:"trigger_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastTriggered time.Time `json:"last_triggered"`
}

// ChangeOp is the Memory Shards agent's output unit, applied against the
// store by ApplyChanges (spec §3, §4.3).
type ChangeOp struct {
	Action     string   `json:"action"`
	Key        string   `json:"key"`
	Category   string   `json:"category"`
	Payload    any      `json:"payload,omitempty"`
	Importance int      `json:"importance,omitempty"`
	Source     string   `json:"source,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

const (
	ActionAdd = "add"
	ActionDel = "del"
)

// Valid reports whether op carries the fields spec §4.3 requires for its
// action before ApplyChanges will consider it.
func (op ChangeOp) Valid() bool {
	if op.Action == "" || op.Key == "" || op.Category == "" {
		return false
	}
	switch op.Action {
	case ActionAdd:
		return op.Source != "" && op.Payload != nil
	case ActionDel:
		return true
	default:
		return false
	}
}

// ApplyResult summarizes one ApplyChanges call.
type ApplyResult struct {
	Added   int
	Updated int
	Deleted int
}
