package wsserver

import "github.com/prasad/loghub/internal/record"

// clientFrame is one client-to-server message.
type clientFrame struct {
	Action      string          `json:"action"` // "subscribe" | "unsubscribe" | "ping"
	ID          string          `json:"id,omitempty"`
	Filter      clientFilter    `json:"filter"`
	Since       string          `json:"since,omitempty"`
	ReplayLimit int             `json:"replay_limit,omitempty"`
	Overflow    string          `json:"overflow,omitempty"` // "drop_oldest" | "close"
}

type clientFilter struct {
	Sources  []string `json:"sources"`
	Levels   []string `json:"levels"`
	MinLevel string   `json:"min_level"`
}

// serverFrame is one server-to-client message.
type serverFrame struct {
	Type         string            `json:"type"` // "record" | "batch" | "live" | "dropped" | "error" | "pong" | "subscribed" | "closed"
	ID           string            `json:"id,omitempty"`
	Record       *record.LogRecord `json:"record,omitempty"`
	Records      []record.LogRecord `json:"records,omitempty"`
	DroppedCount int               `json:"count,omitempty"`
	Error        string            `json:"error,omitempty"`
	Reason       string            `json:"reason,omitempty"`
}
