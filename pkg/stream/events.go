package stream

// Query lifecycle event types published on the hub and mirrored to the
// audit bus. Customer identifiers are hashed before they reach an event.
const (
	EventQueryReceived = "query.received"
	EventToolCalled    = "query.tool_called"
	EventToolRefused   = "query.tool_refused"
	EventQueryAnswered = "query.answered"
	EventQueryFailed   = "query.failed"
)

type QueryReceived struct {
	QueryID      string `json:"query_id"`
	CustomerHash string `json:"customer_hash"`
	SessionID    string `json:"session_id"`
}

type ToolCalled struct {
	QueryID string `json:"query_id"`
	Tool    string `json:"tool"`
	Round   int    `json:"round"`
	IsError bool   `json:"is_error"`
}

type ToolRefused struct {
	QueryID string `json:"query_id"`
	Tool    string `json:"tool"`
	Round   int    `json:"round"`
}

type QueryAnswered struct {
	QueryID   string `json:"query_id"`
	Source    string `json:"source,omitempty"`
	Rounds    int    `json:"rounds"`
	Refusals  int    `json:"refusals"`
	LatencyMS int64  `json:"latency_ms"`
}

type QueryFailed struct {
	QueryID string `json:"query_id"`
	Reason  string `json:"reason"`
}
