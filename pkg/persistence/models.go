package persistence

import "time"

// SessionRow is one stored chat session. Data is the JSON-encoded session.
type SessionRow struct {
	UpdatedAt time.Time
	ExpiresAt time.Time // zero when the session never expires
	ID        string
	Data      string
}

// UsageRow is one billed model call.
type UsageRow struct {
	CreatedAt        time.Time
	Provider         string
	Model            string
	UserID           string
	SessionID        string
	Feature          string
	ID               int64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// UsageFilter selects usage rows. Empty fields match everything.
type UsageFilter struct {
	Since     time.Time
	UserID    string
	SessionID string
	Limit     int
}

// UsageTotals aggregates usage rows.
type UsageTotals struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// CacheRow is a cached completion.
type CacheRow struct {
	CreatedAt time.Time
	ExpiresAt time.Time
	Key       string
	Value     string
}

// Memory subject kinds.
const (
	SubjectConsumer = "consumer"
	SubjectProvider = "provider"
)

// MemoryRow is the long-lived memory of a consumer or provider.
// Embedding is a JSON array of floats, empty when never computed.
type MemoryRow struct {
	UpdatedAt time.Time
	Kind      string
	SubjectID string
	Data      string
	Embedding string
}

// InteractionRow records one turn outcome for a subject.
type InteractionRow struct {
	CreatedAt time.Time
	Kind      string
	SubjectID string
	SessionID string
	Intent    string
	Outcome   string
	Data      string
	ID        int64
}
