package sqlite

import "time"

// UsageRecord is one model call's token accounting.
type UsageRecord struct {
	ID           int64     `db:"id" json:"id"`
	RequestID    string    `db:"request_id" json:"request_id"`
	Provider     string    `db:"provider" json:"provider"`
	Model        string    `db:"model" json:"model"`
	InputTokens  int64     `db:"input_tokens" json:"input_tokens"`
	CachedTokens int64     `db:"cached_tokens" json:"cached_tokens"`
	OutputTokens int64     `db:"output_tokens" json:"output_tokens"`
	CostUSD      float64   `db:"cost_usd" json:"cost_usd"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AuditRecord is a security or permission denial.
type AuditRecord struct {
	ID         int64     `db:"id" json:"id"`
	RequestID  string    `db:"request_id" json:"request_id"`
	Identity   string    `db:"identity" json:"identity"`
	Role       string    `db:"role" json:"role"`
	Kind       string    `db:"kind" json:"kind"`
	Reason     string    `db:"reason" json:"reason"`
	Collection string    `db:"collection" json:"collection"`
	Operation  string    `db:"operation" json:"operation"`
	Prompt     string    `db:"prompt" json:"prompt"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// UsageTotals aggregates usage rows.
type UsageTotals struct {
	Calls        int64   `db:"calls" json:"calls"`
	InputTokens  int64   `db:"input_tokens" json:"input_tokens"`
	CachedTokens int64   `db:"cached_tokens" json:"cached_tokens"`
	OutputTokens int64   `db:"output_tokens" json:"output_tokens"`
	CostUSD      float64 `db:"cost_usd" json:"cost_usd"`
}

// AuditFilter narrows RecentAudit.
type AuditFilter struct {
	Identity string
	Kind     string
	Since    time.Time
	Limit    int
}
