package api

import (
	"time"

	"github.com/nicodishanthj/fieldq/internal/schema"
)

type queryRequest struct {
	Prompt    string `json:"prompt"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

type schemaResponse struct {
	Collections map[string]schema.CollectionShape `json:"collections"`
	CapturedAt  time.Time                         `json:"captured_at"`
	ExpiresAt   time.Time                         `json:"expires_at"`
	Rendered    string                            `json:"rendered"`
}
