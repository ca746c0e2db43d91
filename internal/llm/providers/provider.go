package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type Message struct {
	Role    string
	Content string
}

// Request is a single chat generation call.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONOutput forces the model to emit a single JSON object.
	JSONOutput bool
}

// Usage is the token accounting reported by the model service.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

// Reply is the model's answer plus usage metadata.
type Reply struct {
	Content string
	Model   string
	Usage   Usage
}

type Provider interface {
	Generate(ctx context.Context, req Request) (Reply, error)
	Name() string
}

// LocalProvider answers without a model service. Every prompt is declined so
// the pipeline stays usable in development without credentials.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Generate(ctx context.Context, req Request) (Reply, error) {
	if len(req.Messages) == 0 {
		return Reply{}, fmt.Errorf("no messages provided")
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	last := strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
	payload, err := json.Marshal(map[string]any{
		"rejected":    true,
		"explanation": fmt.Sprintf("no language model is configured; cannot answer %q", last),
		"confidence":  0,
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: string(payload), Model: "local"}, nil
}

func (l *LocalProvider) Name() string {
	return "local"
}
