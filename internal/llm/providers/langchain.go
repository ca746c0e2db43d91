package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/nicodishanthj/fieldq/internal/common"
)

// LangchainProvider adapts any langchaingo model (OpenAI-compatible gateways,
// Ollama, Anthropic, ...) to the Provider contract.
type LangchainProvider struct {
	model llms.Model
	name  string
}

func NewLangchainProvider(model llms.Model, name string) *LangchainProvider {
	if strings.TrimSpace(name) == "" {
		name = "langchain"
	}
	return &LangchainProvider{model: model, name: name}
}

func (p *LangchainProvider) Generate(ctx context.Context, req Request) (Reply, error) {
	if p.model == nil {
		return Reply{}, fmt.Errorf("nil langchain model")
	}
	if len(req.Messages) == 0 {
		return Reply{}, fmt.Errorf("no messages provided")
	}
	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := schema.ChatMessageTypeHuman
		switch strings.ToLower(msg.Role) {
		case "system":
			role = schema.ChatMessageTypeSystem
		case "assistant":
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSONOutput {
		opts = append(opts, llms.WithJSONMode())
	}
	resp, err := p.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		common.Logger().Error("llm: langchain generation failed", "provider", p.name, "error", err)
		return Reply{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("no choices returned")
	}
	choice := resp.Choices[0]
	info := choice.GenerationInfo
	return Reply{
		Content: choice.Content,
		Model:   p.name,
		Usage: Usage{
			InputTokens:  intInfo(info, "PromptTokens", "prompt_tokens", "input_tokens"),
			OutputTokens: intInfo(info, "CompletionTokens", "completion_tokens", "output_tokens"),
			CachedTokens: intInfo(info, "PromptCachedTokens", "CachedTokens", "cached_tokens"),
		},
	}, nil
}

func (p *LangchainProvider) Name() string {
	return p.name
}

func intInfo(info map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
