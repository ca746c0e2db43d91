package llm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/llm/providers"
)

type (
	Message  = providers.Message
	Request  = providers.Request
	Reply    = providers.Reply
	Usage    = providers.Usage
	Provider = providers.Provider
)

// NewProvider selects a provider from the environment. FIELDQ_LLM_PROVIDER may
// be "openai", "langchain" or "local"; without it the OpenAI SDK is used when
// OPENAI_API_KEY is set and the local provider otherwise.
func NewProvider() (Provider, error) {
	logger := common.Logger()
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("FIELDQ_LLM_PROVIDER")))
	if kind == "" {
		if apiKey == "" {
			kind = "local"
		} else {
			kind = "openai"
		}
	}
	switch kind {
	case "openai":
		if apiKey == "" {
			return nil, errors.New("llm: OPENAI_API_KEY required for openai provider")
		}
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if timeoutStr := strings.TrimSpace(os.Getenv("OPENAI_HTTP_TIMEOUT")); timeoutStr != "" {
			timeout, err := time.ParseDuration(timeoutStr)
			if err != nil {
				logger.Warn("llm: invalid OPENAI_HTTP_TIMEOUT, using default", "value", timeoutStr, "error", err)
			} else {
				opts = append(opts, option.WithRequestTimeout(timeout))
			}
		}
		if endpoint := strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT")); endpoint != "" {
			logger.Info("llm: configuring OpenAI client with custom endpoint", "endpoint", endpoint)
			opts = append(opts, option.WithBaseURL(endpoint))
		}
		opts = append(opts, option.WithMaxRetries(0))
		logger.Info("llm: OpenAI provider selected")
		return providers.NewOpenAIProvider(openai.NewClient(opts...)), nil
	case "langchain":
		lcOpts := []lcopenai.Option{}
		if apiKey != "" {
			lcOpts = append(lcOpts, lcopenai.WithToken(apiKey))
		}
		if model := strings.TrimSpace(os.Getenv("OPENAI_CHAT_MODEL")); model != "" {
			lcOpts = append(lcOpts, lcopenai.WithModel(model))
		}
		if endpoint := strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT")); endpoint != "" {
			lcOpts = append(lcOpts, lcopenai.WithBaseURL(endpoint))
		}
		model, err := lcopenai.New(lcOpts...)
		if err != nil {
			return nil, fmt.Errorf("llm: init langchain model: %w", err)
		}
		logger.Info("llm: langchain provider selected")
		return providers.NewLangchainProvider(model, "langchain-openai"), nil
	case "local":
		logger.Warn("llm: no model service configured; using local provider that declines every prompt")
		return providers.NewLocalProvider(), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", kind)
	}
}

// NormalizeMessages lower-cases roles and drops blank messages.
func NormalizeMessages(messages []Message) ([]Message, error) {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		msg.Role = strings.ToLower(strings.TrimSpace(msg.Role))
		out = append(out, msg)
	}
	if len(out) == 0 {
		return nil, errors.New("no messages provided")
	}
	return out, nil
}
