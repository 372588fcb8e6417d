// Package llm provides the generation collaborator clients. The contract is
// deliberately small: the code generator only needs completions, and nothing
// downstream may assume the returned code compiles or runs — both are checked
// by the validator and the sandbox.
package llm

import (
	"context"
	"fmt"
	"strings"

	"moneywright/internal/config"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// New builds a client for the configured provider.
func New(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return NewOpenAIClient(cfg), nil
	case "gemini":
		return NewGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want openai or gemini)", cfg.Provider)
	}
}
