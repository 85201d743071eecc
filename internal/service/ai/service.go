package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/jervis/backend/internal/config"
	"github.com/zhouzirui/jervis/backend/internal/model/persona"
	"github.com/zhouzirui/jervis/backend/internal/service/ai/gemini"
)

var (
	ErrEmptyInput = errors.New("user text is empty")
	ErrEmptyReply = errors.New("model returned an empty reply")
)

// Service sends one user utterance to the hosted model under a fixed
// persona instruction and returns the reply text.
type Service struct {
	persona persona.Persona
	chain   compose.Runnable[map[string]any, *schema.Message]
}

// NewChatModel builds the chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.ChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%s provider is not configured", cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.NewChatModel(gemini.Config{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
		})
	case config.ProviderArk:
		return cfg.NewArkChatModel(ctx)
	case config.ProviderOpenAI:
		return newOpenAIChatModel(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewService compiles the system+user prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, p persona.Persona) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		persona: p,
		chain:   runnable,
	}, nil
}

// Converse returns the model's reply to userText. Any failure, including an
// empty reply, is returned as an error; callers decide how to apologise.
func (s *Service) Converse(ctx context.Context, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", ErrEmptyInput
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system": s.persona.SystemInstruction,
		"query":  userText,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", ErrEmptyReply
	}

	slog.Debug("Generated reply", "persona", s.persona.ID, "length", len(response.Content))
	return response.Content, nil
}
