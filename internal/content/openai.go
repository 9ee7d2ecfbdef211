package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/example/peer-scheduler/internal/persistence"
)

const (
	promptSystemRole = "You write short, friendly icebreaker cards for two university students " +
		"who just got matched on a shared topic. Each card is one question with two to four short answer options."
	sparkSystemRole = "You write one warm sentence connecting two students' answers to the same question. " +
		"No more than 25 words."
)

// OpenAIGenerator asks a chat completion model for prompts and sparks.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIGenerator creates a generator using apiKey and model.
func NewOpenAIGenerator(apiKey, model string, logger *slog.Logger) *OpenAIGenerator {
	return NewOpenAIGeneratorWithConfig(openai.DefaultConfig(apiKey), model, logger)
}

// NewOpenAIGeneratorWithConfig creates a generator from a client config, for
// custom base URLs and HTTP clients.
func NewOpenAIGeneratorWithConfig(config openai.ClientConfig, model string, logger *slog.Logger) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.With("component", "content", "generator", "openai", "model", model),
	}
}

type promptEnvelope struct {
	Prompts []persistence.Prompt `json:"prompts"`
}

// GeneratePrompts requests a JSON object {"prompts": [...]} and validates it.
func (g *OpenAIGenerator) GeneratePrompts(ctx context.Context, topic string, count int) ([]persistence.Prompt, error) {
	user := fmt.Sprintf(
		`Topic: %q. Write exactly %d cards. Reply with JSON only: {"prompts":[{"question":"...","options":["...","..."]}]}`,
		topic, count)

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: promptSystemRole},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.9,
	}

	raw, err := g.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var envelope promptEnvelope
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &envelope); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	return validatePrompts(envelope.Prompts, count)
}

// GenerateSpark requests a single sentence about the two answers.
func (g *OpenAIGenerator) GenerateSpark(ctx context.Context, question, answerA, answerB string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sparkSystemRole},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Question: %s\nFirst answer: %s\nSecond answer: %s", question, answerA, answerB)},
		},
		MaxCompletionTokens: 80,
	}

	spark, err := g.complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(spark), nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	g.logger.DebugContext(ctx, "requesting chat completion")

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		g.logger.WarnContext(ctx, "chat completion failed", "error", err)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
