package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"review-monitor/internal/domain"
	openai "review-monitor/internal/infra/openai"
)

// ErrMalformedResponse возвращается, если ответ модели нельзя разобрать.
var ErrMalformedResponse = errors.New("некорректный ответ LLM")

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMMode определяет, какой промпт отправляется модели.
type LLMMode int

const (
	// ModeGeneral: обычная классификация текста.
	ModeGeneral LLMMode = iota
	// ModeEscalation: повторный анализ с учётом оценки и конфликта.
	ModeEscalation
)

// LLM классифицирует тональность через Chat Completions.
type LLM struct {
	client    chatCompletionClient
	model     string
	mode      LLMMode
	timeout   time.Duration
	maxTokens int
}

// NewLLM создаёт стратегию на базе OpenAI.
func NewLLM(client chatCompletionClient, model string, mode LLMMode, timeout time.Duration) *LLM {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLM{client: client, model: model, mode: mode, timeout: timeout, maxTokens: 200}
}

// Name реализует domain.SentimentStrategy.
func (l *LLM) Name() string {
	if l.mode == ModeEscalation {
		return domain.MethodLLMEscalation
	}
	return domain.MethodLLM
}

type llmSentimentResponse struct {
	Sentiment  string      `json:"sentiment"`
	Confidence json.Number `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

// TryClassify реализует domain.SentimentStrategy.
func (l *LLM) TryClassify(ctx context.Context, req domain.ClassifyRequest) (domain.SentimentResult, error) {
	if l.client == nil {
		return domain.SentimentResult{}, errors.New("llm: клиент не настроен")
	}
	prompt := generalPrompt(req.Text)
	if l.mode == ModeEscalation {
		prompt = escalationPrompt(req)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: prompt},
		},
		Temperature:    0.1,
		MaxTokens:      l.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		return domain.SentimentResult{}, fmt.Errorf("llm: запрос: %w", err)
	}
	content, ok := resp.FirstContent()
	if !ok {
		return domain.SentimentResult{}, fmt.Errorf("%w: пустой список choices", ErrMalformedResponse)
	}
	return parseSentimentResponse(content, l.Name())
}

func parseSentimentResponse(content, method string) (domain.SentimentResult, error) {
	content = stripCodeFence(content)
	var parsed llmSentimentResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.SentimentResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	sentiment, ok := domain.ParseSentiment(strings.ToLower(strings.TrimSpace(parsed.Sentiment)))
	if !ok {
		return domain.SentimentResult{}, fmt.Errorf("%w: sentiment %q", ErrMalformedResponse, parsed.Sentiment)
	}
	if parsed.Confidence == "" {
		return domain.SentimentResult{}, fmt.Errorf("%w: нет confidence", ErrMalformedResponse)
	}
	confidence, err := parsed.Confidence.Float64()
	if err != nil || math.IsNaN(confidence) || confidence < 0 || confidence > 100 {
		return domain.SentimentResult{}, fmt.Errorf("%w: confidence %q", ErrMalformedResponse, parsed.Confidence)
	}
	// Модель иногда отвечает в процентах.
	if confidence > 1 {
		confidence /= 100
	}
	return domain.SentimentResult{
		Sentiment:     sentiment,
		ConfidenceRaw: confidence,
		Method:        method,
		Reasoning:     strings.TrimSpace(parsed.Reasoning),
	}, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
