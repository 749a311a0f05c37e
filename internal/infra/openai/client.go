package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"review-monitor/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// предел чтения тела ответа
	maxResponseBody = 1 << 20
)

// ErrNoAPIKey возвращается, если ключ не задан и запрос не отправлялся.
var ErrNoAPIKey = errors.New("openai: api key is empty")

// Client выполняет запросы Chat Completions для классификации отзывов.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента OpenAI. Таймаут задаёт верхнюю границу на весь HTTP-обмен,
// вызывающий код ограничивает отдельный запрос своим контекстом.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout + 5*time.Second},
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
	}
}

// Configured сообщает, можно ли обращаться к API.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// ChatCompletionRequest описывает тело запроса.
type ChatCompletionRequest struct {
	Model          string                        `json:"model"`
	Messages       []ChatMessage                 `json:"messages"`
	Temperature    float64                       `json:"temperature,omitempty"`
	MaxTokens      int                           `json:"max_tokens,omitempty"`
	ResponseFormat *ChatCompletionResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage представляет сообщение в диалоге.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	// RoleSystem системная инструкция.
	RoleSystem = "system"
	// RoleUser сообщение пользователя.
	RoleUser = "user"
)

// ChatCompletionResponseFormat задаёт формат ответа.
type ChatCompletionResponseFormat struct {
	Type string `json:"type"`
}

// ResponseFormatTypeJSONObject просит вернуть объект JSON.
const ResponseFormatTypeJSONObject = "json_object"

// ChatCompletionResponse описывает ответ модели.
type ChatCompletionResponse struct {
	Model   string                 `json:"model,omitempty"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

// FirstContent возвращает текст первого варианта ответа.
func (r ChatCompletionResponse) FirstContent() (string, bool) {
	if len(r.Choices) == 0 {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}

// ChatCompletionChoice содержит сообщение модели.
type ChatCompletionChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionUsage описывает статистику использования токенов.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError: ответ API со статусом 4xx/5xx.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("openai: unexpected status %d", e.Status)
}

// Temporary сообщает, имеет ли смысл повторить запрос позже.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// CreateChatCompletion вызывает /chat/completions.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (resp ChatCompletionResponse, err error) {
	if !c.Configured() {
		return ChatCompletionResponse{}, ErrNoAPIKey
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("openai", "chat_completions", req.Model, start, err)
		if err == nil && resp.Usage != nil {
			metrics.ObserveLLMGeneration(req.Model, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
		}
	}()

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: do request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: read response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		apiErr := &APIError{Status: httpResp.StatusCode}
		var payload apiErrorResponse
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Message = payload.Error.Message
		}
		return ChatCompletionResponse{}, apiErr
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return resp, nil
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
