package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"review-monitor/internal/domain"
	openai "review-monitor/internal/infra/openai"
)

type fakeChatClient struct {
	content string
	err     error
	last    openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: "assistant", Content: f.content}}}}, nil
}

func TestLLMEscalationParsesResponse(t *testing.T) {
	client := &fakeChatClient{content: `{"sentiment":"positive","confidence":0.92,"reasoning":"반어법이 아닌 칭찬"}`}
	llm := NewLLM(client, "", ModeEscalation, 0)
	res, err := llm.TryClassify(context.Background(), domain.ClassifyRequest{
		Text:     "이렇게 좋을 줄 몰랐네요 최악",
		Rating:   5,
		Conflict: domain.ConflictNegativeWith5Stars,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Sentiment != domain.SentimentPositive || res.ConfidenceRaw != 0.92 {
		t.Fatalf("неожиданный результат: %+v", res)
	}
	if res.Method != domain.MethodLLMEscalation {
		t.Fatalf("ожидали метод llm_escalation, получили %s", res.Method)
	}
	if res.Reasoning == "" {
		t.Fatalf("ожидали обоснование")
	}
	prompt := client.last.Messages[1].Content
	if !strings.Contains(prompt, "(5/5점)") || !strings.Contains(prompt, "반어법") {
		t.Fatalf("промпт должен содержать оценку и вопрос об иронии: %s", prompt)
	}
	if client.last.Model != "gpt-4o-mini" {
		t.Fatalf("ожидали модель по умолчанию, получили %s", client.last.Model)
	}
}

func TestLLMEscalationPromptForLowRating(t *testing.T) {
	client := &fakeChatClient{content: `{"sentiment":"negative","confidence":80}`}
	llm := NewLLM(client, "gpt-test", ModeEscalation, 0)
	res, err := llm.TryClassify(context.Background(), domain.ClassifyRequest{
		Text:     "좋네요 참 좋아요",
		Rating:   2,
		Conflict: domain.ConflictPositiveWithLowRating,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.ConfidenceRaw != 0.8 {
		t.Fatalf("уверенность в процентах должна быть приведена к 0..1, получили %v", res.ConfidenceRaw)
	}
	prompt := client.last.Messages[1].Content
	if !strings.Contains(prompt, "(2/5점)") || !strings.Contains(prompt, "비꼬기") {
		t.Fatalf("промпт должен учитывать низкую оценку: %s", prompt)
	}
}

func TestLLMGeneralMode(t *testing.T) {
	client := &fakeChatClient{content: "```json\n{\"sentiment\":\"Neutral\",\"confidence\":0.7}\n```"}
	llm := NewLLM(client, "", ModeGeneral, 0)
	res, err := llm.TryClassify(context.Background(), domain.ClassifyRequest{Text: "색상은 사진과 같아요", Rating: 4})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Sentiment != domain.SentimentNeutral || res.Method != domain.MethodLLM {
		t.Fatalf("неожиданный результат: %+v", res)
	}
	if strings.Contains(client.last.Messages[1].Content, "평점") {
		t.Fatalf("общий промпт не должен упоминать оценку")
	}
}

func TestLLMMalformedResponse(t *testing.T) {
	for _, content := range []string{
		"not json",
		`{"sentiment":"angry"}`,
		`{"sentiment":"negative","confidence":"high"}`,
		`{"sentiment":"negative","reasoning":"без уверенности"}`,
		`{"sentiment":"negative","confidence":null}`,
		`{"sentiment":"negative","confidence":-0.2}`,
		`{"sentiment":"negative","confidence":140}`,
	} {
		llm := NewLLM(&fakeChatClient{content: content}, "", ModeEscalation, 0)
		_, err := llm.TryClassify(context.Background(), domain.ClassifyRequest{Text: "별로", Rating: 5})
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("%s: ожидали ErrMalformedResponse, получили %v", content, err)
		}
	}
}

func TestLLMTransportError(t *testing.T) {
	llm := NewLLM(&fakeChatClient{err: errors.New("timeout")}, "", ModeGeneral, 0)
	if _, err := llm.TryClassify(context.Background(), domain.ClassifyRequest{Text: "별로"}); err == nil {
		t.Fatalf("ожидали ошибку транспорта")
	}
}
