package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
)

var fixedNow = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }

func negativeReview() domain.AnalyzedReview {
	first := domain.SentimentResult{Sentiment: domain.SentimentPositive, Confidence: 71}
	return domain.AnalyzedReview{
		Review: domain.Review{ID: "9", Title: "최고네요", Content: "정말 최고의 품질이네요 두 번 다시 안 삽니다", Rating: 1, Writer: "kim", ProductName: "셔츠"},
		Result: domain.SentimentResult{
			Sentiment:        domain.SentimentNegative,
			Confidence:       92,
			ConflictResolved: true,
			FirstStage:       &first,
			Reasoning:        "반어법",
		},
	}
}

func TestFormatFlagged(t *testing.T) {
	neutral := domain.AnalyzedReview{
		Review: domain.Review{ID: "8", Title: "보통", Rating: 3},
		Result: domain.SentimentResult{Sentiment: domain.SentimentNeutral, Confidence: 64.5},
	}
	text := Formatter{Now: fixedNow, DashboardURL: "https://example.test"}.Format(nil, []domain.AnalyzedReview{negativeReview(), neutral})
	for _, want := range []string{
		"부정 리뷰: 1개 | 중립 리뷰: 1개",
		"📌 🔴 부정 리뷰 #1",
		"📌 🟡 중립 리뷰 #2",
		"별점: ⭐ (1/5)",
		"상품명: 알 수 없음",
		"신뢰도: 92.00%",
		"재분석: 긍정적 → 부정적",
		"알림 시간: 2026-10-17 09:30:00",
		"대시보드: https://example.test",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("в тексте нет %q:\n%s", want, text)
		}
	}
}

func TestFormatNewOnly(t *testing.T) {
	long := strings.Repeat("좋", 150)
	text := Formatter{Now: fixedNow}.Format([]domain.AnalyzedReview{{Review: domain.Review{ID: "1", Content: long, Rating: 5}}}, nil)
	if !strings.Contains(text, "📝 신규 리뷰 1개 발견") {
		t.Fatalf("ожидали заголовок о новых отзывах:\n%s", text)
	}
	if !strings.Contains(text, strings.Repeat("좋", 100)+"...") || strings.Contains(text, strings.Repeat("좋", 101)) {
		t.Fatalf("содержимое должно обрезаться до 100 символов")
	}
	if strings.Contains(text, "대시보드") {
		t.Fatalf("без адреса панели ссылка не нужна")
	}
	if (Formatter{}).Format(nil, nil) != "" {
		t.Fatalf("без отзывов текст должен быть пустым")
	}
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramSendsToEveryChat(t *testing.T) {
	bot := &fakeBot{}
	tg := NewTelegram(bot, []int64{1, 2})
	if err := tg.Send(context.Background(), strings.Repeat("가", TelegramLimit+10)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(bot.sent) != 4 {
		t.Fatalf("ожидали 4 сообщения, получили %d", len(bot.sent))
	}
	if bot.sent[0].ChatID != 1 || bot.sent[3].ChatID != 2 {
		t.Fatalf("неверные получатели")
	}
	if err := NewTelegram(bot, nil).Send(context.Background(), "x"); err == nil {
		t.Fatalf("ожидали ошибку без чатов")
	}
}

func TestChannelTalkPostsBlocks(t *testing.T) {
	var got channelTalkMessage
	var path, key, secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-access-key")
		secret = r.Header.Get("x-access-secret")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ct := NewChannelTalk(ChannelTalkConfig{BaseURL: srv.URL, AccessKey: "ak", SecretKey: "sk", GroupID: "g1"})
	if err := ct.Send(context.Background(), "새 리뷰"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if path != "/open/v5/groups/g1/messages" || key != "ak" || secret != "sk" {
		t.Fatalf("неверный запрос: %s %s %s", path, key, secret)
	}
	if len(got.Blocks) != 1 || got.Blocks[0].Type != "text" || got.Blocks[0].Value != "새 리뷰" {
		t.Fatalf("неверное тело: %+v", got)
	}
}

func TestChannelTalkAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"forbidden","message":"bad key"}`))
	}))
	defer srv.Close()
	ct := NewChannelTalk(ChannelTalkConfig{BaseURL: srv.URL, AccessKey: "ak", GroupID: "g1"})
	err := ct.Send(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("ожидали ошибку API, получили %v", err)
	}
	if err := NewChannelTalk(ChannelTalkConfig{}).Send(context.Background(), "x"); err == nil {
		t.Fatalf("ожидали ошибку без ключей")
	}
}

type fakeChannel struct {
	name  string
	err   error
	texts []string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func TestDispatcherFansOutDespiteFailures(t *testing.T) {
	broken := &fakeChannel{name: "broken", err: errors.New("down")}
	ok := &fakeChannel{name: "ok"}
	d := NewDispatcher(Formatter{Now: fixedNow}, zerolog.Nop(), broken, ok)

	err := d.Notify(context.Background(), []domain.AnalyzedReview{negativeReview()}, []domain.AnalyzedReview{negativeReview()})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("ожидали ошибку сломанного канала, получили %v", err)
	}
	if len(ok.texts) != 1 || len(broken.texts) != 1 {
		t.Fatalf("оба канала должны получить оповещение")
	}
	if got := d.Channels(); len(got) != 2 || got[0] != "broken" {
		t.Fatalf("неожиданный список каналов: %v", got)
	}
}

func TestDispatcherSkipsEmptyNotification(t *testing.T) {
	ch := &fakeChannel{name: "ok"}
	d := NewDispatcher(Formatter{}, zerolog.Nop(), ch)
	if err := d.Notify(context.Background(), nil, nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(ch.texts) != 0 {
		t.Fatalf("пустое оповещение не должно отправляться")
	}
	if err := NewDispatcher(Formatter{}, zerolog.Nop()).Notify(context.Background(), []domain.AnalyzedReview{negativeReview()}, nil); err != nil {
		t.Fatalf("без каналов ошибки быть не должно: %v", err)
	}
}
