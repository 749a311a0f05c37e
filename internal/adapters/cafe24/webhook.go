package cafe24

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventBoardArticleCreated: номер события Cafe24 о новой записи на доске.
const EventBoardArticleCreated = 90033

// WebhookEvent: тело вебхука Cafe24.
type WebhookEvent struct {
	EventNo   flexInt         `json:"event_no"`
	EventType string          `json:"event_type"`
	Resource  WebhookResource `json:"resource"`
}

// WebhookResource: данные записи из вебхука.
type WebhookResource struct {
	MallID      string  `json:"mall_id"`
	BoardNo     flexInt `json:"board_no"`
	ArticleNo   flexInt `json:"article_no"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	CreatedDate string  `json:"created_date"`
}

// ParseWebhook разбирает тело вебхука.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("cafe24: webhook: %w", err)
	}
	return ev, nil
}

// IsArticleCreated сообщает, что событие означает новую запись на доске.
func (e WebhookEvent) IsArticleCreated() bool {
	if e.EventNo == EventBoardArticleCreated {
		return true
	}
	switch strings.ToLower(e.EventType) {
	case "board.created", "board_created":
		return true
	}
	return false
}

// TraceKey возвращает ключ идемпотентности или пустую строку, если запись не указана.
func (e WebhookEvent) TraceKey() string {
	if e.Resource.ArticleNo == 0 {
		return ""
	}
	return fmt.Sprintf("cafe24:webhook:%d:%d:%d", e.EventNo, e.Resource.BoardNo, e.Resource.ArticleNo)
}
