package domain

import (
	"context"
	"time"
)

// TriggerCause описывает, что запустило проход обнаружения.
type TriggerCause string

const (
	// TriggerWebhook: Cafe24 сообщил о новой записи на доске.
	TriggerWebhook TriggerCause = "webhook"
	// TriggerManual: проход запрошен оператором.
	TriggerManual TriggerCause = "manual"
	// TriggerScheduled: периодический опрос без внешнего сигнала.
	TriggerScheduled TriggerCause = "scheduled"
)

// ImpliesChange сообщает, что триггер сам по себе свидетельствует о новом событии.
func (c TriggerCause) ImpliesChange() bool {
	return c == TriggerWebhook || c == TriggerManual
}

// JobKind определяет действие воркера.
type JobKind string

const (
	// JobDetect: обычный проход обнаружения.
	JobDetect JobKind = "detect"
	// JobInitialize: заполнение кэша последними отзывами без оповещений.
	JobInitialize JobKind = "initialize"
)

// DetectionJob содержит задачу на проход обнаружения.
type DetectionJob struct {
	ID          string       `json:"job_id,omitempty"`
	Kind        JobKind      `json:"kind,omitempty"`
	Cause       TriggerCause `json:"cause"`
	EventNo     int64        `json:"event_no,omitempty"`
	BoardNo     int64        `json:"board_no,omitempty"`
	RequestedAt time.Time    `json:"requested_at"`
}

// DetectionQueue описывает очередь задач на проход обнаружения.
type DetectionQueue interface {
	Enqueue(ctx context.Context, job DetectionJob) error
	Receive(ctx context.Context) (DetectionJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error
