package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

// Channel: один канал доставки оповещений.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Dispatcher рассылает оповещение во все настроенные каналы.
type Dispatcher struct {
	channels  []Channel
	formatter Formatter
	log       zerolog.Logger
}

var _ domain.AlertDispatcher = (*Dispatcher)(nil)

// NewDispatcher создаёт рассыльщик оповещений.
func NewDispatcher(formatter Formatter, logger zerolog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		channels:  channels,
		formatter: formatter,
		log:       logger.With().Str("component", "alerts").Logger(),
	}
}

// Channels возвращает имена подключённых каналов.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Notify реализует domain.AlertDispatcher. Ошибка одного канала не мешает остальным.
func (d *Dispatcher) Notify(ctx context.Context, newReviews, flagged []domain.AnalyzedReview) error {
	text := d.formatter.Format(newReviews, flagged)
	if text == "" {
		return nil
	}
	if len(d.channels) == 0 {
		d.log.Warn().Int("new", len(newReviews)).Int("flagged", len(flagged)).Msg("каналы оповещений не настроены")
		return nil
	}
	var errs []error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, text); err != nil {
			metrics.AlertSendErrors.WithLabelValues(ch.Name()).Inc()
			d.log.Error().Err(err).Str("channel", ch.Name()).Msg("не удалось отправить оповещение")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		d.log.Info().Str("channel", ch.Name()).Int("new", len(newReviews)).Int("flagged", len(flagged)).Msg("оповещение отправлено")
	}
	return errors.Join(errs...)
}
