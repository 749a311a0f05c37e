package detect

import (
	"context"

	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

// Detector сравнивает свежую выборку с кэшем и отбирает новые отзывы.
// Не потокобезопасен: проходы должны выполняться последовательно.
type Detector struct {
	cache *ReviewCache
	log   zerolog.Logger
}

// NewDetector создаёт детектор новых отзывов.
func NewDetector(cache *ReviewCache, logger zerolog.Logger) *Detector {
	return &Detector{cache: cache, log: logger.With().Str("component", "detector").Logger()}
}

// Cache возвращает обслуживаемый кэш.
func (d *Detector) Cache() *ReviewCache { return d.cache }

// Initialize заполняет кэш текущими отзывами без оповещений.
func (d *Detector) Initialize(ctx context.Context, batch []domain.Review) int {
	if len(batch) == 0 {
		return d.cache.Len()
	}
	d.cache.replace(batch)
	_ = d.cache.Save(ctx)
	d.log.Info().Int("count", d.cache.Len()).Msg("кэш отзывов инициализирован")
	return d.cache.Len()
}

// DetectNew возвращает отзывы из batch, которых нет в кэше, в порядке batch.
// batch ожидается от новых к старым. Рассматриваются только первые Capacity отзывов:
// более старые всё равно не поместились бы в кэш и считались бы новыми на каждом проходе.
func (d *Detector) DetectNew(ctx context.Context, batch []domain.Review, cause domain.TriggerCause) []domain.Review {
	if len(batch) == 0 {
		return nil
	}
	if capacity := d.cache.Capacity(); len(batch) > capacity {
		d.log.Debug().Int("fetched", len(batch)).Int("capacity", capacity).Msg("выборка длиннее кэша, лишние отзывы отброшены")
		batch = batch[:capacity]
	}

	var fresh []domain.Review
	if d.cache.Len() == 0 {
		if !cause.ImpliesChange() {
			// без внешнего сигнала пустой кэш просто засеваем
			d.cache.replace(batch)
			_ = d.cache.Save(ctx)
			d.log.Info().Str("cause", string(cause)).Int("count", d.cache.Len()).Msg("холодный старт: кэш засеян без оповещений")
			metrics.ObserveDetection(string(cause), "cold_seed", 0)
			return nil
		}
		for _, r := range batch {
			if r.ID == "" {
				continue
			}
			fresh = []domain.Review{r}
			break
		}
		d.log.Info().Str("cause", string(cause)).Msg("холодный старт: считаем новым только последний отзыв")
		metrics.ObserveDetection(string(cause), "cold_start", len(fresh))
		if len(fresh) == 0 {
			return nil
		}
		d.cache.prepend(fresh)
	} else {
		known := d.cache.ids()
		seen := make(map[string]struct{})
		for _, r := range batch {
			if r.ID == "" {
				continue
			}
			if _, ok := known[r.ID]; ok {
				continue
			}
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			fresh = append(fresh, r)
		}
		metrics.ObserveDetection(string(cause), "warm", len(fresh))
		if len(fresh) == 0 {
			return nil
		}
		d.cache.merge(batch)
	}

	_ = d.cache.Save(ctx)
	d.log.Info().Int("new", len(fresh)).Int("cached", d.cache.Len()).Msg("обнаружены новые отзывы")
	return fresh
}
