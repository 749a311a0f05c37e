package detect

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
)

// DefaultCapacity: размер окна последних отзывов.
const DefaultCapacity = 10

// ReviewCache хранит ограниченное окно последних увиденных отзывов, от новых к старым.
// Менять содержимое может только Detector.
type ReviewCache struct {
	store       domain.SnapshotStore
	capacity    int
	log         zerolog.Logger
	entries     []domain.Review
	lastUpdated time.Time
	now         func() time.Time
}

// NewReviewCache создаёт кэш поверх хранилища снимков.
func NewReviewCache(store domain.SnapshotStore, capacity int, logger zerolog.Logger) *ReviewCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ReviewCache{
		store:    store,
		capacity: capacity,
		log:      logger.With().Str("component", "review_cache").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Load восстанавливает окно из снимка. Отсутствующий или битый снимок
// считается первым запуском: кэш остаётся пустым, ошибка только логируется.
func (c *ReviewCache) Load(ctx context.Context) {
	c.entries = nil
	c.lastUpdated = time.Time{}
	if c.store == nil {
		return
	}
	snapshot, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			c.log.Info().Msg("кэш отзывов: снимок не найден, начинаем с пустого")
			return
		}
		c.log.Warn().Err(err).Msg("кэш отзывов: снимок повреждён, начинаем с пустого")
		return
	}
	entries := make([]domain.Review, 0, len(snapshot.Entries))
	for _, r := range snapshot.Entries {
		if r.ID == "" {
			continue
		}
		entries = append(entries, r)
	}
	if len(entries) > c.capacity {
		entries = entries[:c.capacity]
	}
	c.entries = entries
	c.lastUpdated = snapshot.LastUpdated
	c.log.Info().Int("count", len(c.entries)).Msg("кэш отзывов загружен")
}

// Save сохраняет текущее окно. Ошибка логируется и возвращается,
// состояние в памяти остаётся актуальным.
func (c *ReviewCache) Save(ctx context.Context) error {
	c.lastUpdated = c.now()
	if c.store == nil {
		return nil
	}
	snapshot := domain.CacheSnapshot{
		Entries:     c.Entries(),
		LastUpdated: c.lastUpdated,
		Count:       len(c.entries),
	}
	if err := c.store.Save(ctx, snapshot); err != nil {
		c.log.Error().Err(err).Int("count", snapshot.Count).Msg("кэш отзывов: не удалось сохранить снимок")
		return err
	}
	c.log.Debug().Int("count", snapshot.Count).Msg("кэш отзывов сохранён")
	return nil
}

// Entries возвращает копию окна.
func (c *ReviewCache) Entries() []domain.Review {
	out := make([]domain.Review, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len возвращает число отзывов в окне.
func (c *ReviewCache) Len() int { return len(c.entries) }

// Capacity возвращает размер окна.
func (c *ReviewCache) Capacity() int { return c.capacity }

// LastUpdated возвращает время последнего сохранения.
func (c *ReviewCache) LastUpdated() time.Time { return c.lastUpdated }

func (c *ReviewCache) ids() map[string]struct{} {
	set := make(map[string]struct{}, len(c.entries))
	for _, r := range c.entries {
		set[r.ID] = struct{}{}
	}
	return set
}

// prepend кладёт новые отзывы в начало окна и обрезает его до ёмкости.
func (c *ReviewCache) prepend(fresh []domain.Review) {
	merged := make([]domain.Review, 0, len(fresh)+len(c.entries))
	merged = append(merged, fresh...)
	merged = append(merged, c.entries...)
	if len(merged) > c.capacity {
		merged = merged[:c.capacity]
	}
	c.entries = merged
}

// merge ставит окно выборки в начало кэша, следом остальные записи, и обрезает до ёмкости.
// Для обычной выборки это то же, что prepend новых: известные отзывы окна и так
// стоят в начале кэша. Окно не длиннее ёмкости, поэтому ни один его отзыв не вытесняется.
func (c *ReviewCache) merge(window []domain.Review) {
	head := uniqueByID(window)
	inWindow := make(map[string]struct{}, len(head))
	for _, r := range head {
		inWindow[r.ID] = struct{}{}
	}
	merged := make([]domain.Review, 0, len(head)+len(c.entries))
	merged = append(merged, head...)
	for _, r := range c.entries {
		if _, ok := inWindow[r.ID]; ok {
			continue
		}
		merged = append(merged, r)
	}
	if len(merged) > c.capacity {
		merged = merged[:c.capacity]
	}
	c.entries = merged
}

// replace заменяет окно целиком.
func (c *ReviewCache) replace(batch []domain.Review) {
	c.entries = nil
	c.prepend(uniqueByID(batch))
}

func uniqueByID(batch []domain.Review) []domain.Review {
	seen := make(map[string]struct{}, len(batch))
	out := make([]domain.Review, 0, len(batch))
	for _, r := range batch {
		if r.ID == "" {
			continue
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
