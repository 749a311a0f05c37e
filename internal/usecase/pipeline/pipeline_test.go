package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
	"review-monitor/internal/usecase/detect"
)

type memStore struct {
	snap  domain.CacheSnapshot
	saved int
}

func (m *memStore) Load(context.Context) (domain.CacheSnapshot, error) {
	if m.saved == 0 {
		return domain.CacheSnapshot{}, domain.ErrSnapshotNotFound
	}
	return m.snap, nil
}

func (m *memStore) Save(_ context.Context, snap domain.CacheSnapshot) error {
	m.snap = snap
	m.saved++
	return nil
}

type fakeSource struct {
	batch []domain.Review
	err   error
	calls int
}

func (f *fakeSource) FetchLatest(_ context.Context, limit int) ([]domain.Review, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batch) > limit {
		return f.batch[:limit], nil
	}
	return f.batch, nil
}

// keywordClassifier считает отрицательными отзывы со словом "별로", нейтральными со словом "보통".
type keywordClassifier struct {
	seen []string
}

func (k *keywordClassifier) ClassifyBatch(_ context.Context, reviews []domain.Review) []domain.AnalyzedReview {
	out := make([]domain.AnalyzedReview, 0, len(reviews))
	for _, r := range reviews {
		k.seen = append(k.seen, r.ID)
		res := domain.SentimentResult{Sentiment: domain.SentimentPositive, Confidence: 90}
		switch {
		case strings.Contains(r.Title, "별로"):
			res.Sentiment = domain.SentimentNegative
		case strings.Contains(r.Title, "보통"):
			res.Sentiment = domain.SentimentNeutral
			res.Confidence = 55
		}
		out = append(out, domain.AnalyzedReview{Review: r, Result: res})
	}
	return out
}

type fakeDispatcher struct {
	calls   int
	new     []domain.AnalyzedReview
	flagged []domain.AnalyzedReview
	err     error
}

func (f *fakeDispatcher) Notify(_ context.Context, newReviews, flagged []domain.AnalyzedReview) error {
	f.calls++
	f.new = newReviews
	f.flagged = flagged
	return f.err
}

type fakeLog struct {
	records []domain.AnalysisRecord
	err     error
}

func (f *fakeLog) SaveAnalyses(_ context.Context, records []domain.AnalysisRecord) error {
	f.records = append(f.records, records...)
	return f.err
}

func (f *fakeLog) ListRecentAnalyses(context.Context, domain.AnalysisFilter) ([]domain.AnalysisRecord, error) {
	return f.records, nil
}

type fixture struct {
	source     *fakeSource
	classifier *keywordClassifier
	dispatcher *fakeDispatcher
	log        *fakeLog
	store      *memStore
	pipeline   *Pipeline
}

func newFixture(t *testing.T, policy AlertPolicy) *fixture {
	t.Helper()
	f := &fixture{
		source:     &fakeSource{},
		classifier: &keywordClassifier{},
		dispatcher: &fakeDispatcher{},
		log:        &fakeLog{},
		store:      &memStore{},
	}
	cache := detect.NewReviewCache(f.store, 3, zerolog.Nop())
	p, err := New(Deps{
		Source:      f.source,
		Detector:    detect.NewDetector(cache, zerolog.Nop()),
		Classifier:  f.classifier,
		Dispatcher:  f.dispatcher,
		AnalysisLog: f.log,
		Policy:      policy,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку создания: %v", err)
	}
	p.Restore(context.Background())
	f.pipeline = p
	return f
}

func reviews(titles ...string) []domain.Review {
	out := make([]domain.Review, 0, len(titles))
	for i, title := range titles {
		out = append(out, domain.Review{ID: fmt.Sprintf("%d", len(titles)-i), Title: title, Rating: 3})
	}
	return out
}

func job(cause domain.TriggerCause) domain.DetectionJob {
	return domain.DetectionJob{ID: "job-1", Cause: cause}
}

func TestScheduledColdStartSeedsSilently(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.source.batch = reviews("별로", "좋아요")

	report, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerScheduled))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(report.New) != 0 || f.dispatcher.calls != 0 {
		t.Fatalf("холодный старт по расписанию не должен оповещать")
	}
	if report.CacheSize != 2 || f.store.saved != 1 {
		t.Fatalf("кэш должен быть засеян и сохранён: size=%d saved=%d", report.CacheSize, f.store.saved)
	}
}

func TestWebhookColdStartReportsLatestOnly(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.source.batch = reviews("별로예요", "좋아요")

	report, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerWebhook))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(report.New) != 1 || report.New[0].Review.ID != "2" {
		t.Fatalf("ожидали только последний отзыв, получили %+v", report.New)
	}
	if len(report.Flagged) != 1 || f.dispatcher.calls != 1 {
		t.Fatalf("отрицательный отзыв должен попасть в оповещение")
	}
}

func TestWarmPassClassifiesAndLogs(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.source.batch = reviews("좋아요", "최고")
	if _, err := f.pipeline.InitializeCache(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку инициализации: %v", err)
	}

	f.source.batch = []domain.Review{
		{ID: "4", Title: "별로네요"},
		{ID: "3", Title: "보통"},
		{ID: "2", Title: "좋아요"},
	}
	report, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerWebhook))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(report.New) != 2 || report.New[0].Review.ID != "4" || report.New[1].Review.ID != "3" {
		t.Fatalf("ожидали новые 4 и 3, получили %+v", report.New)
	}
	if len(f.classifier.seen) != 2 {
		t.Fatalf("классифицироваться должны только новые отзывы: %v", f.classifier.seen)
	}
	if len(f.dispatcher.flagged) != 1 || f.dispatcher.flagged[0].Review.ID != "4" {
		t.Fatalf("нейтральные отзывы по умолчанию не отмечаются")
	}
	if len(f.log.records) != 2 || !f.log.records[0].Flagged || f.log.records[1].Flagged {
		t.Fatalf("журнал должен содержать обе записи с признаком отметки: %+v", f.log.records)
	}
	if f.log.records[0].JobID != "job-1" || f.log.records[0].Cause != domain.TriggerWebhook {
		t.Fatalf("журнал должен хранить задачу и причину")
	}
	if report.CacheSize != 3 {
		t.Fatalf("размер кэша ограничен ёмкостью, получили %d", report.CacheSize)
	}
	if report.Stats.Negative != 1 || report.Stats.Neutral != 1 {
		t.Fatalf("неожиданная статистика: %+v", report.Stats)
	}
}

func TestSourceFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.source.batch = reviews("좋아요")
	if _, err := f.pipeline.InitializeCache(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	saved := f.store.saved

	f.source.err = fmt.Errorf("%w: timeout", domain.ErrSourceUnavailable)
	_, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerManual))
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("ожидали ErrSourceUnavailable, получили %v", err)
	}
	if f.store.saved != saved || f.dispatcher.calls != 0 {
		t.Fatalf("при ошибке источника кэш и оповещения не трогаются")
	}
	if status := f.pipeline.Status(); status.CacheSize != 1 {
		t.Fatalf("кэш не должен измениться, размер %d", status.CacheSize)
	}
}

func TestDispatchFailureDoesNotFailPass(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.dispatcher.err = errors.New("telegram down")
	f.log.err = errors.New("db down")
	f.source.batch = reviews("별로")

	report, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerManual))
	if err != nil {
		t.Fatalf("ошибка оповещения не должна прерывать проход: %v", err)
	}
	if report.AlertErr == "" {
		t.Fatalf("ожидали текст ошибки оповещения в отчёте")
	}
	if f.store.saved != 1 {
		t.Fatalf("кэш должен сохраниться несмотря на ошибку оповещения")
	}
}

func TestPassIsNotReentrant(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.pipeline.mu.Lock()
	_, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerManual))
	f.pipeline.mu.Unlock()
	if !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("ожидали ErrPassInProgress, получили %v", err)
	}
	if f.source.calls != 0 {
		t.Fatalf("источник не должен вызываться во время другого прохода")
	}
}

func TestHandleInitializeJob(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.source.batch = reviews("a", "b", "c", "d")
	report, err := f.pipeline.Handle(context.Background(), domain.DetectionJob{Kind: domain.JobInitialize, Cause: domain.TriggerManual})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.CacheSize != 3 || f.dispatcher.calls != 0 {
		t.Fatalf("инициализация заполняет кэш без оповещений: %+v", report)
	}
}

func TestFetchLimitIsCappedByCacheCapacity(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.source.batch = reviews("a")
	if _, err := f.pipeline.InitializeCache(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку инициализации: %v", err)
	}

	f.source.batch = reviews("e", "d", "c", "b", "a")
	first, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerScheduled))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Fetched != 3 || len(first.New) != 3 {
		t.Fatalf("выборка ограничена ёмкостью кэша: %+v", first)
	}
	second, err := f.pipeline.TriggerDetectionPass(context.Background(), job(domain.TriggerScheduled))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(second.New) != 0 {
		t.Fatalf("повторный проход не должен находить новые отзывы: %+v", second.New)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("ожидали ошибку без зависимостей")
	}
}

func TestAlertPolicy(t *testing.T) {
	neg := domain.AnalyzedReview{Result: domain.SentimentResult{Sentiment: domain.SentimentNegative, Confidence: 70}}
	neu := domain.AnalyzedReview{Result: domain.SentimentResult{Sentiment: domain.SentimentNeutral, Confidence: 70}}
	pos := domain.AnalyzedReview{Result: domain.SentimentResult{Sentiment: domain.SentimentPositive, Confidence: 99}}
	broken := domain.AnalyzedReview{Result: domain.Unanalyzable(domain.MethodNone, domain.ErrTagEmptyText)}

	if !(AlertPolicy{}).Flag(neg) || (AlertPolicy{}).Flag(neu) || (AlertPolicy{}).Flag(pos) || (AlertPolicy{IncludeNeutral: true}).Flag(broken) {
		t.Fatalf("по умолчанию отмечаются только отрицательные отзывы")
	}
	if !(AlertPolicy{IncludeNeutral: true}).Flag(neu) {
		t.Fatalf("нейтральные отмечаются при IncludeNeutral")
	}
	if (AlertPolicy{MinConfidence: 80}).Flag(neg) {
		t.Fatalf("отзывы ниже порога уверенности не отмечаются")
	}
}

func TestSummarize(t *testing.T) {
	items := []domain.AnalyzedReview{
		{Result: domain.SentimentResult{Sentiment: domain.SentimentNegative, Confidence: 90, ConflictResolved: true}},
		{Result: domain.SentimentResult{Sentiment: domain.SentimentPositive, Confidence: 80}},
		{Result: domain.SentimentResult{Sentiment: domain.SentimentPositive, Confidence: 50, LowConfidence: true}},
		{Result: domain.Unanalyzable(domain.MethodNone, domain.ErrTagEmptyText)},
	}
	st := Summarize(items)
	if st.Total != 4 || st.Negative != 1 || st.Positive != 2 || st.Unanalyzable != 1 {
		t.Fatalf("неверные счётчики: %+v", st)
	}
	if st.NegativeRatio != 25 || st.PositiveRatio != 50 || st.AverageConfidence != 55 {
		t.Fatalf("неверные доли: %+v", st)
	}
	if st.Escalated != 1 || st.LowConfidence != 1 {
		t.Fatalf("неверные счётчики эскалаций: %+v", st)
	}
	if (Summarize(nil) != Statistics{}) {
		t.Fatalf("пустой набор даёт нулевую статистику")
	}
}

func TestAnalyzerDoesNotTouchCache(t *testing.T) {
	f := newFixture(t, AlertPolicy{})
	f.source.batch = reviews("별로", "좋아요")
	report, err := NewAnalyzer(f.source, f.classifier, AlertPolicy{}).Latest(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(report.Reviews) != 2 || len(report.Flagged) != 1 || report.Stats.Total != 2 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if f.store.saved != 0 || f.pipeline.Status().CacheSize != 0 {
		t.Fatalf("запрос последних отзывов не меняет кэш")
	}
}

func TestSnapshotStatus(t *testing.T) {
	store := &memStore{}
	st, err := SnapshotStatus(context.Background(), store, 10)
	if err != nil || st.CacheSize != 0 || st.Capacity != 10 {
		t.Fatalf("пустое хранилище даёт пустой статус: %+v %v", st, err)
	}
	_ = store.Save(context.Background(), domain.CacheSnapshot{Entries: reviews("a", "b")})
	st, err = SnapshotStatus(context.Background(), store, 10)
	if err != nil || st.CacheSize != 2 || st.Latest[0].ID != "2" {
		t.Fatalf("неожиданный статус: %+v %v", st, err)
	}
}
