package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
	"review-monitor/internal/usecase/pipeline"
)

type fakeQueue struct {
	jobs []domain.DetectionJob
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job domain.DetectionJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) Receive(context.Context) (domain.DetectionJob, domain.AckFunc, error) {
	return domain.DetectionJob{}, nil, errors.New("not implemented")
}

type memDedup map[string]bool

func (m memDedup) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	if m[key] {
		return nil
	}
	m[key] = true
	if err := fn(); err != nil {
		delete(m, key)
		return err
	}
	return nil
}

type memStore struct {
	snap  domain.CacheSnapshot
	found bool
}

func (m *memStore) Load(context.Context) (domain.CacheSnapshot, error) {
	if !m.found {
		return domain.CacheSnapshot{}, domain.ErrSnapshotNotFound
	}
	return m.snap, nil
}

func (m *memStore) Save(_ context.Context, snap domain.CacheSnapshot) error {
	m.snap, m.found = snap, true
	return nil
}

type fakeAnalyzer struct {
	calls int
	err   error
}

func (f *fakeAnalyzer) Latest(_ context.Context, limit int) (pipeline.LatestReport, error) {
	f.calls++
	if f.err != nil {
		return pipeline.LatestReport{}, f.err
	}
	items := []domain.AnalyzedReview{{
		Review: domain.Review{ID: "1", Title: "별로"},
		Result: domain.SentimentResult{Sentiment: domain.SentimentNegative, Confidence: 80},
	}}
	return pipeline.LatestReport{Reviews: items, Stats: pipeline.Summarize(items)}, nil
}

type memResponseCache map[string][]byte

func (m memResponseCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m memResponseCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m[key] = value
	return nil
}

func newTestRouter(deps Deps) (http.Handler, *Handler) {
	deps.Logger = zerolog.Nop()
	h := New(deps)
	h.newID = func() string { return "job-1" }
	r := chi.NewRouter()
	h.Routes(r)
	return r, h
}

func do(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const articleCreated = `{"event_no":90033,"resource":{"board_no":4,"article_no":15}}`

func TestWebhookEnqueuesOnce(t *testing.T) {
	q := &fakeQueue{}
	router, _ := newTestRouter(Deps{Queue: q, Dedup: memDedup{}, WebhookKey: "k"})
	hdr := map[string]string{"X-Webhook-Event-Key": "k"}

	rec := do(t, router, http.MethodPost, "/webhook/cafe24", articleCreated, hdr)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodPost, "/webhook/cafe24", articleCreated, hdr)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "duplicate") {
		t.Fatalf("повтор должен распознаваться: %d %s", rec.Code, rec.Body.String())
	}
	if len(q.jobs) != 1 {
		t.Fatalf("ожидали одну задачу, получили %d", len(q.jobs))
	}
	job := q.jobs[0]
	if job.Cause != domain.TriggerWebhook || job.Kind != domain.JobDetect || job.EventNo != 90033 || job.BoardNo != 4 || job.ID != "job-1" {
		t.Fatalf("неожиданная задача: %+v", job)
	}
}

func TestWebhookRejectsWrongKey(t *testing.T) {
	q := &fakeQueue{}
	router, _ := newTestRouter(Deps{Queue: q, WebhookKey: "k"})
	rec := do(t, router, http.MethodPost, "/webhook/cafe24", articleCreated, map[string]string{"X-Webhook-Event-Key": "x"})
	if rec.Code != http.StatusForbidden || len(q.jobs) != 0 {
		t.Fatalf("ожидали 403 без задачи, получили %d", rec.Code)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	q := &fakeQueue{}
	router, _ := newTestRouter(Deps{Queue: q})
	rec := do(t, router, http.MethodPost, "/webhook/cafe24", `{"event_no":90001}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ignored") || len(q.jobs) != 0 {
		t.Fatalf("событие должно игнорироваться: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodPost, "/webhook/cafe24", `{`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для некорректного JSON, получили %d", rec.Code)
	}
}

func TestWebhookQueueFailureAllowsRetry(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	dedup := memDedup{}
	router, _ := newTestRouter(Deps{Queue: q, Dedup: dedup})
	rec := do(t, router, http.MethodPost, "/webhook/cafe24", articleCreated, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидали 503, получили %d", rec.Code)
	}
	q.err = nil
	rec = do(t, router, http.MethodPost, "/webhook/cafe24", articleCreated, nil)
	if rec.Code != http.StatusAccepted || len(q.jobs) != 1 {
		t.Fatalf("повторная доставка должна пройти: %d", rec.Code)
	}
}

func TestMonitoringEndpointsEnqueueJobs(t *testing.T) {
	q := &fakeQueue{}
	router, _ := newTestRouter(Deps{Queue: q, AdminToken: "adm"})
	auth := map[string]string{"Authorization": "Bearer adm"}

	if rec := do(t, router, http.MethodPost, "/monitoring/trigger", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("без токена ожидали 401, получили %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/monitoring/init", "", auth); rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/monitoring/trigger", "", auth); rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d", rec.Code)
	}
	if len(q.jobs) != 2 || q.jobs[0].Kind != domain.JobInitialize || q.jobs[1].Kind != domain.JobDetect || q.jobs[1].Cause != domain.TriggerManual {
		t.Fatalf("неожиданные задачи: %+v", q.jobs)
	}
}

func TestStatusReadsSnapshot(t *testing.T) {
	store := &memStore{}
	_ = store.Save(context.Background(), domain.CacheSnapshot{Entries: []domain.Review{{ID: "5"}, {ID: "4"}}})
	router, _ := newTestRouter(Deps{Queue: &fakeQueue{}, Snapshots: store, Capacity: 10})
	rec := do(t, router, http.MethodGet, "/monitoring/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var status pipeline.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("не ожидали ошибку разбора: %v", err)
	}
	if status.CacheSize != 2 || status.Capacity != 10 || status.Latest[0].ID != "5" {
		t.Fatalf("неожиданный статус: %+v", status)
	}
}

func TestLatestUsesResponseCache(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	router, _ := newTestRouter(Deps{Queue: &fakeQueue{}, Analyzer: analyzer, LatestCache: memResponseCache{}})
	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodGet, "/api/reviews/latest?limit=5", "", nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"negative_count":1`) {
			t.Fatalf("неожиданный ответ: %d %s", rec.Code, rec.Body.String())
		}
	}
	if analyzer.calls != 1 {
		t.Fatalf("второй запрос должен обслуживаться из кэша, вызовов %d", analyzer.calls)
	}
}

func TestLatestSourceUnavailable(t *testing.T) {
	analyzer := &fakeAnalyzer{err: domain.ErrSourceUnavailable}
	router, _ := newTestRouter(Deps{Queue: &fakeQueue{}, Analyzer: analyzer})
	if rec := do(t, router, http.MethodGet, "/api/reviews/latest", "", nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("ожидали 502, получили %d", rec.Code)
	}
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int{"": 10, "abc": 10, "-1": 10, "7": 7, "1000": maxLatestLimit}
	for raw, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/?limit="+raw, nil)
		if got := parseLimit(req, 10); got != want {
			t.Fatalf("%q: ожидали %d, получили %d", raw, want, got)
		}
	}
}

type fakeAnalysisLog struct {
	filter  domain.AnalysisFilter
	records []domain.AnalysisRecord
}

func (f *fakeAnalysisLog) SaveAnalyses(context.Context, []domain.AnalysisRecord) error { return nil }

func (f *fakeAnalysisLog) ListRecentAnalyses(_ context.Context, filter domain.AnalysisFilter) ([]domain.AnalysisRecord, error) {
	f.filter = filter
	return f.records, nil
}

func TestAnalysesPassesFilter(t *testing.T) {
	log := &fakeAnalysisLog{records: []domain.AnalysisRecord{{
		JobID:  "job-1",
		Cause:  domain.TriggerWebhook,
		Review: domain.Review{ID: "15"},
		Result: domain.SentimentResult{Sentiment: domain.SentimentNegative},
	}}}
	router, _ := newTestRouter(Deps{AnalysisLog: log})

	rec := do(t, router, http.MethodGet, "/api/reviews/analyses?limit=5&sentiment=negative&flagged=true&since=2026-10-01T00:00:00Z", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d: %s", rec.Code, rec.Body.String())
	}
	got := log.filter
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if got.Limit != 5 || got.Sentiment != domain.SentimentNegative || !got.FlaggedOnly || got.ConflictsOnly || !got.Since.Equal(since) {
		t.Fatalf("неожиданный фильтр %+v", got)
	}
	var body struct {
		Analyses []map[string]any `json:"analyses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Analyses) != 1 {
		t.Fatalf("неожиданный ответ %s (%v)", rec.Body.String(), err)
	}
}

func TestAnalysesRejectsBadSentiment(t *testing.T) {
	router, _ := newTestRouter(Deps{AnalysisLog: &fakeAnalysisLog{}})
	rec := do(t, router, http.MethodGet, "/api/reviews/analyses?sentiment=angry", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
}

func TestAnalysesWithoutLog(t *testing.T) {
	router, _ := newTestRouter(Deps{})
	rec := do(t, router, http.MethodGet, "/api/reviews/analyses", "", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("ожидали 501, получили %d", rec.Code)
	}
}
