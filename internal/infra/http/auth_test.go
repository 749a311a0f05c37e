package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestWebhookKeyMiddleware(t *testing.T) {
	h := WebhookKeyMiddleware("secret")(okHandler)
	cases := []struct {
		target string
		header string
		want   int
	}{
		{"/webhook", "", http.StatusUnauthorized},
		{"/webhook", "wrong", http.StatusForbidden},
		{"/webhook", "secret", http.StatusNoContent},
		{"/webhook?event_key=secret", "", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.target, nil)
		if tc.header != "" {
			req.Header.Set(WebhookKeyHeader, tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %q: ожидали %d, получили %d", tc.target, tc.header, tc.want, rec.Code)
		}
	}
}

func TestMiddlewaresDisabledWithoutKey(t *testing.T) {
	for _, h := range []http.Handler{WebhookKeyMiddleware("")(okHandler), AdminAuthMiddleware("")(okHandler)} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("без ключа проверка отключена, получили %d", rec.Code)
		}
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	h := AdminAuthMiddleware("tok")(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/monitoring/trigger", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", rec.Code)
	}
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") == "application/json" {
		t.Fatalf("успешный ответ формирует обработчик")
	}
}
