package http

import (
	"crypto/hmac"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// WebhookKeyHeader: заголовок с ключом события вебхука.
const WebhookKeyHeader = "X-Webhook-Event-Key"

// WebhookKeyMiddleware сверяет ключ события из заголовка или параметра event_key.
// Пустой ключ в конфигурации отключает проверку.
func WebhookKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(WebhookKeyHeader)
			if got == "" {
				got = r.URL.Query().Get("event_key")
			}
			if got == "" {
				WriteError(w, http.StatusUnauthorized, "ключ события отсутствует")
				return
			}
			if !hmac.Equal([]byte(got), []byte(key)) {
				WriteError(w, http.StatusForbidden, "ключ события недействителен")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuthMiddleware требует заголовок Authorization: Bearer <token>.
// Пустой токен в конфигурации отключает проверку.
func AdminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !hmac.Equal([]byte(strings.TrimSpace(got)), []byte(token)) {
				WriteError(w, http.StatusUnauthorized, "требуется авторизация")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteJSON отправляет JSON-ответ.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
