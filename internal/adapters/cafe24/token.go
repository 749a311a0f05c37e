package cafe24

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"review-monitor/internal/infra/metrics"
)

// ErrNoToken возвращается, если токен доступа не настроен.
var ErrNoToken = errors.New("токен Cafe24 не настроен")

const (
	refreshSkew          = 5 * time.Minute
	defaultTokenLifetime = 2 * time.Hour
)

// TokenProvider отдаёт действующий токен доступа Admin API.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken: токен из окружения без обновления.
type StaticToken string

// AccessToken реализует TokenProvider.
func (t StaticToken) AccessToken(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// TokenSet: содержимое файла с токенами.
type TokenSet struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	IssuedAt         string `json:"issued_at,omitempty"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

var issuedAtLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}

// Expired сообщает, что токен истёк или истечёт в ближайшие пять минут.
func (t TokenSet) Expired(now time.Time) bool {
	if t.AccessToken == "" || t.IssuedAt == "" || t.ExpiresInSeconds <= 0 {
		return true
	}
	for _, layout := range issuedAtLayouts {
		issued, err := time.ParseInLocation(layout, t.IssuedAt, time.Local)
		if err != nil {
			continue
		}
		expiry := issued.Add(time.Duration(t.ExpiresInSeconds) * time.Second)
		return !now.Before(expiry.Add(-refreshSkew))
	}
	return true
}

// FileTokenStore хранит токены в файле и обновляет их через refresh_token.
type FileTokenStore struct {
	path         string
	tokenURL     string
	clientID     string
	clientSecret string
	http         *http.Client
	log          zerolog.Logger
	now          func() time.Time

	mu sync.Mutex
}

// NewFileTokenStore создаёт файловое хранилище токенов.
func NewFileTokenStore(path, baseURL, clientID, clientSecret string, logger zerolog.Logger) *FileTokenStore {
	return &FileTokenStore{
		path:         path,
		tokenURL:     strings.TrimRight(baseURL, "/") + "/oauth/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 15 * time.Second},
		log:          logger.With().Str("component", "cafe24_tokens").Logger(),
		now:          time.Now,
	}
}

// AccessToken реализует TokenProvider.
func (s *FileTokenStore) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return "", err
	}
	if !tokens.Expired(s.now()) {
		return tokens.AccessToken, nil
	}
	if tokens.RefreshToken == "" {
		return "", fmt.Errorf("%w: нет refresh_token", ErrNoToken)
	}
	s.log.Info().Msg("токен Cafe24 истекает, обновляем")
	fresh, err := s.refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.save(fresh); err != nil {
		s.log.Error().Err(err).Msg("не удалось сохранить обновлённый токен")
	}
	return fresh.AccessToken, nil
}

func (s *FileTokenStore) load() (TokenSet, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return TokenSet{}, ErrNoToken
	}
	if err != nil {
		return TokenSet{}, fmt.Errorf("чтение токенов: %w", err)
	}
	var tokens TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		return TokenSet{}, fmt.Errorf("распаковка токенов: %w", err)
	}
	return tokens, nil
}

func (s *FileTokenStore) save(tokens TokenSet) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileTokenStore) refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, fmt.Errorf("cafe24: build refresh request: %w", err)
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("cafe24", "refresh_token", "oauth", start, err)
		return TokenSet{}, fmt.Errorf("cafe24: refresh: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		err := &APIError{Status: resp.StatusCode, Body: truncate(string(body), 300)}
		metrics.ObserveNetworkRequest("cafe24", "refresh_token", "oauth", start, err)
		return TokenSet{}, err
	}
	var fresh TokenSet
	if err := json.Unmarshal(body, &fresh); err != nil {
		metrics.ObserveNetworkRequest("cafe24", "refresh_token", "oauth", start, err)
		return TokenSet{}, fmt.Errorf("cafe24: decode refresh: %w", err)
	}
	metrics.ObserveNetworkRequest("cafe24", "refresh_token", "oauth", start, nil)
	if fresh.AccessToken == "" {
		return TokenSet{}, errors.New("cafe24: пустой access_token в ответе")
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}
	fresh.IssuedAt = s.now().Format(time.RFC3339Nano)
	fresh.ExpiresInSeconds = int(defaultTokenLifetime / time.Second)
	return fresh, nil
}
