package cafe24

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

const (
	defaultAPIVersion   = "2025-06-01"
	defaultLookbackDays = 7
	articleFields       = "article_no,title,content,writer,created_date,product_no,rating,view_count"

	// у Cafe24 ведро на 40 вызовов, пополняется 2 вызовами в секунду
	defaultRequestsPerSecond = 2.0
)

var reviewBoardKeywords = []string{"review", "리뷰", "후기", "평가"}

// Config задаёт параметры клиента Admin API.
type Config struct {
	MallID            string
	BaseURL           string
	APIVersion        string
	LookbackDays      int
	Timeout           time.Duration
	EnrichProducts    bool
	// RequestsPerSecond ограничивает частоту вызовов Admin API; 0 означает 2 в секунду.
	RequestsPerSecond float64
}

// Client читает отзывы с досок магазина Cafe24.
type Client struct {
	http         *http.Client
	baseURL      string
	apiVersion   string
	lookbackDays int
	enrich       bool
	tokens       TokenProvider
	limiter      *rate.Limiter
	log          zerolog.Logger
	now          func() time.Time

	mu           sync.Mutex
	productNames map[int64]string
}

// NewClient создаёт клиента Admin API.
func NewClient(cfg Config, tokens TokenProvider, logger zerolog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.cafe24api.com/api/v2", cfg.MallID)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = defaultLookbackDays
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	return &Client{
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 2),
		http:         &http.Client{Timeout: cfg.Timeout},
		baseURL:      base,
		apiVersion:   cfg.APIVersion,
		lookbackDays: cfg.LookbackDays,
		enrich:       cfg.EnrichProducts,
		tokens:       tokens,
		log:          logger.With().Str("component", "cafe24").Logger(),
		now:          time.Now,
		productNames: make(map[int64]string),
	}
}

// Board описывает доску магазина.
type Board struct {
	BoardNo   flexInt `json:"board_no"`
	BoardName string  `json:"board_name"`
	BoardType flexInt `json:"board_type"`
}

type article struct {
	ArticleNo   flexInt `json:"article_no"`
	ProductNo   flexInt `json:"product_no"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Writer      string  `json:"writer"`
	Rating      flexInt `json:"rating"`
	CreatedDate string  `json:"created_date"`
	ViewCount   flexInt `json:"view_count"`
}

// FetchLatest реализует domain.ReviewSource.
func (c *Client) FetchLatest(ctx context.Context, limit int) ([]domain.Review, error) {
	if limit <= 0 {
		limit = 10
	}
	boards, err := c.ReviewBoards(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	end := c.now()
	start := end.AddDate(0, 0, -c.lookbackDays)

	var reviews []domain.Review
	for _, board := range boards {
		articles, err := c.boardArticles(ctx, int64(board.BoardNo), limit, start, end)
		if err != nil {
			return nil, fmt.Errorf("%w: доска %d: %w", domain.ErrSourceUnavailable, board.BoardNo, err)
		}
		for _, a := range articles {
			reviews = append(reviews, domain.Review{
				ID:          strconv.FormatInt(int64(a.ArticleNo), 10),
				BoardNo:     int64(board.BoardNo),
				BoardName:   board.BoardName,
				ProductNo:   int64(a.ProductNo),
				Title:       a.Title,
				Content:     normalizeContent(a.Content),
				Writer:      a.Writer,
				Rating:      int(a.Rating),
				CreatedDate: a.CreatedDate,
				ViewCount:   int(a.ViewCount),
			})
		}
	}
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].CreatedDate > reviews[j].CreatedDate
	})
	if len(reviews) > limit {
		reviews = reviews[:limit]
	}
	if c.enrich {
		c.enrichProductNames(ctx, reviews)
	}
	return reviews, nil
}

// ReviewBoards возвращает доски, похожие на доски отзывов.
func (c *Client) ReviewBoards(ctx context.Context) ([]Board, error) {
	var resp struct {
		Boards []Board `json:"boards"`
	}
	if err := c.getJSON(ctx, "admin/boards", nil, &resp); err != nil {
		return nil, err
	}
	var out []Board
	for _, b := range resp.Boards {
		if isReviewBoard(b.BoardName) {
			out = append(out, b)
		}
	}
	return out, nil
}

func isReviewBoard(name string) bool {
	name = strings.ToLower(name)
	for _, kw := range reviewBoardKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

func (c *Client) boardArticles(ctx context.Context, boardNo int64, limit int, start, end time.Time) ([]article, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", "0")
	q.Set("fields", articleFields)
	q.Set("created_start_date", start.Format("2006-01-02"))
	q.Set("created_end_date", end.Format("2006-01-02"))
	var resp struct {
		Articles []article `json:"articles"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("admin/boards/%d/articles", boardNo), q, &resp); err != nil {
		return nil, err
	}
	return resp.Articles, nil
}

// ProductName возвращает название товара, кэшируя ответы в памяти процесса.
func (c *Client) ProductName(ctx context.Context, productNo int64) (string, error) {
	c.mu.Lock()
	name, ok := c.productNames[productNo]
	c.mu.Unlock()
	if ok {
		return name, nil
	}
	q := url.Values{}
	q.Set("fields", "product_no,product_name")
	var resp struct {
		Product struct {
			ProductName string `json:"product_name"`
		} `json:"product"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("admin/products/%d", productNo), q, &resp); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.productNames[productNo] = resp.Product.ProductName
	c.mu.Unlock()
	return resp.Product.ProductName, nil
}

func (c *Client) enrichProductNames(ctx context.Context, reviews []domain.Review) {
	for i := range reviews {
		if reviews[i].ProductNo == 0 {
			continue
		}
		name, err := c.ProductName(ctx, reviews[i].ProductNo)
		if err != nil {
			c.log.Warn().Err(err).Int64("product_no", reviews[i].ProductNo).Msg("не удалось получить название товара")
			continue
		}
		reviews[i].ProductName = name
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cafe24: rate limiter: %w", err)
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("cafe24: токен: %w", err)
	}
	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("cafe24: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cafe24-Api-Version", c.apiVersion)

	operation := operationName(path)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("cafe24", operation, "admin_api", start, err)
		return fmt.Errorf("cafe24: do request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("cafe24", operation, "admin_api", start, err)
		return fmt.Errorf("cafe24: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		err := &APIError{Status: resp.StatusCode, Body: truncate(string(body), 300)}
		metrics.ObserveNetworkRequest("cafe24", operation, "admin_api", start, err)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.ObserveNetworkRequest("cafe24", operation, "admin_api", start, err)
		return fmt.Errorf("cafe24: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("cafe24", operation, "admin_api", start, nil)
	return nil
}

// APIError описывает неуспешный ответ Admin API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cafe24: статус %d: %s", e.Status, e.Body)
}

// IsUnauthorized сообщает, что API отклонил токен.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func operationName(path string) string {
	switch {
	case path == "admin/boards":
		return "boards"
	case strings.HasPrefix(path, "admin/products/"):
		return "product"
	default:
		return "articles"
	}
}

var brReplacer = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "<BR>", "\n")

// normalizeContent превращает HTML записи доски в текст: <br> в перевод строки,
// теги убираются, сущности раскрываются, пустые строки отбрасываются.
func normalizeContent(content string) string {
	content = brReplacer.Replace(strings.TrimSpace(content))
	if !strings.ContainsAny(content, "<&") {
		return content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// flexInt принимает число, строку с числом или null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("cafe24: число %q: %w", raw, err)
	}
	*f = flexInt(v)
	return nil
}
