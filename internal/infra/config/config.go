package config

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Asia/Seoul"`
	Port   int    `envconfig:"PORT" default:"8080"`

	MetricsAddr   string        `envconfig:"METRICS_ADDR" default:":9090"`
	CheckInterval time.Duration `envconfig:"CHECK_INTERVAL" default:"5m"`
	AdminToken    string        `envconfig:"ADMIN_TOKEN"`
	DashboardURL  string        `envconfig:"DASHBOARD_URL"`

	Cafe24 struct {
		MallID            string        `envconfig:"CAFE24_MALL_ID"`
		BaseURL           string        `envconfig:"CAFE24_BASE_URL"`
		APIVersion        string        `envconfig:"CAFE24_API_VERSION" default:"2025-06-01"`
		AccessToken       string        `envconfig:"CAFE24_ACCESS_TOKEN"`
		TokenFile         string        `envconfig:"CAFE24_TOKEN_FILE"`
		ClientID          string        `envconfig:"CAFE24_CLIENT_ID"`
		ClientSecret      string        `envconfig:"CAFE24_CLIENT_SECRET"`
		LookbackDays      int           `envconfig:"CAFE24_LOOKBACK_DAYS" default:"7"`
		EnrichProducts    bool          `envconfig:"CAFE24_ENRICH_PRODUCTS" default:"true"`
		Timeout           time.Duration `envconfig:"CAFE24_TIMEOUT" default:"15s"`
		RequestsPerSecond float64       `envconfig:"CAFE24_RPS" default:"2"`
		WebhookKey        string        `envconfig:"WEBHOOK_EVENT_KEY"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"20s"`
	} `envconfig:""`

	Classifier struct {
		ModelPath         string        `envconfig:"CLASSIFIER_MODEL_PATH"`
		LowConfidence     float64       `envconfig:"LOW_CONFIDENCE_THRESHOLD" default:"60"`
		MaxRunes          int           `envconfig:"CLASSIFIER_MAX_RUNES" default:"512"`
		EscalationTimeout time.Duration `envconfig:"ESCALATION_TIMEOUT" default:"20s"`
		Stage1LLMFallback bool          `envconfig:"STAGE1_LLM_FALLBACK" default:"false"`
	} `envconfig:""`

	Cache struct {
		Capacity     int    `envconfig:"CACHE_CAPACITY" default:"10"`
		Backend      string `envconfig:"CACHE_BACKEND" default:"file"`
		File         string `envconfig:"CACHE_FILE" default:"data/review_cache.json"`
		RedisKey     string `envconfig:"CACHE_REDIS_KEY" default:"review-monitor:cache:snapshot"`
		SnapshotName string `envconfig:"CACHE_SNAPSHOT_NAME" default:"default"`
		FetchLimit   int    `envconfig:"FETCH_LIMIT" default:"10"`
	} `envconfig:""`

	Alerts struct {
		IncludeNeutral bool    `envconfig:"ALERT_INCLUDE_NEUTRAL" default:"false"`
		MinConfidence  float64 `envconfig:"ALERT_MIN_CONFIDENCE" default:"0"`
	} `envconfig:""`

	Telegram struct {
		Token   string `envconfig:"TG_BOT_TOKEN"`
		ChatIDs string `envconfig:"TG_ALERT_CHAT_IDS"`
	} `envconfig:""`

	ChannelTalk struct {
		BaseURL   string `envconfig:"CHANNEL_TALK_BASE_URL"`
		AccessKey string `envconfig:"CHANNEL_TALK_ACCESS_KEY"`
		SecretKey string `envconfig:"CHANNEL_TALK_SECRET_KEY"`
		GroupID   string `envconfig:"CHANNEL_TALK_GROUP_ID"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Queues struct {
		Backend    string        `envconfig:"QUEUE_BACKEND" default:"redis"`
		Detection  string        `envconfig:"DETECTION_QUEUE_KEY" default:"detection_jobs"`
		AMQPURL    string        `envconfig:"AMQP_URL"`
		WebhookTTL time.Duration `envconfig:"WEBHOOK_DEDUP_TTL" default:"10m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Если рядом лежит .env, его значения
// подставляются только для незаданных переменных.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// TelegramChatIDs разбирает список чатов через запятую, пропуская некорректные значения.
func (c AppConfig) TelegramChatIDs() []int64 {
	var ids []int64
	for _, raw := range strings.Split(c.Telegram.ChatIDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
