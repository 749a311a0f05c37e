package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"review-monitor/internal/infra/metrics"
)

const (
	channelTalkBaseURL = "https://api.channel.io"
	channelTalkLimit   = 2000
)

// ChannelTalkConfig задаёт доступ к Open API Channel Talk.
type ChannelTalkConfig struct {
	BaseURL   string
	AccessKey string
	SecretKey string
	GroupID   string
	Timeout   time.Duration
}

// ChannelTalk отправляет оповещения в группу Channel Talk.
type ChannelTalk struct {
	http      *http.Client
	baseURL   string
	accessKey string
	secretKey string
	groupID   string
}

// NewChannelTalk создаёт канал оповещений Channel Talk.
func NewChannelTalk(cfg ChannelTalkConfig) *ChannelTalk {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = channelTalkBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ChannelTalk{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   base,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		groupID:   cfg.GroupID,
	}
}

// Name реализует Channel.
func (c *ChannelTalk) Name() string { return "channel_talk" }

type channelTalkBlock struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type channelTalkMessage struct {
	Blocks []channelTalkBlock `json:"blocks"`
}

// Send реализует Channel.
func (c *ChannelTalk) Send(ctx context.Context, text string) error {
	if c.accessKey == "" || c.groupID == "" {
		return errors.New("channel talk: не заданы ключ доступа или группа")
	}
	for _, part := range SplitMessage(text, channelTalkLimit) {
		if err := c.post(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (c *ChannelTalk) post(ctx context.Context, text string) error {
	body, err := json.Marshal(channelTalkMessage{Blocks: []channelTalkBlock{{Type: "text", Value: text}}})
	if err != nil {
		return fmt.Errorf("channel talk: marshal: %w", err)
	}
	endpoint := fmt.Sprintf("%s/open/v5/groups/%s/messages", c.baseURL, c.groupID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("channel talk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-access-key", c.accessKey)
	req.Header.Set("x-access-secret", c.secretKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("channel_talk", "group_message", c.groupID, start, err)
		return fmt.Errorf("channel talk: do request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Message != "" {
			err = fmt.Errorf("channel talk: [%s] %s", apiErr.Code, apiErr.Message)
		} else {
			err = fmt.Errorf("channel talk: unexpected status %d", resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("channel_talk", "group_message", c.groupID, start, err)
		return err
	}
	metrics.ObserveNetworkRequest("channel_talk", "group_message", c.groupID, start, nil)
	return nil
}
