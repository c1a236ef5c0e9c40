package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/metrics"
)

// Sink 定义告警输送接口，返回值表示是否确认送达。
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) bool
	SendAlert(ctx context.Context, alert AlertRecord) bool
}

// TelegramSink 通过 Telegram Bot API 推送消息。
type TelegramSink struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramSink 构造 Telegram 告警器。
func NewTelegramSink(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Str("chat_id", chatID).Logger(),
	}
}

// Name implements Sink.
func (n *TelegramSink) Name() string { return "telegram" }

// SendAlert renders and sends the alert.
func (n *TelegramSink) SendAlert(ctx context.Context, alert AlertRecord) bool {
	return n.Send(ctx, RenderText(alert))
}

// Send 调用 sendMessage API 推送文本，仅 HTTP 200 视为送达。
func (n *TelegramSink) Send(ctx context.Context, text string) bool {
	err := n.post(ctx, text)
	metrics.RecordDelivery(n.Name(), err == nil)
	if err != nil {
		n.logger.Warn().Err(err).Msg("telegram 推送失败")
		return false
	}
	n.logger.Debug().Msg("告警已发送 (Telegram)")
	return true
}

func (n *TelegramSink) post(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}
	return nil
}

var _ Sink = (*TelegramSink)(nil)
