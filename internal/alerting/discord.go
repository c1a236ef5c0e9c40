package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/metrics"
)

const discordUsername = "Crypto Alert Bot"

// DiscordSink posts alerts to a Discord webhook. Discord answers 204 on success.
type DiscordSink struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewDiscordSink constructs a webhook sink.
func NewDiscordSink(webhookURL string, timeout time.Duration, logger zerolog.Logger) *DiscordSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_discord").Logger(),
	}
}

// Name implements Sink.
func (d *DiscordSink) Name() string { return "discord" }

// SendAlert implements Sink.
func (d *DiscordSink) SendAlert(ctx context.Context, alert AlertRecord) bool {
	return d.Send(ctx, RenderText(alert))
}

// Send implements Sink.
func (d *DiscordSink) Send(ctx context.Context, text string) bool {
	err := d.post(ctx, text)
	metrics.RecordDelivery(d.Name(), err == nil)
	if err != nil {
		d.logger.Warn().Err(err).Msg("discord delivery failed")
		return false
	}
	return true
}

func (d *DiscordSink) post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"content":  text,
		"username": discordUsername,
	})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}
	return nil
}

var _ Sink = (*DiscordSink)(nil)
