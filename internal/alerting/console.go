package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// ConsoleSink prints alerts and always reports delivery. It is the last resort when nothing else is configured.
type ConsoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	logger zerolog.Logger
}

// NewConsoleSink writes to out, or stdout when out is nil.
func NewConsoleSink(out io.Writer, logger zerolog.Logger) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out, logger: logger.With().Str("component", "alert_console").Logger()}
}

// Name implements Sink.
func (c *ConsoleSink) Name() string { return "console" }

// SendAlert implements Sink.
func (c *ConsoleSink) SendAlert(ctx context.Context, alert AlertRecord) bool {
	c.logger.Info().
		Str("alert_id", alert.ID).
		Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Str("tenant_id", alert.TenantID).
		Msg(alert.Message)
	return c.Send(ctx, RenderText(alert))
}

// Send implements Sink.
func (c *ConsoleSink) Send(_ context.Context, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s\n\n", text)
	return true
}

var _ Sink = (*ConsoleSink)(nil)
