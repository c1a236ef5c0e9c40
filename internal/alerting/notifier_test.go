package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleAlert() AlertRecord {
	return AlertRecord{
		ID:        "price_change_BTC/USDT_price_change_BTC/USDT_20240501",
		Type:      TypePriceChange,
		Symbol:    "BTC/USDT",
		Severity:  SeverityWarning,
		Title:     "Price change",
		Message:   "BTC/USDT moved down 3.00% (100.00 -> 97.00)",
		DedupKey:  "price_change_BTC/USDT",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramSinkSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger())
	require.True(t, sink.SendAlert(context.Background(), sampleAlert()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "BTC/USDT moved down")
	assert.Contains(t, received["text"], "WARNING")
}

func TestTelegramSinkRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger())
	assert.False(t, sink.Send(context.Background(), "hi"), "ok=false 不应视为送达")
}

func TestTelegramSinkNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", srv.URL, time.Second, testLogger())
	assert.False(t, sink.Send(context.Background(), "hi"))
}

func TestDiscordSink(t *testing.T) {
	var payload map[string]string
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	sink := NewDiscordSink(srv.URL, time.Second, testLogger())
	require.True(t, sink.SendAlert(context.Background(), sampleAlert()))
	assert.Equal(t, "Crypto Alert Bot", payload["username"])
	assert.Contains(t, payload["content"], "Price change")

	status = http.StatusOK
	assert.False(t, sink.Send(context.Background(), "x"), "only 204 counts as delivered")
}

func TestConsoleSinkAlwaysDelivers(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, testLogger())
	assert.True(t, sink.SendAlert(context.Background(), sampleAlert()))
	assert.Contains(t, buf.String(), "BTC/USDT moved down")
}
