package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/detector"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/metrics"
	"crypto-alerts/internal/service"
	"crypto-alerts/internal/tenant"
	"crypto-alerts/internal/version"
)

// Backend is the surface the status API serves: on-demand reads plus manual alert dispatch.
type Backend interface {
	Stats() service.Snapshot
	Prices(ctx context.Context, symbols []market.Symbol) market.QuoteTable
	Arbitrage(ctx context.Context, symbols []market.Symbol, minProfitPct decimal.Decimal) []detector.Opportunity
	RecentAlerts(tenantID string, limit int) ([]alerting.AlertRecord, error)
	Dispatch(ctx context.Context, tenantID string, alert alerting.AlertRecord) (alerting.Result, error)
}

const maxAlertBody = 64 << 10

var _ Backend = (*service.Service)(nil)

// Server exposes health, metrics and on-demand read endpoints.
type Server struct {
	addr    string
	backend Backend
	logger  zerolog.Logger
}

// New constructs the status server.
func New(addr string, backend Backend, logger zerolog.Logger) *Server {
	return &Server{addr: addr, backend: backend, logger: logger.With().Str("component", "httpapi").Logger()}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/stats", s.stats)
	r.Get("/prices", s.prices)
	r.Get("/arbitrage", s.arbitrage)
	r.Get("/tenants/{tenantID}/alerts", s.alerts)
	r.Post("/tenants/{tenantID}/alerts", s.sendAlert)
	return r
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.backend.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"ticks":     snap.Ticks,
		"last_tick": snap.LastTick,
		"version":   version.Get().Version,
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Stats())
}

type quoteView struct {
	Exchange     string           `json:"exchange"`
	Price        decimal.Decimal  `json:"price"`
	Bid          *decimal.Decimal `json:"bid,omitempty"`
	Ask          *decimal.Decimal `json:"ask,omitempty"`
	Volume24h    *decimal.Decimal `json:"volume_24h,omitempty"`
	Change24hPct *decimal.Decimal `json:"change_24h_pct,omitempty"`
	ObservedAt   time.Time        `json:"observed_at"`
}

type symbolView struct {
	Symbol  market.Symbol   `json:"symbol"`
	Average decimal.Decimal `json:"average"`
	Quotes  []quoteView     `json:"quotes"`
}

func (s *Server) prices(w http.ResponseWriter, r *http.Request) {
	symbols, err := parseSymbolsParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	table := s.backend.Prices(r.Context(), symbols)
	writeJSON(w, http.StatusOK, tableView(table))
}

func (s *Server) arbitrage(w http.ResponseWriter, r *http.Request) {
	symbols, err := parseSymbolsParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minPct := decimal.Zero
	if raw := r.URL.Query().Get("min_pct"); raw != "" {
		minPct, err = decimal.NewFromString(raw)
		if err != nil || minPct.IsNegative() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid min_pct %q", raw))
			return
		}
	}
	writeJSON(w, http.StatusOK, s.backend.Arbitrage(r.Context(), symbols, minPct))
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	alerts, err := s.backend.RecentAlerts(chi.URLParam(r, "tenantID"), limit)
	if errors.Is(err, tenant.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type alertRequest struct {
	Type     alerting.Type     `json:"type"`
	Symbol   string            `json:"symbol"`
	Severity alerting.Severity `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	DedupKey string            `json:"dedup_key"`
	Payload  map[string]string `json:"payload"`
}

func (req alertRequest) record() (alerting.AlertRecord, error) {
	if !lo.Contains(alerting.Types, req.Type) {
		return alerting.AlertRecord{}, fmt.Errorf("unknown alert type %q", req.Type)
	}
	if req.Severity == "" {
		req.Severity = alerting.SeverityInfo
	}
	if !lo.Contains(alerting.Severities, req.Severity) {
		return alerting.AlertRecord{}, fmt.Errorf("unknown severity %q", req.Severity)
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Message) == "" {
		return alerting.AlertRecord{}, errors.New("title or message is required")
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol != "" {
		sym, err := market.ParseSymbol(symbol)
		if err != nil {
			return alerting.AlertRecord{}, err
		}
		symbol = sym.String()
	}
	return alerting.AlertRecord{
		Type:     req.Type,
		Symbol:   symbol,
		Severity: req.Severity,
		Title:    req.Title,
		Message:  req.Message,
		DedupKey: strings.TrimSpace(req.DedupKey),
		Payload:  req.Payload,
	}, nil
}

func (s *Server) sendAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAlertBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode alert: %w", err))
		return
	}
	alert, err := req.record()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tenantID := chi.URLParam(r, "tenantID")
	res, err := s.backend.Dispatch(r.Context(), tenantID, alert)
	if errors.Is(err, tenant.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info().Str("tenant_id", tenantID).Str("type", string(alert.Type)).Bool("suppressed", res.Suppressed).Msg("manual alert dispatched")
	writeJSON(w, http.StatusOK, res)
}

func parseSymbolsParam(r *http.Request) ([]market.Symbol, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("symbols"))
	if raw == "" {
		return nil, nil
	}
	return market.ParseSymbols(strings.Split(raw, ","))
}

func tableView(table market.QuoteTable) []symbolView {
	out := make([]symbolView, 0, len(table))
	for _, sym := range table.Symbols() {
		avg, _ := table.Average(sym)
		view := symbolView{Symbol: sym, Average: avg}
		for _, q := range table.Quotes(sym) {
			view.Quotes = append(view.Quotes, quoteView{
				Exchange:     q.Exchange,
				Price:        q.Price,
				Bid:          q.Bid,
				Ask:          q.Ask,
				Volume24h:    q.Volume24h,
				Change24hPct: q.Change24hPct,
				ObservedAt:   q.ObservedAt,
			})
		}
		out = append(out, view)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
