package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/ledger"
	"crypto-alerts/internal/metrics"
)

// DefaultRetention bounds the in-memory alert log used for statistics.
const DefaultRetention = 7 * 24 * time.Hour

// Observer receives every accepted alert regardless of sink outcome.
type Observer interface {
	OnAlert(alert AlertRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(alert AlertRecord)

// OnAlert implements Observer.
func (f ObserverFunc) OnAlert(alert AlertRecord) { f(alert) }

// Archiver persists accepted alerts outside the process.
type Archiver interface {
	ArchiveAlert(ctx context.Context, alert AlertRecord) error
}

// Result describes one dispatch call.
type Result struct {
	Suppressed bool            `json:"suppressed"`
	Delivered  bool            `json:"delivered"`
	FellBack   bool            `json:"fell_back"`
	PerSink    map[string]bool `json:"per_sink,omitempty"`
}

// Stats is derived from the retained alert log.
type Stats struct {
	Total      int              `json:"total"`
	ByType     map[Type]int     `json:"by_type"`
	BySeverity map[Severity]int `json:"by_severity"`
	Last24h    int              `json:"last_24h"`
}

// DispatcherOptions tune a Dispatcher.
type DispatcherOptions struct {
	Cooldown  time.Duration
	Retention time.Duration
	Fallback  Sink
	Archiver  Archiver
	Now       func() time.Time
}

// Dispatcher 负责单个租户的去重与多通道推送。
type Dispatcher struct {
	tenantID  string
	ledger    *ledger.Ledger
	fallback  Sink
	archiver  Archiver
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu        sync.RWMutex
	sinks     []Sink
	observers []Observer
	log       []AlertRecord
}

// NewDispatcher constructs a dispatcher with its own cooldown ledger.
func NewDispatcher(tenantID string, sinks []Sink, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	logger = logger.With().Str("component", "dispatcher").Str("tenant_id", tenantID).Logger()
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fallback == nil {
		opts.Fallback = NewConsoleSink(nil, logger)
	}
	return &Dispatcher{
		tenantID:  tenantID,
		ledger:    ledger.New(opts.Cooldown),
		fallback:  opts.Fallback,
		archiver:  opts.Archiver,
		retention: opts.Retention,
		now:       opts.Now,
		logger:    logger,
		sinks:     append([]Sink(nil), sinks...),
	}
}

// SetSinks replaces the configured sinks, e.g. after a settings change.
func (d *Dispatcher) SetSinks(sinks []Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append([]Sink(nil), sinks...)
}

// AddObserver registers a side-channel observer.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Ledger exposes the cooldown ledger for maintenance.
func (d *Dispatcher) Ledger() *ledger.Ledger {
	return d.ledger
}

// Dispatch runs the alert through the cooldown ledger and fans it out to every sink.
func (d *Dispatcher) Dispatch(ctx context.Context, alert AlertRecord) Result {
	now := d.now()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now.UTC()
	}
	if alert.TenantID == "" {
		alert.TenantID = d.tenantID
	}

	if alert.Deduplicated() && !d.ledger.Admit(alert.ID, now) {
		metrics.RecordSuppressed(string(alert.Type))
		d.logger.Debug().Str("alert_id", alert.ID).Msg("alert suppressed by cooldown")
		return Result{Suppressed: true}
	}
	metrics.RecordDispatched(string(alert.Type), string(alert.Severity))

	d.mu.Lock()
	d.log = append(d.log, alert)
	sinks := append([]Sink(nil), d.sinks...)
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	if d.archiver != nil {
		if err := d.archiver.ArchiveAlert(ctx, alert); err != nil {
			d.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to archive alert")
		}
	}

	result := Result{PerSink: make(map[string]bool, len(sinks))}
	for _, sink := range sinks {
		ok := sink.SendAlert(ctx, alert)
		result.PerSink[sink.Name()] = result.PerSink[sink.Name()] || ok
		result.Delivered = result.Delivered || ok
	}

	for _, o := range observers {
		d.notifyObserver(o, alert)
	}

	if !result.Delivered && len(observers) == 0 {
		result.FellBack = true
		result.Delivered = d.fallback.SendAlert(ctx, alert)
		result.PerSink[d.fallback.Name()] = result.Delivered
	}

	d.logger.Info().
		Str("alert_id", alert.ID).
		Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Bool("delivered", result.Delivered).
		Bool("fallback", result.FellBack).
		Msg("alert dispatched")
	return result
}

func (d *Dispatcher) notifyObserver(o Observer, alert AlertRecord) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("panic", fmt.Sprint(r)).Str("alert_id", alert.ID).Msg("alert observer panicked")
		}
	}()
	o.OnAlert(alert)
}

// Stats derives counters from the retained log.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Stats{
		Total:      len(d.log),
		ByType:     make(map[Type]int),
		BySeverity: make(map[Severity]int),
	}
	cutoff := d.now().Add(-24 * time.Hour)
	for _, a := range d.log {
		stats.ByType[a.Type]++
		stats.BySeverity[a.Severity]++
		if a.CreatedAt.After(cutoff) {
			stats.Last24h++
		}
	}
	return stats
}

// Recent returns up to limit alerts, newest first.
func (d *Dispatcher) Recent(limit int) []AlertRecord {
	d.mu.RLock()
	out := append([]AlertRecord(nil), d.log...)
	d.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Prune trims log entries older than the retention window and expired ledger entries.
func (d *Dispatcher) Prune() (logRemoved, ledgerRemoved int) {
	now := d.now()
	cutoff := now.Add(-d.retention)

	d.mu.Lock()
	kept := d.log[:0]
	for _, a := range d.log {
		if a.CreatedAt.Before(cutoff) {
			logRemoved++
			continue
		}
		kept = append(kept, a)
	}
	d.log = kept
	d.mu.Unlock()

	ledgerRemoved = d.ledger.Prune(now)
	return logRemoved, ledgerRemoved
}

// MergeStats sums per-tenant statistics.
func MergeStats(all ...Stats) Stats {
	out := Stats{ByType: make(map[Type]int), BySeverity: make(map[Severity]int)}
	for _, s := range all {
		out.Total += s.Total
		out.Last24h += s.Last24h
		for k, v := range s.ByType {
			out.ByType[k] += v
		}
		for k, v := range s.BySeverity {
			out.BySeverity[k] += v
		}
	}
	return out
}
