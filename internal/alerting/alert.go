package alerting

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/detector"
	"crypto-alerts/internal/whale"
)

// Type classifies an alert.
type Type string

const (
	TypePriceChange Type = "price_change"
	TypeArbitrage   Type = "arbitrage"
	TypeWhale       Type = "whale"
	TypePriceTarget Type = "price_target"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Types lists every alert type.
var Types = []Type{TypePriceChange, TypeArbitrage, TypeWhale, TypePriceTarget}

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityCritical}

var whaleCriticalUSD = decimal.NewFromInt(10_000_000)

// AlertRecord 是经过去重账本的告警单元。
type AlertRecord struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Symbol    string            `json:"symbol"`
	TenantID  string            `json:"tenant_id"`
	Severity  Severity          `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	DedupKey  string            `json:"dedup_key,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Deduplicated reports whether the alert takes part in cooldown suppression.
func (a AlertRecord) Deduplicated() bool {
	return a.DedupKey != ""
}

// NewID derives the deterministic alert id. Alerts sharing type, symbol and dedup key on the same UTC day collide;
// without a dedup key the id is unique per second and never suppressed.
func NewID(t Type, symbol, dedupKey string, severity Severity, now time.Time) string {
	if dedupKey == "" {
		return fmt.Sprintf("%s_%s_%s_%d", t, symbol, severity, now.Unix())
	}
	return fmt.Sprintf("%s_%s_%s_%s", t, symbol, dedupKey, now.UTC().Format("20060102"))
}

func newAlert(t Type, symbol, tenantID string, severity Severity, title, message, dedupKey string, payload map[string]string, now time.Time) AlertRecord {
	return AlertRecord{
		ID:        NewID(t, symbol, dedupKey, severity, now),
		Type:      t,
		Symbol:    symbol,
		TenantID:  tenantID,
		Severity:  severity,
		Title:     title,
		Message:   message,
		DedupKey:  dedupKey,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}
}

// PriceChangeAlert builds the alert for a price move; moves beyond twice the threshold are warnings.
func PriceChangeAlert(ev detector.PriceChangeEvent, thresholdPct decimal.Decimal) AlertRecord {
	severity := SeverityInfo
	if ev.ChangePct.Abs().GreaterThan(thresholdPct.Mul(decimal.NewFromInt(2))) {
		severity = SeverityWarning
	}
	direction := "up"
	if ev.ChangePct.IsNegative() {
		direction = "down"
	}
	symbol := ev.Symbol.String()
	message := fmt.Sprintf("%s moved %s %s%% (%s -> %s)",
		symbol, direction, ev.ChangePct.Abs().StringFixed(2), formatPrice(ev.PreviousPrice), formatPrice(ev.CurrentPrice))
	payload := map[string]string{
		"previous_price": ev.PreviousPrice.String(),
		"current_price":  ev.CurrentPrice.String(),
		"change_pct":     ev.ChangePct.StringFixed(4),
		"threshold_pct":  thresholdPct.String(),
	}
	return newAlert(TypePriceChange, symbol, ev.TenantID, severity, "Price change", message,
		"price_change_"+symbol, payload, ev.ComputedAt)
}

// ArbitrageAlert builds the alert for a cross-exchange spread.
func ArbitrageAlert(opp detector.Opportunity, tenantID string) AlertRecord {
	symbol := opp.Symbol.String()
	message := fmt.Sprintf("%s: buy on %s at %s, sell on %s at %s, profit %s%% (%s per unit)",
		symbol, opp.BuyExchange, formatPrice(opp.BuyPrice), opp.SellExchange, formatPrice(opp.SellPrice),
		opp.ProfitPct.StringFixed(2), formatPrice(opp.ProfitAbs))
	payload := map[string]string{
		"buy_exchange":  opp.BuyExchange,
		"buy_price":     opp.BuyPrice.String(),
		"sell_exchange": opp.SellExchange,
		"sell_price":    opp.SellPrice.String(),
		"profit_pct":    opp.ProfitPct.StringFixed(4),
		"profit_abs":    opp.ProfitAbs.String(),
	}
	dedupKey := fmt.Sprintf("arbitrage_%s_%s_%s", symbol, opp.BuyExchange, opp.SellExchange)
	return newAlert(TypeArbitrage, symbol, tenantID, SeverityCritical, "Arbitrage opportunity", message, dedupKey, payload, opp.ComputedAt)
}

// WhaleAlert builds the alert for a large on-chain transfer; transfers above $10M are critical.
func WhaleAlert(m whale.Movement, tenantID string) AlertRecord {
	severity := SeverityWarning
	if m.ValueUSD.GreaterThan(whaleCriticalUSD) {
		severity = SeverityCritical
	}
	dedupKey := "whale_" + m.TxHash
	if m.TxHash == "" {
		dedupKey = fmt.Sprintf("whale_%s_%s_%s", m.From, m.To, m.Amount.String())
	}
	message := fmt.Sprintf("%s %s ($%s) moved %s -> %s",
		m.Amount.StringFixed(2), m.Asset, m.ValueUSD.StringFixed(0), shortAddress(m.From), shortAddress(m.To))
	payload := map[string]string{
		"tx_hash":   m.TxHash,
		"from":      m.From,
		"to":        m.To,
		"amount":    m.Amount.String(),
		"value_usd": m.ValueUSD.StringFixed(2),
		"block":     strconv.FormatUint(m.Block, 10),
	}
	return newAlert(TypeWhale, m.Asset, tenantID, severity, "Whale movement", message, dedupKey, payload, m.ObservedAt)
}

// TargetAlert builds the alert for a crossed price target.
func TargetAlert(c detector.TargetCrossing) AlertRecord {
	symbol := c.Target.Symbol.String()
	message := fmt.Sprintf("%s crossed %s %s (%s -> %s)",
		symbol, c.Target.Direction, formatPrice(c.Target.Level), formatPrice(c.PreviousPrice), formatPrice(c.CurrentPrice))
	payload := map[string]string{
		"level":          c.Target.Level.String(),
		"direction":      c.Target.Direction,
		"previous_price": c.PreviousPrice.String(),
		"current_price":  c.CurrentPrice.String(),
	}
	dedupKey := fmt.Sprintf("price_target_%s_%s_%s", symbol, c.Target.Level.String(), c.Target.Direction)
	return newAlert(TypePriceTarget, symbol, c.TenantID, SeverityWarning, "Price target", message, dedupKey, payload, c.ComputedAt)
}

func formatPrice(d decimal.Decimal) string {
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		return d.StringFixed(6)
	}
	return d.StringFixed(2)
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func severityIcon(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// RenderText formats an alert for plain-text channels.
func RenderText(a AlertRecord) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s [%s] %s\n", severityIcon(a.Severity), strings.ToUpper(string(a.Severity)), a.Title))
	builder.WriteString(a.Message)
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC", a.CreatedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}
