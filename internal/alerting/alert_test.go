package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"crypto-alerts/internal/detector"
	"crypto-alerts/internal/whale"
)

func TestNewIDCollidesPerDay(t *testing.T) {
	morning := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	nextDay := time.Date(2024, 5, 2, 0, 30, 0, 0, time.UTC)

	a := NewID(TypeWhale, "ETH", "whale_0x1", SeverityCritical, morning)
	assert.Equal(t, "whale_ETH_whale_0x1_20240501", a)
	assert.Equal(t, a, NewID(TypeWhale, "ETH", "whale_0x1", SeverityWarning, evening))
	assert.NotEqual(t, a, NewID(TypeWhale, "ETH", "whale_0x1", SeverityCritical, nextDay))

	assert.Equal(t, "price_change_BTC/USDT_info_1714525200", NewID(TypePriceChange, "BTC/USDT", "", SeverityInfo, morning))
}

func TestPriceChangeSeverity(t *testing.T) {
	ev := detector.PriceChangeEvent{
		Symbol:        "BTC/USDT",
		TenantID:      "t1",
		PreviousPrice: decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(97),
		ChangePct:     decimal.NewFromInt(-3),
		ComputedAt:    time.Now(),
	}
	info := PriceChangeAlert(ev, decimal.NewFromInt(2))
	assert.Equal(t, SeverityInfo, info.Severity)
	assert.Equal(t, "price_change_BTC/USDT", info.DedupKey)
	assert.Contains(t, info.Message, "down 3.00%")

	warning := PriceChangeAlert(ev, decimal.RequireFromString("1.4"))
	assert.Equal(t, SeverityWarning, warning.Severity)
}

func TestArbitrageAlert(t *testing.T) {
	a := ArbitrageAlert(detector.Opportunity{
		Symbol:       "BTC/USDT",
		BuyExchange:  "A",
		BuyPrice:     decimal.NewFromInt(100),
		SellExchange: "B",
		SellPrice:    decimal.NewFromInt(101),
		ProfitPct:    decimal.NewFromInt(1),
		ProfitAbs:    decimal.NewFromInt(1),
		ComputedAt:   time.Now(),
	}, "t1")
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "arbitrage_BTC/USDT_A_B", a.DedupKey)
	assert.Equal(t, "t1", a.TenantID)
}

func TestWhaleAlert(t *testing.T) {
	m := whale.Movement{
		TxHash:   "0xabc",
		From:     "0x1111111111111111111111111111111111111111",
		To:       "0x2222222222222222222222222222222222222222",
		Asset:    whale.Asset,
		Amount:   decimal.NewFromInt(5000),
		ValueUSD: decimal.NewFromInt(15_000_000),
	}
	a := WhaleAlert(m, "t1")
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "whale_0xabc", a.DedupKey)
	assert.Contains(t, a.Message, "0x1111...1111")

	m.TxHash = ""
	m.ValueUSD = decimal.NewFromInt(2_000_000)
	a = WhaleAlert(m, "t1")
	assert.Equal(t, SeverityWarning, a.Severity)
	assert.Equal(t, "whale_"+m.From+"_"+m.To+"_5000", a.DedupKey)
}

func TestTargetAlert(t *testing.T) {
	a := TargetAlert(detector.TargetCrossing{
		Target:        detector.PriceTarget{Symbol: "ETH/USDT", Level: decimal.NewFromInt(3000), Direction: detector.DirectionAbove},
		TenantID:      "t1",
		PreviousPrice: decimal.NewFromInt(2990),
		CurrentPrice:  decimal.NewFromInt(3010),
		ComputedAt:    time.Now(),
	})
	assert.Equal(t, TypePriceTarget, a.Type)
	assert.Equal(t, "price_target_ETH/USDT_3000_above", a.DedupKey)
}
