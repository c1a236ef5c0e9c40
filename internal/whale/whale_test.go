package whale

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	transfers []Transfer
	err       error
}

func (f fakeSource) RecentTransfers(context.Context) ([]Transfer, error) {
	return f.transfers, f.err
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestScanPricesAndFilters(t *testing.T) {
	src := fakeSource{transfers: []Transfer{
		{TxHash: "0x1", From: "0xa", To: "0xb", Wei: eth(1000), Block: 10, Time: time.Unix(100, 0)},
		{TxHash: "0x2", From: "0xa", To: "0xc", Wei: eth(10), Block: 10},
		{TxHash: "0x3", Wei: nil},
	}}
	scanner := NewScanner(src, zerolog.Nop())

	movements, err := scanner.Scan(context.Background(), decimal.NewFromInt(3000), decimal.NewFromInt(1_000_000))
	require.NoError(t, err)
	require.Len(t, movements, 1)
	m := movements[0]
	assert.Equal(t, "0x1", m.TxHash)
	assert.Equal(t, Asset, m.Asset)
	assert.True(t, m.Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, m.ValueUSD.Equal(decimal.NewFromInt(3_000_000)))
}

func TestScanWithoutPriceReturnsNothing(t *testing.T) {
	scanner := NewScanner(fakeSource{transfers: []Transfer{{TxHash: "0x1", Wei: eth(1)}}}, zerolog.Nop())
	movements, err := scanner.Scan(context.Background(), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestScanKeepsPartialResultOnError(t *testing.T) {
	src := fakeSource{transfers: []Transfer{{TxHash: "0x1", Wei: eth(5000)}}, err: errors.New("block 12: timeout")}
	movements, err := NewScanner(src, zerolog.Nop()).Scan(context.Background(), decimal.NewFromInt(2000), decimal.NewFromInt(500_000))
	assert.Error(t, err)
	assert.Len(t, movements, 1)
}

func TestFilter(t *testing.T) {
	movements := []Movement{
		{TxHash: "a", ValueUSD: decimal.NewFromInt(600_000)},
		{TxHash: "b", ValueUSD: decimal.NewFromInt(6_000_000)},
	}
	assert.Len(t, Filter(movements, decimal.NewFromInt(500_000)), 2)
	assert.Len(t, Filter(movements, decimal.NewFromInt(5_000_000)), 1)
	assert.Empty(t, Filter(movements, decimal.NewFromInt(10_000_000)))
}

func TestEthSourceRequiresRPC(t *testing.T) {
	src := NewEthSource(EthOptions{}, zerolog.Nop())
	_, err := src.RecentTransfers(context.Background())
	assert.Error(t, err)
}
