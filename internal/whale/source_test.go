package whale

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genesisTime = 1_700_000_000

// rpcChain serves eth_blockNumber and eth_getBlockByNumber from prebuilt blocks.
type rpcChain struct {
	mu      sync.Mutex
	head    uint64
	blocks  map[uint64]json.RawMessage
	fetched []uint64
}

func (c *rpcChain) setHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
	c.fetched = nil
}

func (c *rpcChain) fetchedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.fetched...)
}

func (c *rpcChain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	c.mu.Lock()
	switch req.Method {
	case "eth_blockNumber":
		resp["result"] = hexutil.Uint64(c.head)
	case "eth_getBlockByNumber":
		var tag string
		_ = json.Unmarshal(req.Params[0], &tag)
		n, err := hexutil.DecodeUint64(tag)
		block, ok := c.blocks[n]
		if err != nil || !ok || n > c.head {
			resp["result"] = nil
			break
		}
		c.fetched = append(c.fetched, n)
		resp["result"] = block
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func blockJSON(t *testing.T, n uint64, txs types.Transactions) json.RawMessage {
	t.Helper()
	header := &types.Header{
		Number:      new(big.Int).SetUint64(n),
		Difficulty:  big.NewInt(0),
		GasLimit:    30_000_000,
		Time:        genesisTime + n*12,
		UncleHash:   types.EmptyUncleHash,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
	}
	if len(txs) > 0 {
		hashes := make([][]byte, 0, len(txs))
		for _, tx := range txs {
			hashes = append(hashes, tx.Hash().Bytes())
		}
		header.TxHash = crypto.Keccak256Hash(hashes...)
	}
	raw, err := json.Marshal(header)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["transactions"] = txs
	fields["uncles"] = []string{}
	out, err := json.Marshal(fields)
	require.NoError(t, err)
	return out
}

func signedTransfer(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to common.Address, wei *big.Int) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      21_000,
		To:       &to,
		Value:    wei,
	})
	require.NoError(t, err)
	return tx
}

// newChain builds blocks 0..tip; txs places transactions into chosen blocks.
func newChain(t *testing.T, tip uint64, txs map[uint64]types.Transactions) (*rpcChain, string) {
	t.Helper()
	chain := &rpcChain{blocks: make(map[uint64]json.RawMessage, tip+1)}
	for n := uint64(0); n <= tip; n++ {
		chain.blocks[n] = blockJSON(t, n, txs[n])
	}
	srv := httptest.NewServer(chain)
	t.Cleanup(srv.Close)
	return chain, srv.URL
}

func blockRange(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, n)
	}
	return out
}

func TestEthSourceScansContiguousBlocks(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	chain, url := newChain(t, 112, map[uint64]types.Transactions{
		99:  {signedTransfer(t, key, 0, to, eth(2))},
		105: {signedTransfer(t, key, 1, to, eth(1500))},
	})

	src := NewEthSource(EthOptions{RPCURL: url, Blocks: 3, MaxCatchUp: 64, Timeout: 5 * time.Second}, zerolog.Nop())
	t.Cleanup(src.Close)
	ctx := context.Background()

	chain.setHead(100)
	first, err := src.RecentTransfers(ctx)
	require.NoError(t, err)
	assert.Equal(t, blockRange(98, 100), chain.fetchedBlocks())
	require.Len(t, first, 1)
	assert.Equal(t, uint64(99), first[0].Block)

	chain.setHead(112)
	second, err := src.RecentTransfers(ctx)
	require.NoError(t, err)
	assert.Equal(t, blockRange(101, 112), chain.fetchedBlocks(), "blocks between scans must not be skipped")
	require.Len(t, second, 1)

	got := second[0]
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), got.From)
	assert.Equal(t, to.Hex(), got.To)
	assert.Equal(t, 0, got.Wei.Cmp(eth(1500)))
	assert.Equal(t, uint64(105), got.Block)
	assert.Equal(t, time.Unix(genesisTime+105*12, 0).UTC(), got.Time)

	chain.setHead(112)
	third, err := src.RecentTransfers(ctx)
	require.NoError(t, err)
	assert.Empty(t, third)
	assert.Empty(t, chain.fetchedBlocks())
}

func TestEthSourceCapsCatchUp(t *testing.T) {
	chain, url := newChain(t, 200, nil)
	src := NewEthSource(EthOptions{RPCURL: url, Blocks: 3, MaxCatchUp: 5, Timeout: 5 * time.Second}, zerolog.Nop())
	t.Cleanup(src.Close)

	chain.setHead(100)
	_, err := src.RecentTransfers(context.Background())
	require.NoError(t, err)

	chain.setHead(200)
	_, err = src.RecentTransfers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blockRange(196, 200), chain.fetchedBlocks())
}

func TestScanStart(t *testing.T) {
	cases := []struct {
		name                        string
		head, last, blocks, catchUp uint64
		want                        uint64
	}{
		{name: "first scan", head: 100, blocks: 3, catchUp: 64, want: 98},
		{name: "first scan near genesis", head: 1, blocks: 3, catchUp: 64, want: 0},
		{name: "continues after last", head: 112, last: 100, blocks: 3, catchUp: 64, want: 101},
		{name: "backlog capped", head: 300, last: 100, blocks: 3, catchUp: 64, want: 237},
		{name: "head unchanged", head: 100, last: 100, blocks: 3, catchUp: 64, want: 101},
		{name: "head behind last", head: 90, last: 100, blocks: 3, catchUp: 64, want: 91},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, scanStart(tc.head, tc.last, tc.blocks, tc.catchUp))
		})
	}
}
