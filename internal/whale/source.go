package whale

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Transfer is a native-value transaction pulled from a block.
type Transfer struct {
	TxHash string
	From   string
	To     string
	Wei    *big.Int
	Block  uint64
	Time   time.Time
}

// TransferSource yields native transfers from the most recent blocks.
type TransferSource interface {
	RecentTransfers(ctx context.Context) ([]Transfer, error)
}

// EthOptions parameterise the JSON-RPC block scanner.
type EthOptions struct {
	RPCURL        string
	Blocks        int
	MaxTxPerBlock int
	MaxCatchUp    int
	Timeout       time.Duration
}

// EthSource scans Ethereum blocks over JSON-RPC. The first call reads the last Blocks blocks; later calls
// continue from the last scanned block, reading at most MaxCatchUp blocks per call.
type EthSource struct {
	opts      EthOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	lastBlock uint64
}

// NewEthSource builds a block scanner.
func NewEthSource(opts EthOptions, logger zerolog.Logger) *EthSource {
	if opts.Blocks <= 0 {
		opts.Blocks = 3
	}
	if opts.MaxCatchUp < opts.Blocks {
		opts.MaxCatchUp = max(64, opts.Blocks)
	}
	return &EthSource{opts: opts, logger: logger.With().Str("component", "whale_source").Logger()}
}

// RecentTransfers implements TransferSource.
func (e *EthSource) RecentTransfers(ctx context.Context) ([]Transfer, error) {
	if e.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	timeout := e.opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.getClient(ctx)
	if err != nil {
		return nil, err
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}

	e.clientMux.Lock()
	last := e.lastBlock
	e.clientMux.Unlock()

	from := scanStart(head, last, uint64(e.opts.Blocks), uint64(e.opts.MaxCatchUp))
	if last > 0 && from > last+1 {
		e.logger.Warn().Uint64("missed_from", last+1).Uint64("missed_to", from-1).Msg("block backlog exceeds max catch-up; skipping oldest blocks")
	}

	transfers := make([]Transfer, 0)
	for n := from; n <= head; n++ {
		block, err := client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return transfers, fmt.Errorf("block %d: %w", n, err)
		}
		transfers = append(transfers, e.blockTransfers(block)...)

		e.clientMux.Lock()
		e.lastBlock = n
		e.clientMux.Unlock()
	}
	return transfers, nil
}

// scanStart picks the first block to read. A head that has not advanced yields head+1, an empty range.
func scanStart(head, last, blocks, maxCatchUp uint64) uint64 {
	window := blocks
	if last > 0 {
		if last >= head {
			return head + 1
		}
		window = min(head-last, maxCatchUp)
	}
	if head+1 <= window {
		return 0
	}
	return head + 1 - window
}

func (e *EthSource) blockTransfers(block *types.Block) []Transfer {
	blockTime := time.Unix(int64(block.Time()), 0).UTC()
	out := make([]Transfer, 0)
	for i, tx := range block.Transactions() {
		if e.opts.MaxTxPerBlock > 0 && i >= e.opts.MaxTxPerBlock {
			break
		}
		if tx.To() == nil || tx.Value().Sign() == 0 {
			continue
		}
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			e.logger.Debug().Err(err).Str("tx", tx.Hash().Hex()).Msg("skip transaction with unrecoverable sender")
			continue
		}
		out = append(out, Transfer{
			TxHash: tx.Hash().Hex(),
			From:   sender.Hex(),
			To:     tx.To().Hex(),
			Wei:    new(big.Int).Set(tx.Value()),
			Block:  block.NumberU64(),
			Time:   blockTime,
		})
	}
	return out
}

func (e *EthSource) getClient(ctx context.Context) (*ethclient.Client, error) {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := ethclient.DialContext(ctx, e.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	e.client = client
	return client, nil
}

// Close releases the RPC connection.
func (e *EthSource) Close() {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
}

var _ TransferSource = (*EthSource)(nil)
