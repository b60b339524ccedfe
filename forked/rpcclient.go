package forked

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/simchain/go-simchain/core/blockstore"
	"github.com/simchain/go-simchain/params"
)

// cacheableMemoSize bounds the memo of block numbers already proven safe to
// cache, so repeated admissions skip the head probe.
const cacheableMemoSize = 4096

// Client implements RemoteClient over a JSON-RPC endpoint. Blocks are fetched
// with raw calls so the totalDifficulty field survives; receipts, logs and
// head probes go through ethclient.
type Client struct {
	c   *rpc.Client
	eth *ethclient.Client

	safeBlockDistance uint64
	cacheable         *lru.Cache[uint64, struct{}]

	mu               sync.Mutex
	largestKnownHead uint64
}

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string, safeBlockDistance uint64) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial remote node %s: %w", url, err)
	}
	return NewClient(c, safeBlockDistance), nil
}

// NewClient wraps an existing RPC client. A zero safeBlockDistance selects
// the default.
func NewClient(c *rpc.Client, safeBlockDistance uint64) *Client {
	if safeBlockDistance == 0 {
		safeBlockDistance = params.DefaultSafeBlockDistance
	}
	cacheable, _ := lru.New[uint64, struct{}](cacheableMemoSize)
	return &Client{
		c:                 c,
		eth:               ethclient.NewClient(c),
		safeBlockDistance: safeBlockDistance,
		cacheable:         cacheable,
	}
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() {
	c.c.Close()
}

// rpcBlock mirrors the parts of a JSON-RPC block response the engine needs
// beyond the header.
type rpcBlock struct {
	Transactions    []*types.Transaction `json:"transactions"`
	Withdrawals     types.Withdrawals    `json:"withdrawals"`
	TotalDifficulty *hexutil.Big         `json:"totalDifficulty"`
}

// BlockByHash retrieves the block with full transaction data, or nil if the
// remote does not know the hash.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*RemoteBlock, error) {
	return c.getBlock(ctx, "eth_getBlockByHash", hash)
}

// BlockByNumber retrieves the block with full transaction data. The remote is
// authoritative for the forked prefix, so absence is an error.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*RemoteBlock, error) {
	block, err := c.getBlock(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(number))
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("block %d: %w", number, ErrRemoteNotFound)
	}
	return block, nil
}

func (c *Client) getBlock(ctx context.Context, method string, arg any) (*RemoteBlock, error) {
	var raw json.RawMessage
	if err := c.c.CallContext(ctx, &raw, method, arg, true); err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var head types.Header
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to decode remote header: %w", err)
	}
	var body rpcBlock
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode remote block body: %w", err)
	}

	var totalDifficulty *uint256.Int
	if body.TotalDifficulty != nil {
		totalDifficulty, _ = uint256.FromBig((*big.Int)(body.TotalDifficulty))
	}

	block := types.NewBlockWithHeader(&head).WithBody(types.Body{
		Transactions: body.Transactions,
		Withdrawals:  body.Withdrawals,
	})
	return &RemoteBlock{Block: block, TotalDifficulty: totalDifficulty}, nil
}

// TransactionByHash locates the block containing the transaction, or nil if
// the remote does not know the hash.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*RemoteTransaction, error) {
	var result *struct {
		BlockHash *common.Hash `json:"blockHash"`
	}
	if err := c.c.CallContext(ctx, &result, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash failed: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	return &RemoteTransaction{Hash: hash, BlockHash: result.BlockHash}, nil
}

// TransactionReceipt retrieves the transaction's receipt, or nil if the
// remote does not know the hash.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}
	return receipt, nil
}

// FilterLogs runs the filter remotely over [from, to].
func (c *Client) FilterLogs(ctx context.Context, from, to uint64, filter blockstore.FilterParams) ([]*types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	if filter.Addresses != nil {
		query.Addresses = filter.Addresses.ToSlice()
	}
	if len(filter.Topics) > 0 {
		query.Topics = make([][]common.Hash, len(filter.Topics))
		for i, topics := range filter.Topics {
			if topics != nil {
				query.Topics[i] = topics.ToSlice()
			}
		}
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs failed: %w", err)
	}
	out := make([]*types.Log, len(logs))
	for i := range logs {
		out[i] = &logs[i]
	}
	return out, nil
}

// IsCacheableBlockNumber reports whether the block number sits at least the
// safe distance behind the remote head. Confirmed numbers are memoized; a
// remote head never moves backwards, so a cacheable number stays cacheable.
func (c *Client) IsCacheableBlockNumber(ctx context.Context, number uint64) (bool, error) {
	if _, ok := c.cacheable.Get(number); ok {
		return true, nil
	}

	c.mu.Lock()
	head := c.largestKnownHead
	c.mu.Unlock()

	if number+c.safeBlockDistance > head {
		latest, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return false, fmt.Errorf("eth_blockNumber failed: %w", err)
		}
		c.mu.Lock()
		if latest > c.largestKnownHead {
			c.largestKnownHead = latest
		}
		head = c.largestKnownHead
		c.mu.Unlock()
	}

	if number+c.safeBlockDistance <= head {
		c.cacheable.Add(number, struct{}{})
		return true, nil
	}
	return false, nil
}
