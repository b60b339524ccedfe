package forked

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/simchain/go-simchain/core/blockbuilder"
	"github.com/simchain/go-simchain/core/blockstore"
	"github.com/simchain/go-simchain/core/state"
	"github.com/simchain/go-simchain/params"
)

// fakeClient serves canned remote data and counts RPC calls per method.
type fakeClient struct {
	mu          sync.Mutex
	byNumber    map[uint64]*RemoteBlock
	byHash      map[common.Hash]*RemoteBlock
	txs         map[common.Hash]*RemoteTransaction
	receipts    map[common.Hash]*types.Receipt
	logs        []*types.Log
	uncacheable map[uint64]bool
	calls       map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		byNumber:    make(map[uint64]*RemoteBlock),
		byHash:      make(map[common.Hash]*RemoteBlock),
		txs:         make(map[common.Hash]*RemoteTransaction),
		receipts:    make(map[common.Hash]*types.Receipt),
		uncacheable: make(map[uint64]bool),
		calls:       make(map[string]int),
	}
}

func (c *fakeClient) addBlock(remote *RemoteBlock) {
	hash := remote.Block.Hash()
	c.byNumber[remote.Block.NumberU64()] = remote
	c.byHash[hash] = remote
	for _, tx := range remote.Block.Transactions() {
		c.txs[tx.Hash()] = &RemoteTransaction{Hash: tx.Hash(), BlockHash: &hash}
	}
}

func (c *fakeClient) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
}

func (c *fakeClient) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *fakeClient) BlockByHash(_ context.Context, hash common.Hash) (*RemoteBlock, error) {
	c.record("eth_getBlockByHash")
	return c.byHash[hash], nil
}

func (c *fakeClient) BlockByNumber(_ context.Context, number uint64) (*RemoteBlock, error) {
	c.record("eth_getBlockByNumber")
	remote, ok := c.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("block %d: %w", number, ErrRemoteNotFound)
	}
	return remote, nil
}

func (c *fakeClient) TransactionByHash(_ context.Context, hash common.Hash) (*RemoteTransaction, error) {
	c.record("eth_getTransactionByHash")
	return c.txs[hash], nil
}

func (c *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.record("eth_getTransactionReceipt")
	return c.receipts[hash], nil
}

func (c *fakeClient) FilterLogs(_ context.Context, from, to uint64, filter blockstore.FilterParams) ([]*types.Log, error) {
	c.record("eth_getLogs")
	var out []*types.Log
	for _, log := range c.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to && filter.Matches(log) {
			out = append(out, log)
		}
	}
	return out, nil
}

func (c *fakeClient) IsCacheableBlockNumber(_ context.Context, number uint64) (bool, error) {
	c.record("eth_blockNumber")
	return !c.uncacheable[number], nil
}

func remoteTestBlock(number, timestamp uint64, txs ...*types.Transaction) *types.Block {
	header := &types.Header{
		UncleHash:  types.EmptyUncleHash,
		Root:       common.HexToHash("0x01"),
		Number:     new(big.Int).SetUint64(number),
		GasLimit:   30_000_000,
		Time:       timestamp,
		Difficulty: new(big.Int),
		BaseFee:    big.NewInt(1_000_000_000),
	}
	return types.NewBlock(header, &types.Body{Transactions: txs}, nil, trie.NewStackTrie(nil))
}

func testStore(t *testing.T, client *fakeClient, forkBlock uint64, forceCaching bool) *BlockStore {
	t.Helper()
	return NewBlockStore(client, blockstore.NewEmptyAt(forkBlock), Config{
		ForkBlockNumber: forkBlock,
		ForceCaching:    forceCaching,
	})
}

func TestForkedBlockByNumberCaching(t *testing.T) {
	client := newFakeClient()
	client.addBlock(&RemoteBlock{Block: remoteTestBlock(50, 1500), TotalDifficulty: uint256.NewInt(500)})
	client.addBlock(&RemoteBlock{Block: remoteTestBlock(99, 1990), TotalDifficulty: uint256.NewInt(990)})
	client.uncacheable[99] = true

	store := testStore(t, client, 100, false)
	ctx := context.Background()

	block, err := store.BlockByNumber(ctx, 50)
	require.NoError(t, err)
	require.EqualValues(t, 50, block.NumberU64())
	require.Equal(t, 1, client.count("eth_getBlockByNumber"))
	require.NotNil(t, store.cache.BlockByNumber(50))

	_, err = store.BlockByNumber(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, 1, client.count("eth_getBlockByNumber"), "cached block refetched")

	_, err = store.BlockByNumber(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, 2, client.count("eth_getBlockByNumber"))
	require.Nil(t, store.cache.BlockByNumber(99), "uncacheable block admitted to cache")

	_, err = store.BlockByNumber(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, 3, client.count("eth_getBlockByNumber"), "uncacheable block should refetch")
}

func TestForkedForceCaching(t *testing.T) {
	client := newFakeClient()
	client.addBlock(&RemoteBlock{Block: remoteTestBlock(99, 1990), TotalDifficulty: uint256.NewInt(990)})
	client.uncacheable[99] = true

	store := testStore(t, client, 100, true)
	ctx := context.Background()

	_, err := store.BlockByNumber(ctx, 99)
	require.NoError(t, err)
	require.NotNil(t, store.cache.BlockByNumber(99))
	require.Zero(t, client.count("eth_blockNumber"), "force caching should skip the probe")

	_, err = store.BlockByNumber(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, 1, client.count("eth_getBlockByNumber"))
}

func TestForkedBlockByNumberMissingOnRemote(t *testing.T) {
	client := newFakeClient()
	store := testStore(t, client, 100, false)

	_, err := store.BlockByNumber(context.Background(), 42)
	require.ErrorIs(t, err, ErrRemoteNotFound)
}

func TestForkedBlockByNumberLocalSuffix(t *testing.T) {
	client := newFakeClient()
	anchor := remoteTestBlock(100, 2000)
	local, err := blockstore.NewWithGenesis(anchor, state.Diff{}, uint256.NewInt(990))
	require.NoError(t, err)

	store := NewBlockStore(client, local, Config{ForkBlockNumber: 100})
	require.NoError(t, local.ReserveBlocks(2, 10, nil, common.HexToHash("0xaa"), uint256.NewInt(990), params.DefaultBlockConfig))

	block, err := store.BlockByNumber(context.Background(), 101)
	require.NoError(t, err)
	require.EqualValues(t, 2010, block.Time())
	require.Zero(t, client.count("eth_getBlockByNumber"), "local lookup reached the remote")

	_, err = store.BlockByNumber(context.Background(), 200)
	require.Error(t, err)
}

func TestForkedBlockByHash(t *testing.T) {
	client := newFakeClient()
	remote := &RemoteBlock{Block: remoteTestBlock(50, 1500), TotalDifficulty: uint256.NewInt(500)}
	client.addBlock(remote)

	store := testStore(t, client, 100, false)
	ctx := context.Background()

	block, err := store.BlockByHash(ctx, remote.Block.Hash())
	require.NoError(t, err)
	require.Equal(t, remote.Block.Hash(), block.Hash())
	require.Equal(t, 1, client.count("eth_getBlockByHash"))

	_, err = store.BlockByHash(ctx, remote.Block.Hash())
	require.NoError(t, err)
	require.Equal(t, 1, client.count("eth_getBlockByHash"), "cached block refetched")

	missing, err := store.BlockByHash(ctx, common.HexToHash("0xdead"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestForkedBlockByTransactionHash(t *testing.T) {
	to := common.Address{}
	tx := types.NewTx(&types.LegacyTx{Nonce: 9, GasPrice: big.NewInt(1), Gas: 21_000, To: &to, Value: common.Big0})

	client := newFakeClient()
	client.addBlock(&RemoteBlock{Block: remoteTestBlock(50, 1500, tx), TotalDifficulty: uint256.NewInt(500)})

	store := testStore(t, client, 100, false)
	ctx := context.Background()

	block, err := store.BlockByTransactionHash(ctx, tx.Hash())
	require.NoError(t, err)
	require.EqualValues(t, 50, block.NumberU64())
	require.Equal(t, 1, client.count("eth_getTransactionByHash"))
	require.Equal(t, 1, client.count("eth_getBlockByHash"))

	// The cached block indexes its transactions, so the repeat lookup stays
	// local.
	_, err = store.BlockByTransactionHash(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, 1, client.count("eth_getTransactionByHash"))

	missing, err := store.BlockByTransactionHash(ctx, common.HexToHash("0xdead"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestForkedReceiptCaching(t *testing.T) {
	txHash := common.HexToHash("0x1234")
	receipt := &types.Receipt{
		TxHash:      txHash,
		BlockHash:   common.HexToHash("0x50"),
		BlockNumber: big.NewInt(50),
		Status:      types.ReceiptStatusSuccessful,
	}

	client := newFakeClient()
	client.receipts[txHash] = receipt

	store := testStore(t, client, 100, false)
	ctx := context.Background()

	got, err := store.ReceiptByTransactionHash(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, receipt, got)
	require.Equal(t, 1, client.count("eth_getTransactionReceipt"))

	_, err = store.ReceiptByTransactionHash(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, 1, client.count("eth_getTransactionReceipt"), "cached receipt refetched")

	missing, err := store.ReceiptByTransactionHash(ctx, common.HexToHash("0xdead"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestForkedTotalDifficulty(t *testing.T) {
	client := newFakeClient()
	withTD := &RemoteBlock{Block: remoteTestBlock(50, 1500), TotalDifficulty: uint256.NewInt(500)}
	withoutTD := &RemoteBlock{Block: remoteTestBlock(60, 1600)}
	client.addBlock(withTD)
	client.addBlock(withoutTD)

	store := testStore(t, client, 100, false)
	ctx := context.Background()

	td, err := store.TotalDifficultyByHash(ctx, withTD.Block.Hash())
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(500), td)

	// The remote dropped the field post-merge; the terminal total difficulty
	// stands in.
	td, err = store.TotalDifficultyByHash(ctx, withoutTD.Block.Hash())
	require.NoError(t, err)
	require.Equal(t, params.TerminalTotalDifficulty, td)

	fetches := client.count("eth_getBlockByHash")
	td, err = store.TotalDifficultyByHash(ctx, withTD.Block.Hash())
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(500), td)
	require.Equal(t, fetches, client.count("eth_getBlockByHash"), "cached difficulty refetched")

	missing, err := store.TotalDifficultyByHash(ctx, common.HexToHash("0xdead"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestForkedLogsSplitAtForkPoint(t *testing.T) {
	var (
		remoteAddr = common.BytesToAddress([]byte{0xaa})
		localAddr  = common.BytesToAddress([]byte{0xbb})
	)

	client := newFakeClient()
	client.logs = []*types.Log{
		{Address: remoteAddr, BlockNumber: 1},
		{Address: remoteAddr, BlockNumber: 2},
	}

	anchor := remoteTestBlock(2, 2000)
	local, err := blockstore.NewWithGenesis(anchor, state.Diff{}, uint256.NewInt(2))
	require.NoError(t, err)
	store := NewBlockStore(client, local, Config{ForkBlockNumber: 2})

	// Mine a local block with one log on top of the fork point.
	builder := blockbuilder.New(anchor.Header(), blockbuilder.Config{Block: params.DefaultBlockConfig}, 2012)
	to := common.Address{}
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21_000, To: &to, Value: common.Big0})
	require.NoError(t, builder.AddTransaction(tx, 21_000, types.ReceiptStatusSuccessful, []*types.Log{{Address: localAddr}}))
	result := builder.Finalize()
	_, err = local.InsertBlockAndReceipts(result.Block, result.Receipts, state.Diff{}, uint256.NewInt(3))
	require.NoError(t, err)

	logs, err := store.Logs(context.Background(), 0, 10, blockstore.FilterParams{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, remoteAddr, logs[0].Address)
	require.Equal(t, remoteAddr, logs[1].Address)
	require.Equal(t, localAddr, logs[2].Address)
	require.Equal(t, 1, client.count("eth_getLogs"))

	// A purely local range must not touch the remote.
	logs, err = store.Logs(context.Background(), 3, 10, blockstore.FilterParams{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 1, client.count("eth_getLogs"))

	// A purely remote range must not include local logs.
	logs, err = store.Logs(context.Background(), 0, 2, blockstore.FilterParams{Addresses: mapset.NewSet(remoteAddr, localAddr)})
	require.NoError(t, err)
	require.Len(t, logs, 2)
}
