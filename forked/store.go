package forked

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/simchain/go-simchain/core/blockstore"
	"github.com/simchain/go-simchain/params"
)

// Config tunes a forked block store.
type Config struct {
	// ForkBlockNumber is the remote height the simulated chain was forked at.
	// Numbers at or below it are served remotely.
	ForkBlockNumber uint64

	// ForceCaching admits every fetched block to the cache regardless of the
	// remote's cacheability verdict. Deterministic tests use this.
	ForceCaching bool
}

// BlockStore serves a chain whose prefix [0, fork] lives on a remote node and
// whose suffix lives in a local ReservableStore. Remote fetches are cached in
// a sparse store once they are reorg-safe.
type BlockStore struct {
	client RemoteClient
	local  *blockstore.ReservableStore
	config Config

	cacheMu sync.RWMutex
	cache   *blockstore.SparseBlockStore
}

// NewBlockStore combines a remote client and the local store for the suffix
// above cfg.ForkBlockNumber.
func NewBlockStore(client RemoteClient, local *blockstore.ReservableStore, config Config) *BlockStore {
	return &BlockStore{
		client: client,
		local:  local,
		config: config,
		cache:  blockstore.NewSparseBlockStore(),
	}
}

// Local exposes the store holding the simulated suffix.
func (s *BlockStore) Local() *blockstore.ReservableStore {
	return s.local
}

// BlockByNumber retrieves the block with the given number. Numbers above the
// fork point resolve locally (materializing reserved blocks on demand); the
// rest are fetched from the remote, which is authoritative for them.
func (s *BlockStore) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	if number > s.config.ForkBlockNumber {
		block, err := s.local.BlockByNumber(number)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, ethereum.NotFound
		}
		return block, nil
	}

	s.cacheMu.RLock()
	block := s.cache.BlockByNumber(number)
	s.cacheMu.RUnlock()
	if block != nil {
		return block, nil
	}

	remote, err := s.client.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	block, _, err = s.fetchAndCache(ctx, remote)
	return block, err
}

// BlockByHash retrieves the block with the given hash from the local suffix,
// the cache, or the remote, in that order. A hash unknown everywhere yields
// nil.
func (s *BlockStore) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	if block := s.local.BlockByHash(hash); block != nil {
		return block, nil
	}

	s.cacheMu.RLock()
	block := s.cache.BlockByHash(hash)
	s.cacheMu.RUnlock()
	if block != nil {
		return block, nil
	}

	remote, err := s.client.BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, nil
	}
	block, _, err = s.fetchAndCache(ctx, remote)
	return block, err
}

// BlockByTransactionHash retrieves the block containing the transaction with
// the given hash, or nil. The cache probe releases its read lock before any
// RPC is issued; the recursive hash lookup re-checks the cache afterwards.
func (s *BlockStore) BlockByTransactionHash(ctx context.Context, txHash common.Hash) (*types.Block, error) {
	if block := s.local.BlockByTransactionHash(txHash); block != nil {
		return block, nil
	}

	s.cacheMu.RLock()
	block := s.cache.BlockByTransactionHash(txHash)
	s.cacheMu.RUnlock()
	if block != nil {
		return block, nil
	}

	tx, err := s.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}
	if tx.BlockHash == nil {
		return nil, fmt.Errorf("transaction %s is still pending on the remote", txHash)
	}

	return s.BlockByHash(ctx, *tx.BlockHash)
}

// ReceiptByTransactionHash retrieves the receipt of the transaction with the
// given hash, or nil. Remote receipts are always admitted to the cache; their
// contents cannot change once the containing block is fetched.
func (s *BlockStore) ReceiptByTransactionHash(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if receipt := s.local.ReceiptByTransactionHash(txHash); receipt != nil {
		return receipt, nil
	}

	s.cacheMu.RLock()
	receipt := s.cache.ReceiptByTransactionHash(txHash)
	s.cacheMu.RUnlock()
	if receipt != nil {
		return receipt, nil
	}

	receipt, err := s.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if cached := s.cache.ReceiptByTransactionHash(txHash); cached != nil {
		// A concurrent caller admitted it while the lock was dropped.
		return cached, nil
	}
	if err := s.cache.InsertReceipts([]*types.Receipt{receipt}); err != nil {
		log.Crit("Receipt cache admission failed after re-check", "tx", txHash, "err", err)
	}
	return receipt, nil
}

// TotalDifficultyByHash retrieves the total difficulty of the block with the
// given hash, or nil if the hash is unknown. Remotes that omit the field fall
// back to the mainnet terminal total difficulty.
func (s *BlockStore) TotalDifficultyByHash(ctx context.Context, hash common.Hash) (*uint256.Int, error) {
	if td := s.local.TotalDifficultyByHash(hash); td != nil {
		return td, nil
	}

	s.cacheMu.RLock()
	td := s.cache.TotalDifficultyByHash(hash)
	s.cacheMu.RUnlock()
	if td != nil {
		return td, nil
	}

	remote, err := s.client.BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, nil
	}
	_, td, err = s.fetchAndCache(ctx, remote)
	return td, err
}

// Logs collects the logs in [from, to] passing the filter, splitting the
// range at the fork point: the remote filters its prefix, the local store its
// suffix.
func (s *BlockStore) Logs(ctx context.Context, from, to uint64, filter blockstore.FilterParams) ([]*types.Log, error) {
	if from > to {
		return nil, nil
	}

	var logs []*types.Log
	if from <= s.config.ForkBlockNumber {
		remoteTo := to
		if remoteTo > s.config.ForkBlockNumber {
			remoteTo = s.config.ForkBlockNumber
		}
		remoteLogs, err := s.client.FilterLogs(ctx, from, remoteTo, filter)
		if err != nil {
			return nil, err
		}
		logs = remoteLogs
	}

	if to > s.config.ForkBlockNumber {
		localFrom := from
		if localFrom <= s.config.ForkBlockNumber {
			localFrom = s.config.ForkBlockNumber + 1
		}
		logs = append(logs, s.local.Logs(localFrom, to, filter)...)
	}

	return logs, nil
}

// fetchAndCache converts a fetched remote block, derives its total
// difficulty, and admits it to the cache when the remote deems its number
// reorg-safe. Uncacheable blocks are returned standalone.
func (s *BlockStore) fetchAndCache(ctx context.Context, remote *RemoteBlock) (*types.Block, *uint256.Int, error) {
	totalDifficulty := remote.TotalDifficulty
	if totalDifficulty == nil {
		// Remotes stopped reporting total difficulty after the merge; every
		// post-merge block shares the terminal value.
		totalDifficulty = params.TerminalTotalDifficulty
	}

	block := remote.Block
	cacheable := s.config.ForceCaching
	if !cacheable {
		var err error
		cacheable, err = s.client.IsCacheableBlockNumber(ctx, block.NumberU64())
		if err != nil {
			return nil, nil, err
		}
	}
	if !cacheable {
		return block, totalDifficulty, nil
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if cached := s.cache.BlockByHash(block.Hash()); cached != nil {
		// A concurrent caller fetched and admitted the same block while the
		// read lock was dropped.
		return cached, s.cache.TotalDifficultyByHash(block.Hash()), nil
	}
	inserted, err := s.cache.InsertBlock(block, totalDifficulty)
	if err != nil {
		log.Crit("Block cache admission failed after re-check", "hash", block.Hash(), "err", err)
	}
	return inserted, totalDifficulty, nil
}
