// Package blockstore implements the in-memory block storage layers of the
// simulator: a sparse, multi-keyed index of materialized blocks and a
// reservable wrapper that promises ranges of empty blocks without building
// them.
package blockstore

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// SparseBlockStore indexes a subset of a chain's blocks and their receipts by
// number, block hash and transaction hash. Construct it with
// NewSparseBlockStore; the zero value has nil indices and panics on insert.
//
// The store performs no locking. Both the reservable layer and the forked
// layer's remote cache wrap it in their own reader-writer lock.
type SparseBlockStore struct {
	hashToBlock           map[common.Hash]*types.Block
	hashToTotalDifficulty map[common.Hash]*uint256.Int
	hashToReceipts        map[common.Hash][]*types.Receipt
	numberToBlock         map[uint64]*types.Block
	txHashToBlock         map[common.Hash]*types.Block
	txHashToReceipt       map[common.Hash]*types.Receipt
}

// NewSparseBlockStore constructs an empty store.
func NewSparseBlockStore() *SparseBlockStore {
	return &SparseBlockStore{
		hashToBlock:           make(map[common.Hash]*types.Block),
		hashToTotalDifficulty: make(map[common.Hash]*uint256.Int),
		hashToReceipts:        make(map[common.Hash][]*types.Receipt),
		numberToBlock:         make(map[uint64]*types.Block),
		txHashToBlock:         make(map[common.Hash]*types.Block),
		txHashToReceipt:       make(map[common.Hash]*types.Receipt),
	}
}

// InsertBlock inserts the block and its total difficulty, indexing it by
// number, hash and the hashes of its transactions. It fails without side
// effects if the hash or number is already present.
func (s *SparseBlockStore) InsertBlock(block *types.Block, totalDifficulty *uint256.Int) (*types.Block, error) {
	hash := block.Hash()
	if _, ok := s.hashToBlock[hash]; ok {
		return nil, ErrDuplicateBlockHash
	}
	number := block.NumberU64()
	if _, ok := s.numberToBlock[number]; ok {
		return nil, ErrDuplicateBlockNumber
	}

	s.hashToBlock[hash] = block
	s.hashToTotalDifficulty[hash] = totalDifficulty
	s.numberToBlock[number] = block
	for _, tx := range block.Transactions() {
		s.txHashToBlock[tx.Hash()] = block
	}

	return block, nil
}

// InsertReceipts inserts the receipts, indexing each by its transaction hash
// and grouping them under their block hash. On any duplicate transaction hash
// no receipt is admitted.
func (s *SparseBlockStore) InsertReceipts(receipts []*types.Receipt) error {
	for _, receipt := range receipts {
		if _, ok := s.txHashToReceipt[receipt.TxHash]; ok {
			return ErrDuplicateReceipt
		}
	}

	for _, receipt := range receipts {
		s.txHashToReceipt[receipt.TxHash] = receipt
		s.hashToReceipts[receipt.BlockHash] = append(s.hashToReceipts[receipt.BlockHash], receipt)
	}
	return nil
}

// BlockByHash retrieves the block with the given hash, if present.
func (s *SparseBlockStore) BlockByHash(hash common.Hash) *types.Block {
	return s.hashToBlock[hash]
}

// BlockByNumber retrieves the block with the given number, if present.
func (s *SparseBlockStore) BlockByNumber(number uint64) *types.Block {
	return s.numberToBlock[number]
}

// BlockByTransactionHash retrieves the block containing the transaction with
// the given hash, if present.
func (s *SparseBlockStore) BlockByTransactionHash(txHash common.Hash) *types.Block {
	return s.txHashToBlock[txHash]
}

// ReceiptByTransactionHash retrieves the receipt of the transaction with the
// given hash, if present.
func (s *SparseBlockStore) ReceiptByTransactionHash(txHash common.Hash) *types.Receipt {
	return s.txHashToReceipt[txHash]
}

// ReceiptsByBlockHash retrieves the ordered receipts of the block with the
// given hash. The slice is nil for blocks without receipts.
func (s *SparseBlockStore) ReceiptsByBlockHash(hash common.Hash) []*types.Receipt {
	return s.hashToReceipts[hash]
}

// TotalDifficultyByHash retrieves the total difficulty of the block with the
// given hash, if present.
func (s *SparseBlockStore) TotalDifficultyByHash(hash common.Hash) *uint256.Int {
	return s.hashToTotalDifficulty[hash]
}

// ContainsBlockNumber reports whether a block with the given number is
// present.
func (s *SparseBlockStore) ContainsBlockNumber(number uint64) bool {
	_, ok := s.numberToBlock[number]
	return ok
}

// RevertToBlock removes every block with a number greater than the provided
// one, together with its receipts and index entries.
func (s *SparseBlockStore) RevertToBlock(number uint64) {
	for n, block := range s.numberToBlock {
		if n <= number {
			continue
		}

		hash := block.Hash()
		delete(s.numberToBlock, n)
		delete(s.hashToBlock, hash)
		delete(s.hashToTotalDifficulty, hash)
		for _, tx := range block.Transactions() {
			txHash := tx.Hash()
			delete(s.txHashToBlock, txHash)
			delete(s.txHashToReceipt, txHash)
		}
		delete(s.hashToReceipts, hash)
	}
}

// Logs collects the logs of every stored block in [from, to] that pass the
// filter, in ascending (block number, transaction index, log index) order.
func (s *SparseBlockStore) Logs(from, to uint64, params FilterParams) []*types.Log {
	var max uint64
	for n := range s.numberToBlock {
		if n > max {
			max = n
		}
	}
	if to > max {
		to = max
	}

	var logs []*types.Log
	for n := from; n <= to; n++ {
		if block, ok := s.numberToBlock[n]; ok {
			logs = filterBlockLogs(logs, s.hashToReceipts[block.Hash()], params)
		}
		if n == ^uint64(0) {
			break
		}
	}
	return logs
}
