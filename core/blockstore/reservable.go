package blockstore

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/simchain/go-simchain/core/state"
	"github.com/simchain/go-simchain/params"
)

// reservation is a promise that the blocks in [firstNumber, lastNumber] exist
// as empty blocks, without having built them. Reservations are small by-value
// types; splitting copies them.
type reservation struct {
	firstNumber             uint64
	lastNumber              uint64
	interval                uint64
	previousBaseFee         *big.Int
	previousStateRoot       common.Hash
	previousTotalDifficulty *uint256.Int
	previousDiffIndex       int
	config                  params.BlockConfig
}

// ReservableStore stores a subset of the chain's blocks in memory while
// lazily building blocks that have only been reserved. It keeps three
// parallel structures in lock step: the sparse block store, the reservation
// list, and the contiguous state-diff sequence.
//
// Lock order is fixed: mu before resMu before storageMu. Materialization
// takes all three, mu to record the materialized number's diff index.
type ReservableStore struct {
	// mu protects stateDiffs, numberToDiffIndex and lastBlockNumber.
	mu sync.RWMutex

	resMu        sync.RWMutex
	reservations []*reservation

	storageMu sync.RWMutex
	storage   *SparseBlockStore

	// State diffs are stored contiguously, as reservations carry no diffs.
	// A diff maps one state to the next, so entry 0 holds the genesis state.
	stateDiffs        []state.Diff
	numberToDiffIndex map[uint64]int
	lastBlockNumber   uint64
}

// NewWithGenesis constructs a store holding the provided genesis block, its
// state diff and its total difficulty. A forked chain passes its fork-point
// block here instead of block 0; it anchors the suffix the same way genesis
// anchors a fresh chain.
func NewWithGenesis(genesis *types.Block, diff state.Diff, totalDifficulty *uint256.Int) (*ReservableStore, error) {
	storage := NewSparseBlockStore()
	if _, err := storage.InsertBlock(genesis, totalDifficulty); err != nil {
		return nil, err
	}

	return &ReservableStore{
		storage:           storage,
		stateDiffs:        []state.Diff{diff},
		numberToDiffIndex: map[uint64]int{genesis.NumberU64(): 0},
		lastBlockNumber:   genesis.NumberU64(),
	}, nil
}

// NewEmptyAt constructs a store with no blocks whose head sits at the given
// number. The forked layer uses this for the local suffix above the fork
// point; blocks below it live remotely.
func NewEmptyAt(lastBlockNumber uint64) *ReservableStore {
	return &ReservableStore{
		storage:           NewSparseBlockStore(),
		numberToDiffIndex: make(map[uint64]int),
		lastBlockNumber:   lastBlockNumber,
	}
}

// LastBlockNumber retrieves the number of the chain head, reserved or
// materialized.
func (s *ReservableStore) LastBlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBlockNumber
}

// ReserveBlocks promises that count empty blocks follow the current head,
// spaced interval seconds apart, without building them. The header overrides
// and block configuration are remembered for the eventual materialization.
func (s *ReservableStore) ReserveBlocks(
	count uint64,
	interval uint64,
	previousBaseFee *big.Int,
	previousStateRoot common.Hash,
	previousTotalDifficulty *uint256.Int,
	config params.BlockConfig,
) error {
	if count == 0 {
		return ErrZeroReservation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resMu.Lock()
	defer s.resMu.Unlock()

	s.reservations = append(s.reservations, &reservation{
		firstNumber:             s.lastBlockNumber + 1,
		lastNumber:              s.lastBlockNumber + count,
		interval:                interval,
		previousBaseFee:         previousBaseFee,
		previousStateRoot:       previousStateRoot,
		previousTotalDifficulty: previousTotalDifficulty,
		previousDiffIndex:       len(s.stateDiffs) - 1,
		config:                  config,
	})
	s.lastBlockNumber += count

	return nil
}

// InsertBlockAndReceipts appends a mined block, its receipts and the state
// diff of its execution. A reservation still covering the block's number is
// consumed the same way materialization consumes it, with the mined block
// taking the number's place. Preconditions are verified before any structure
// is touched, so a failed insert leaves the store unchanged.
func (s *ReservableStore) InsertBlockAndReceipts(
	block *types.Block,
	receipts []*types.Receipt,
	diff state.Diff,
	totalDifficulty *uint256.Int,
) (*types.Block, error) {
	number := block.NumberU64()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resMu.Lock()
	defer s.resMu.Unlock()
	s.storageMu.Lock()
	defer s.storageMu.Unlock()

	if s.storage.ContainsBlockNumber(number) {
		return nil, ErrDuplicateBlockNumber
	}
	if s.storage.BlockByHash(block.Hash()) != nil {
		return nil, ErrDuplicateBlockHash
	}
	if err := s.storage.InsertReceipts(receipts); err != nil {
		return nil, err
	}

	s.consumeReservation(number)
	inserted, err := s.storage.InsertBlock(block, totalDifficulty)
	if err != nil {
		// The hash and number were checked above; receipts are the only
		// admitted state and share the block's transaction hashes.
		log.Crit("Block insertion failed after precondition checks", "number", number, "err", err)
	}

	s.lastBlockNumber = number
	s.numberToDiffIndex[number] = len(s.stateDiffs)
	s.stateDiffs = append(s.stateDiffs, diff)

	return inserted, nil
}

// BlockByNumber retrieves the block with the given number. A reserved number
// is materialized on demand; an unknown number yields nil. An error signals
// either an insertion race with a concurrent writer of the same number, which
// the caller may resolve by retrying, or ErrInvariantViolation when no
// materialized predecessor anchors the reserved block's timestamp.
func (s *ReservableStore) BlockByNumber(number uint64) (*types.Block, error) {
	block, err := s.tryFulfillingReservation(number)
	if err != nil {
		return nil, err
	}
	if block != nil {
		return block, nil
	}

	s.storageMu.RLock()
	defer s.storageMu.RUnlock()
	return s.storage.BlockByNumber(number), nil
}

// BlockByHash retrieves the block with the given hash, if it exists.
func (s *ReservableStore) BlockByHash(hash common.Hash) *types.Block {
	s.storageMu.RLock()
	defer s.storageMu.RUnlock()
	return s.storage.BlockByHash(hash)
}

// BlockByTransactionHash retrieves the block containing the transaction with
// the given hash, if it exists.
func (s *ReservableStore) BlockByTransactionHash(txHash common.Hash) *types.Block {
	s.storageMu.RLock()
	defer s.storageMu.RUnlock()
	return s.storage.BlockByTransactionHash(txHash)
}

// ReceiptByTransactionHash retrieves the receipt of the transaction with the
// given hash, if it exists.
func (s *ReservableStore) ReceiptByTransactionHash(txHash common.Hash) *types.Receipt {
	s.storageMu.RLock()
	defer s.storageMu.RUnlock()
	return s.storage.ReceiptByTransactionHash(txHash)
}

// TotalDifficultyByHash retrieves the total difficulty of the block with the
// given hash, if it exists.
func (s *ReservableStore) TotalDifficultyByHash(hash common.Hash) *uint256.Int {
	s.storageMu.RLock()
	defer s.storageMu.RUnlock()
	return s.storage.TotalDifficultyByHash(hash)
}

// ContainsBlockNumber reports whether a materialized block with the given
// number exists.
func (s *ReservableStore) ContainsBlockNumber(number uint64) bool {
	s.storageMu.RLock()
	defer s.storageMu.RUnlock()
	return s.storage.ContainsBlockNumber(number)
}

// StateDiffsUntilBlock retrieves the diff sequence from genesis up to and
// including the block with the given number, or nil if the number is beyond
// the head. For a reserved number the sequence ends at the last diff recorded
// before its reservation. The slice aliases internal storage and is valid
// only until the next revert.
func (s *ReservableStore) StateDiffsUntilBlock(number uint64) []state.Diff {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diffIndex, ok := s.numberToDiffIndex[number]
	if !ok {
		s.resMu.RLock()
		res := findReservation(s.reservations, number)
		s.resMu.RUnlock()
		if res == nil {
			return nil
		}
		diffIndex = res.previousDiffIndex
	}

	return s.stateDiffs[:diffIndex+1]
}

// Logs collects the logs of every materialized block in [from, to] that pass
// the filter. Reserved blocks are empty and contribute nothing.
func (s *ReservableStore) Logs(from, to uint64, filter FilterParams) []*types.Log {
	s.storageMu.RLock()
	defer s.storageMu.RUnlock()
	return s.storage.Logs(from, to, filter)
}

// RevertToBlock rolls the chain head back to the given number, deleting every
// later block, truncating reservations that straddle the target and dropping
// the diffs of deleted blocks. It reports false if the target is beyond the
// head. The returned error signals a broken internal invariant and is fatal;
// no structure has been modified when it is returned.
func (s *ReservableStore) RevertToBlock(number uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number > s.lastBlockNumber {
		return false, nil
	}

	s.resMu.Lock()
	defer s.resMu.Unlock()
	s.storageMu.Lock()
	defer s.storageMu.Unlock()

	if number == 0 {
		// Reservations and diffs only exist after genesis; drop them all but
		// keep the genesis diff and its mapping.
		s.lastBlockNumber = 0
		s.storage.RevertToBlock(0)
		s.reservations = nil
		s.stateDiffs = s.stateDiffs[:1]
		s.numberToDiffIndex = map[uint64]int{0: 0}
		return true, nil
	}

	// Retain reservations below the target and truncate the one straddling
	// it, into a scratch slice so a failed invariant leaves the store intact.
	retained := make([]*reservation, 0, len(s.reservations))
	for _, res := range s.reservations {
		switch {
		case res.lastNumber <= number:
			retained = append(retained, res)
		case res.firstNumber <= number:
			truncated := *res
			truncated.lastNumber = number
			retained = append(retained, &truncated)
		}
	}

	diffIndex, ok := s.numberToDiffIndex[number]
	if !ok {
		res := findReservation(retained, number)
		if res == nil {
			return false, ErrInvariantViolation
		}
		diffIndex = res.previousDiffIndex
	}

	s.lastBlockNumber = number
	s.storage.RevertToBlock(number)
	s.reservations = retained
	s.stateDiffs = s.stateDiffs[:diffIndex+1]
	for n := range s.numberToDiffIndex {
		if n > number {
			delete(s.numberToDiffIndex, n)
		}
	}

	return true, nil
}

// tryFulfillingReservation materializes the block with the given number if a
// reservation covers it. It returns nil without error when no reservation
// does, which includes losing the materialization race to another caller; the
// sparse store then already holds (or is about to hold) the block.
func (s *ReservableStore) tryFulfillingReservation(number uint64) (*types.Block, error) {
	s.resMu.RLock()
	covered := findReservation(s.reservations, number) != nil
	s.resMu.RUnlock()
	if !covered {
		return nil, nil
	}

	// Re-check under the write lock; the reservation may have been consumed
	// between the two acquisitions.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resMu.Lock()
	defer s.resMu.Unlock()

	res := s.consumeReservation(number)
	if res == nil {
		return nil, nil
	}

	s.storageMu.Lock()
	defer s.storageMu.Unlock()

	timestamp, err := reservedBlockTimestamp(s.storage, s.reservations, res, number)
	if err != nil {
		return nil, err
	}

	block := newReservedBlock(res, number, timestamp)
	inserted, err := s.storage.InsertBlock(block, res.previousTotalDifficulty)
	if err != nil {
		return nil, err
	}
	// A materialized block adds no diff; its state is the one its
	// reservation was made on.
	s.numberToDiffIndex[number] = res.previousDiffIndex
	return inserted, nil
}

// reservedBlockTimestamp resolves the timestamp of a reserved block: the
// timestamp of the closest materialized predecessor plus the accumulated
// intervals of every reservation between the two. The walk strictly
// decreases the block number and genesis is always materialized, so it
// terminates.
func reservedBlockTimestamp(
	storage *SparseBlockStore,
	reservations []*reservation,
	res *reservation,
	number uint64,
) (uint64, error) {
	var offset uint64
	for {
		offset += res.interval * (number - res.firstNumber + 1)

		previous := res.firstNumber - 1
		if prevRes := findReservation(reservations, previous); prevRes != nil {
			res, number = prevRes, previous
			continue
		}

		block := storage.BlockByNumber(previous)
		if block == nil {
			return 0, ErrInvariantViolation
		}
		return block.Time() + offset, nil
	}
}

// newReservedBlock builds the empty block for a reserved number. Every header
// field except the number and timestamp derives from the reservation alone,
// so all blocks of one reservation share their remaining header contents.
func newReservedBlock(res *reservation, number uint64, timestamp uint64) *types.Block {
	hardfork := res.config.Hardfork

	header := &types.Header{
		UncleHash:  types.EmptyUncleHash,
		Root:       res.previousStateRoot,
		Number:     new(big.Int).SetUint64(number),
		GasLimit:   params.DefaultGasLimit,
		Time:       timestamp,
		Difficulty: new(big.Int).SetUint64(res.config.MinEthashDifficulty),
	}
	if hardfork.AtLeast(params.Merge) {
		header.Difficulty = new(big.Int)
	}
	if hardfork.AtLeast(params.London) {
		if res.previousBaseFee != nil {
			header.BaseFee = new(big.Int).Set(res.previousBaseFee)
		} else {
			header.BaseFee = new(big.Int).SetUint64(params.InitialBaseFee)
		}
	}

	body := &types.Body{}
	if hardfork.AtLeast(params.Shanghai) {
		body.Withdrawals = types.Withdrawals{}
	}
	if hardfork.AtLeast(params.Cancun) {
		var blobGasUsed, excessBlobGas uint64
		header.BlobGasUsed = &blobGasUsed
		header.ExcessBlobGas = &excessBlobGas
		header.ParentBeaconRoot = &common.Hash{}
	}

	return types.NewBlock(header, body, nil, trie.NewStackTrie(nil))
}

// consumeReservation removes number from the reservation covering it,
// replacing the reservation with up to two residuals that inherit every
// other field. It returns the consumed reservation, or nil when none covers
// the number. The caller must hold resMu for writing.
func (s *ReservableStore) consumeReservation(number uint64) *reservation {
	idx := -1
	for i, res := range s.reservations {
		if res.firstNumber <= number && number <= res.lastNumber {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	res := s.reservations[idx]
	s.reservations = append(s.reservations[:idx], s.reservations[idx+1:]...)
	if number != res.firstNumber {
		head := *res
		head.lastNumber = number - 1
		s.reservations = append(s.reservations, &head)
	}
	if number != res.lastNumber {
		tail := *res
		tail.firstNumber = number + 1
		s.reservations = append(s.reservations, &tail)
	}
	return res
}

func findReservation(reservations []*reservation, number uint64) *reservation {
	for _, res := range reservations {
		if res.firstNumber <= number && number <= res.lastNumber {
			return res
		}
	}
	return nil
}
