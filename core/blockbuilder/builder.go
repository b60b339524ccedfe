// Package blockbuilder assembles finalized blocks from pre-executed
// transaction results. Execution itself happens elsewhere; the builder owns
// header preparation, receipt derivation and sealing, producing blocks ready
// for insertion into the storage engine.
package blockbuilder

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/simchain/go-simchain/params"
)

// ErrBlockGasExceeded is returned when an added transaction does not fit the
// block's remaining gas.
var ErrBlockGasExceeded = errors.New("transaction exceeds remaining block gas")

// Config tunes a single block build.
type Config struct {
	Block    params.BlockConfig
	Coinbase common.Address
	// GasLimit overrides the parent's gas limit when non-zero.
	GasLimit uint64
	Extra    []byte
}

// Result is a sealed block together with its receipts, with all location
// fields (block hash and number, transaction and log indices) resolved.
type Result struct {
	Block    *types.Block
	Receipts []*types.Receipt
}

// Builder accumulates executed transactions into a block under construction.
type Builder struct {
	config   Config
	header   *types.Header
	gasLimit uint64
	gasUsed  uint64

	txs      []*types.Transaction
	receipts []*types.Receipt

	withdrawals types.Withdrawals
}

// New starts a block build on top of the parent header. The timestamp is
// bumped to parent.Time+1 if it does not advance the chain clock.
func New(parent *types.Header, config Config, timestamp uint64) *Builder {
	if timestamp <= parent.Time {
		timestamp = parent.Time + 1
	}
	gasLimit := config.GasLimit
	if gasLimit == 0 {
		gasLimit = parent.GasLimit
	}

	header := &types.Header{
		ParentHash: parent.Hash(),
		Coinbase:   config.Coinbase,
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		GasLimit:   gasLimit,
		Time:       timestamp,
		Extra:      config.Extra,
		BaseFee:    params.CalcBaseFee(config.Block, parent),
		Difficulty: new(big.Int).SetUint64(config.Block.MinEthashDifficulty),
	}

	hardfork := config.Block.Hardfork
	if hardfork.AtLeast(params.Merge) {
		header.Difficulty = new(big.Int)
	}

	builder := &Builder{
		config:   config,
		header:   header,
		gasLimit: gasLimit,
	}
	if hardfork.AtLeast(params.Shanghai) {
		builder.withdrawals = types.Withdrawals{}
	}
	if hardfork.AtLeast(params.Cancun) {
		var blobGasUsed, excessBlobGas uint64
		header.BlobGasUsed = &blobGasUsed
		header.ExcessBlobGas = &excessBlobGas
		header.ParentBeaconRoot = &common.Hash{}
	}

	return builder
}

// Header exposes the header under construction, e.g. to feed the executor
// with the block environment.
func (b *Builder) Header() *types.Header {
	return b.header
}

// AddTransaction appends an executed transaction and its outcome. The
// receipt's cumulative gas is derived here; its transaction index and
// location fields are resolved at Finalize, once the block hash is known.
func (b *Builder) AddTransaction(tx *types.Transaction, gasUsed uint64, status uint64, logs []*types.Log) error {
	if b.gasUsed+gasUsed > b.gasLimit {
		return ErrBlockGasExceeded
	}
	b.gasUsed += gasUsed

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: b.gasUsed,
		TxHash:            tx.Hash(),
		GasUsed:           gasUsed,
		Logs:              logs,
	}

	b.txs = append(b.txs, tx)
	b.receipts = append(b.receipts, receipt)
	return nil
}

// Finalize seals the block and resolves every receipt and log location
// field. The builder must not be reused afterwards.
func (b *Builder) Finalize() *Result {
	b.header.GasUsed = b.gasUsed

	block := types.NewBlock(b.header, &types.Body{
		Transactions: b.txs,
		Withdrawals:  b.withdrawals,
	}, b.receipts, trie.NewStackTrie(nil))

	hash := block.Hash()
	number := block.NumberU64()

	logIndex := uint(0)
	for i, receipt := range b.receipts {
		receipt.BlockHash = hash
		receipt.BlockNumber = new(big.Int).SetUint64(number)
		receipt.TransactionIndex = uint(i)
		for _, log := range receipt.Logs {
			log.BlockHash = hash
			log.BlockNumber = number
			log.TxHash = receipt.TxHash
			log.TxIndex = uint(i)
			log.Index = logIndex
			logIndex++
		}
	}

	return &Result{Block: block, Receipts: b.receipts}
}

// GenesisBlock builds the block-0 a fresh simulated chain starts from.
func GenesisBlock(config params.BlockConfig, timestamp uint64, stateRoot common.Hash, gasLimit uint64) *types.Block {
	if gasLimit == 0 {
		gasLimit = params.DefaultGasLimit
	}

	header := &types.Header{
		UncleHash:  types.EmptyUncleHash,
		Root:       stateRoot,
		Number:     new(big.Int),
		GasLimit:   gasLimit,
		Time:       timestamp,
		Difficulty: new(big.Int).SetUint64(config.MinEthashDifficulty),
	}
	if config.Hardfork.AtLeast(params.Merge) {
		header.Difficulty = new(big.Int)
	}
	if config.Hardfork.AtLeast(params.London) {
		header.BaseFee = new(big.Int).SetUint64(params.InitialBaseFee)
	}

	body := &types.Body{}
	if config.Hardfork.AtLeast(params.Shanghai) {
		body.Withdrawals = types.Withdrawals{}
	}
	if config.Hardfork.AtLeast(params.Cancun) {
		var blobGasUsed, excessBlobGas uint64
		header.BlobGasUsed = &blobGasUsed
		header.ExcessBlobGas = &excessBlobGas
		header.ParentBeaconRoot = &common.Hash{}
	}

	return types.NewBlock(header, body, nil, trie.NewStackTrie(nil))
}
