// Package forked projects a single blockchain whose prefix lives on a remote
// node and whose suffix is simulated locally. Remote results are cached to
// amortize RPC cost.
package forked

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/simchain/go-simchain/core/blockstore"
)

// ErrRemoteNotFound is returned when the remote is missing a resource it is
// authoritative for.
var ErrRemoteNotFound = errors.New("resource not found on remote node")

// RemoteBlock is a block fetched from the remote, with transaction data and
// the remote's view of its total difficulty. TotalDifficulty is nil when the
// remote no longer reports the field.
type RemoteBlock struct {
	Block           *types.Block
	TotalDifficulty *uint256.Int
}

// RemoteTransaction locates a remote transaction. BlockHash is nil while the
// transaction is pending.
type RemoteTransaction struct {
	Hash      common.Hash
	BlockHash *common.Hash
}

// RemoteClient is the capability the forked layer requires from the remote
// node. Implementations are safe for concurrent use and honor context
// cancellation; lookups signal absence with a nil result, not an error,
// except BlockByNumber, where the remote is authoritative for every number
// up to its head.
type RemoteClient interface {
	// BlockByHash retrieves the block with its transaction data, or nil.
	BlockByHash(ctx context.Context, hash common.Hash) (*RemoteBlock, error)

	// BlockByNumber retrieves the block with its transaction data. A missing
	// block is an error.
	BlockByNumber(ctx context.Context, number uint64) (*RemoteBlock, error)

	// TransactionByHash locates the transaction, or nil.
	TransactionByHash(ctx context.Context, hash common.Hash) (*RemoteTransaction, error)

	// TransactionReceipt retrieves the transaction's receipt, or nil.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// FilterLogs runs the filter remotely over [from, to].
	FilterLogs(ctx context.Context, from, to uint64, filter blockstore.FilterParams) ([]*types.Log, error)

	// IsCacheableBlockNumber reports whether the block number is far enough
	// behind the remote head that its contents can no longer reorg.
	IsCacheableBlockNumber(ctx context.Context, number uint64) (bool, error)
}
