package blockstore

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/simchain/go-simchain/core/blockbuilder"
	"github.com/simchain/go-simchain/core/state"
	"github.com/simchain/go-simchain/params"
)

// testChain mints blocks for tests, keeping transaction nonces unique so
// every block and transaction hash is distinct.
type testChain struct {
	config params.BlockConfig
	nonce  uint64
}

func newTestChain() *testChain {
	return &testChain{config: params.DefaultBlockConfig}
}

func (c *testChain) genesis(timestamp uint64) *types.Block {
	return blockbuilder.GenesisBlock(c.config, timestamp, common.HexToHash("0xaa"), 0)
}

// mine builds a sealed child of parent with one transaction per address, each
// emitting a single log from that address.
func (c *testChain) mine(parent *types.Block, logAddrs ...common.Address) (*types.Block, []*types.Receipt) {
	builder := blockbuilder.New(parent.Header(), blockbuilder.Config{Block: c.config}, parent.Time()+12)
	for _, addr := range logAddrs {
		to := common.Address{}
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    c.nonce,
			GasPrice: big.NewInt(1_000_000_000),
			Gas:      21_000,
			To:       &to,
			Value:    common.Big0,
		})
		c.nonce++

		logs := []*types.Log{{
			Address: addr,
			Topics:  []common.Hash{common.BytesToHash(addr.Bytes())},
		}}
		if err := builder.AddTransaction(tx, 21_000, types.ReceiptStatusSuccessful, logs); err != nil {
			panic(err)
		}
	}
	result := builder.Finalize()
	return result.Block, result.Receipts
}

func testDiff(addr byte, balance uint64) state.Diff {
	return state.Diff{
		common.BytesToAddress([]byte{addr}): {Balance: uint256.NewInt(balance)},
	}
}
