// Package params holds the chain configuration consumed when the engine
// materializes reserved blocks or assembles new ones.
package params

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Hardfork selects the protocol rule set a block is built under.
type Hardfork int

const (
	Frontier Hardfork = iota
	Homestead
	Byzantium
	Constantinople
	Istanbul
	MuirGlacier
	Berlin
	London
	ArrowGlacier
	GrayGlacier
	Merge
	Shanghai
	Cancun
	Prague
)

var hardforkNames = [...]string{
	Frontier:       "frontier",
	Homestead:      "homestead",
	Byzantium:      "byzantium",
	Constantinople: "constantinople",
	Istanbul:       "istanbul",
	MuirGlacier:    "muirGlacier",
	Berlin:         "berlin",
	London:         "london",
	ArrowGlacier:   "arrowGlacier",
	GrayGlacier:    "grayGlacier",
	Merge:          "merge",
	Shanghai:       "shanghai",
	Cancun:         "cancun",
	Prague:         "prague",
}

func (h Hardfork) String() string {
	if h < 0 || int(h) >= len(hardforkNames) {
		return fmt.Sprintf("hardfork(%d)", int(h))
	}
	return hardforkNames[h]
}

// AtLeast reports whether h activates no earlier than other.
func (h Hardfork) AtLeast(other Hardfork) bool {
	return h >= other
}

// BaseFeeParams is the dynamic denominator/elasticity pair governing EIP-1559
// base-fee adjustment under a given hardfork.
type BaseFeeParams struct {
	ChangeDenominator    uint64
	ElasticityMultiplier uint64
}

// DefaultBaseFeeParams are the mainnet EIP-1559 parameters.
var DefaultBaseFeeParams = BaseFeeParams{
	ChangeDenominator:    8,
	ElasticityMultiplier: 2,
}

// BlockConfig bundles the per-chain knobs needed to construct an empty block
// for a reserved number.
type BlockConfig struct {
	Hardfork            Hardfork
	BaseFeeParams       BaseFeeParams
	MinEthashDifficulty uint64
}

// DefaultBlockConfig builds empty blocks under the most recent supported fork.
var DefaultBlockConfig = BlockConfig{
	Hardfork:            Cancun,
	BaseFeeParams:       DefaultBaseFeeParams,
	MinEthashDifficulty: MinimumEthashDifficulty,
}

const (
	// DefaultGasLimit is the gas limit assigned to blocks that are built
	// without a materialized parent header.
	DefaultGasLimit uint64 = 30_000_000

	// MinimumEthashDifficulty is the lowest difficulty a pre-merge empty
	// block may carry.
	MinimumEthashDifficulty uint64 = 131_072

	// InitialBaseFee is the base fee of the first London block, used when a
	// reservation carries no base-fee override.
	InitialBaseFee uint64 = 1_000_000_000

	// DefaultSafeBlockDistance is how far behind the remote head a block
	// number must be before its contents are considered reorg-safe and
	// therefore cacheable.
	DefaultSafeBlockDistance uint64 = 128
)

// TerminalTotalDifficulty is the mainnet terminal total difficulty, used as a
// fallback for remotes that no longer report per-block total difficulty.
var TerminalTotalDifficulty = uint256.MustFromDecimal("58750000000000000000000")
