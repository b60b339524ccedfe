package params

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// CalcBaseFee computes the base fee of the block following parent under the
// provided EIP-1559 parameters. The parent is the last block built before the
// London boundary when its header carries no base fee; in that case the
// initial base fee is returned.
func CalcBaseFee(config BlockConfig, parent *types.Header) *big.Int {
	if !config.Hardfork.AtLeast(London) {
		return nil
	}
	// The first London block inherits the protocol's initial base fee.
	if parent.BaseFee == nil {
		return new(big.Int).SetUint64(InitialBaseFee)
	}

	var (
		parentGasTarget = parent.GasLimit / config.BaseFeeParams.ElasticityMultiplier
		denominator     = new(big.Int).SetUint64(config.BaseFeeParams.ChangeDenominator)
	)
	if parent.GasUsed == parentGasTarget {
		return new(big.Int).Set(parent.BaseFee)
	}

	if parent.GasUsed > parentGasTarget {
		// Block was fuller than the target, base fee rises by at least one wei.
		gasUsedDelta := new(big.Int).SetUint64(parent.GasUsed - parentGasTarget)
		x := new(big.Int).Mul(parent.BaseFee, gasUsedDelta)
		y := x.Div(x, new(big.Int).SetUint64(parentGasTarget))
		baseFeeDelta := x.Div(y, denominator)
		if baseFeeDelta.Sign() == 0 {
			baseFeeDelta.SetUint64(1)
		}

		return new(big.Int).Add(parent.BaseFee, baseFeeDelta)
	}

	// Block was emptier than the target, base fee falls, clamped at zero.
	gasUsedDelta := new(big.Int).SetUint64(parentGasTarget - parent.GasUsed)
	x := new(big.Int).Mul(parent.BaseFee, gasUsedDelta)
	y := x.Div(x, new(big.Int).SetUint64(parentGasTarget))
	baseFeeDelta := x.Div(y, denominator)

	baseFee := new(big.Int).Sub(parent.BaseFee, baseFeeDelta)
	if baseFee.Sign() < 0 {
		baseFee.SetUint64(0)
	}
	return baseFee
}
