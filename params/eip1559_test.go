package params

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
)

func TestCalcBaseFee(t *testing.T) {
	tests := []struct {
		parentBaseFee  int64
		parentGasLimit uint64
		parentGasUsed  uint64
		want           int64
	}{
		// Usage exactly on target, base fee unchanged
		{1000000000, 20000000, 10000000, 1000000000},
		// Below target, base fee falls
		{1000000000, 20000000, 9000000, 987500000},
		// Empty parent, maximal decrease
		{1000000000, 20000000, 0, 875000000},
		// Above target, base fee rises
		{1000000000, 20000000, 11000000, 1012500000},
		// Full parent, maximal increase
		{1000000000, 20000000, 20000000, 1125000000},
	}

	for i, tt := range tests {
		parent := &types.Header{
			Number:   big.NewInt(32),
			GasLimit: tt.parentGasLimit,
			GasUsed:  tt.parentGasUsed,
			BaseFee:  big.NewInt(tt.parentBaseFee),
		}
		got := CalcBaseFee(DefaultBlockConfig, parent)
		if got.Cmp(big.NewInt(tt.want)) != 0 {
			t.Errorf("test %d: CalcBaseFee(%d, %d/%d) = %v; want %d",
				i, tt.parentBaseFee, tt.parentGasUsed, tt.parentGasLimit, got, tt.want)
		}
	}
}

func TestCalcBaseFeePreLondon(t *testing.T) {
	config := DefaultBlockConfig
	config.Hardfork = Berlin

	parent := &types.Header{Number: big.NewInt(1), GasLimit: 8000000, GasUsed: 8000000}
	if got := CalcBaseFee(config, parent); got != nil {
		t.Errorf("CalcBaseFee pre-London = %v; want nil", got)
	}
}

func TestCalcBaseFeeLondonBoundary(t *testing.T) {
	parent := &types.Header{Number: big.NewInt(12964999), GasLimit: 30000000, GasUsed: 30000000}
	got := CalcBaseFee(DefaultBlockConfig, parent)
	if got.Uint64() != InitialBaseFee {
		t.Errorf("CalcBaseFee at London boundary = %v; want %d", got, InitialBaseFee)
	}
}

func TestHardforkOrdering(t *testing.T) {
	if !Cancun.AtLeast(London) {
		t.Error("cancun should activate after london")
	}
	if Berlin.AtLeast(Merge) {
		t.Error("berlin should not activate after the merge")
	}
	if got := Shanghai.String(); got != "shanghai" {
		t.Errorf("Shanghai.String() = %q; want %q", got, "shanghai")
	}
}
