// Package state models the account-level changes produced by executing one
// block's transactions. The engine stores these diffs alongside blocks; it
// never interprets them beyond ordering and truncation.
package state

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountChange describes how a single account changed within one block.
// A nil field means the corresponding attribute was left untouched.
type AccountChange struct {
	Balance *uint256.Int
	Nonce   *uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// Diff maps each touched address to its change within one block.
type Diff map[common.Address]AccountChange

// Copy returns a deep copy of the diff.
func (d Diff) Copy() Diff {
	out := make(Diff, len(d))
	for addr, change := range d {
		out[addr] = change.copy()
	}
	return out
}

func (c AccountChange) copy() AccountChange {
	cp := AccountChange{}
	if c.Balance != nil {
		cp.Balance = new(uint256.Int).Set(c.Balance)
	}
	if c.Nonce != nil {
		nonce := *c.Nonce
		cp.Nonce = &nonce
	}
	if c.Code != nil {
		cp.Code = append([]byte(nil), c.Code...)
	}
	if c.Storage != nil {
		cp.Storage = maps.Clone(c.Storage)
	}
	return cp
}

// Merge folds other into d, later writes winning. Consumers use this to
// collapse a diff sequence into the cumulative state of a block.
func (d Diff) Merge(other Diff) {
	for addr, change := range other {
		merged, ok := d[addr]
		if !ok {
			d[addr] = change.copy()
			continue
		}
		if change.Balance != nil {
			merged.Balance = new(uint256.Int).Set(change.Balance)
		}
		if change.Nonce != nil {
			nonce := *change.Nonce
			merged.Nonce = &nonce
		}
		if change.Code != nil {
			merged.Code = append([]byte(nil), change.Code...)
		}
		if change.Storage != nil {
			if merged.Storage == nil {
				merged.Storage = make(map[common.Hash]common.Hash, len(change.Storage))
			}
			maps.Copy(merged.Storage, change.Storage)
		}
		d[addr] = merged
	}
}
