package blockstore

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FilterParams selects logs by emitting address and by topic position. A nil
// or empty address set matches any address. Topics are positional: entry i
// constrains the log's topic at position i, a nil entry matches anything, and
// a filter with more entries than the log has topics matches nothing.
type FilterParams struct {
	Addresses mapset.Set[common.Address]
	Topics    []mapset.Set[common.Hash]
}

// Matches reports whether the log passes the filter.
func (p FilterParams) Matches(log *types.Log) bool {
	if p.Addresses != nil && p.Addresses.Cardinality() > 0 && !p.Addresses.Contains(log.Address) {
		return false
	}
	if len(p.Topics) > len(log.Topics) {
		return false
	}
	for i, topics := range p.Topics {
		if topics == nil {
			continue
		}
		if !topics.Contains(log.Topics[i]) {
			return false
		}
	}
	return true
}

// filterBlockLogs appends every log of the block's receipts that passes the
// filter, preserving transaction and log order.
func filterBlockLogs(dst []*types.Log, receipts []*types.Receipt, params FilterParams) []*types.Log {
	for _, receipt := range receipts {
		for _, log := range receipt.Logs {
			if params.Matches(log) {
				dst = append(dst, log)
			}
		}
	}
	return dst
}
