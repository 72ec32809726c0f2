package split

import (
	prorata "github.com/prorata-io/prorata"
	"github.com/prorata-io/prorata/errors"
)

// Asset is an opaque identifier of a fungible resource type. Each asset is
// accounted for independently, balances of different assets are never
// mixed.
type Asset string

// NativeAsset is the conventional identifier for the environment's native
// balance.
const NativeAsset Asset = "native"

// weightTotal is the exact sum every share table must add up to. Shares are
// expressed in percent of the lifetime inflow.
const weightTotal = 100

// Member is a single entry of a ledger share table.
type Member struct {
	Address prorata.Address
	Share   uint32
}

// validateMembers returns an error if given member and share sequences
// cannot form a valid share table. The proportion sum is computed over the
// raw input, with duplicated addresses counted every time they appear.
func validateMembers(members []prorata.Address, shares []uint32) error {
	switch {
	case len(members) == 0:
		return errors.Wrap(ErrEmptyTeam, "no members")
	case len(members) != len(shares):
		return errors.Wrapf(ErrLengthMismatch, "%d members, %d shares", len(members), len(shares))
	}

	var sum uint64
	for i, m := range members {
		if m.IsZero() {
			return errors.Wrapf(ErrInvalidAddress, "member %d", i)
		}
		sum += uint64(shares[i])
	}
	if sum != weightTotal {
		return errors.Wrapf(ErrBadProportion, "shares sum to %d", sum)
	}
	return nil
}

// newShareTable builds the share lookup table and the member registration
// order. A repeated address overwrites its previous share. A zero share is
// registered but keeps the identity ineligible to withdraw.
func newShareTable(members []prorata.Address, shares []uint32) ([]prorata.Address, map[string]uint32) {
	table := make(map[string]uint32, len(members))
	order := make([]prorata.Address, 0, len(members))
	for i, m := range members {
		if _, ok := table[string(m)]; !ok {
			order = append(order, m)
		}
		table[string(m)] = shares[i]
	}
	return order, table
}
