package split

import (
	prorata "github.com/prorata-io/prorata"
)

// Withdrawal is the record emitted for every successful withdrawal.
type Withdrawal struct {
	Member prorata.Address
	Asset  Asset
	Amount uint64
}

// Journal returns a copy of all withdrawal records in execution order.
func (l *Ledger) Journal() []Withdrawal {
	journal := make([]Withdrawal, len(l.journal))
	copy(journal, l.journal)
	return journal
}
