package split

import (
	"encoding/binary"
	"math/bits"

	prorata "github.com/prorata-io/prorata"
	"github.com/prorata-io/prorata/errors"
	"github.com/prorata-io/prorata/store"
)

// FundsHolder is the external custodian of the assets accounted for by a
// Ledger. This package consumes the capability, it never implements it.
//
// A holder keeps two pools per asset: an inbox collecting deposits that the
// ledger did not account for yet and a custody pool holding everything
// already folded into the lifetime inflow counters. Deposits go straight to
// the inbox without notifying the ledger.
type FundsHolder interface {
	// Balance reports the inbox content: inflow that was not yet folded
	// into the ledger's lifetime counter of the asset.
	Balance(asset Asset) (uint64, error)

	// Collect drains the inbox into the custody pool and returns the
	// drained amount. The ledger calls it during withdrawal settlement,
	// right before updating its counters.
	Collect(asset Asset) (uint64, error)

	// Move pays the given amount from the custody pool to the recipient.
	// A failed move must leave the custody pool unchanged.
	Move(asset Asset, to prorata.Address, amount uint64) error
}

// Ledger tracks lifetime inflow per asset and cumulative withdrawals per
// member, paying each member their share of the inflow on demand. All
// counters only ever increase and the share table is immutable, so the sum
// paid out for an asset can never exceed the share-weighted inflow.
//
// A Ledger is a single-writer structure. Operations never interleave except
// for the external transfer performed during withdrawal, which is guarded
// against reentrancy explicitly.
type Ledger struct {
	owner  prorata.Address
	order  []prorata.Address
	table  map[string]uint32
	holder FundsHolder
	db     store.CacheableKVStore

	// shared enables the legacy accounting mode with one withdrawn
	// counter per member for all assets.
	shared bool

	// assets lists every asset with a created lifetime counter, in the
	// order of first inflow.
	assets []Asset

	journal []Withdrawal

	// settling is held for the duration of a withdrawal so that the
	// external transfer cannot reenter.
	settling bool
}

// Option configures a ledger during creation.
type Option func(*Ledger)

// WithSharedCounter switches the ledger to the legacy accounting mode where
// a single withdrawn counter per member is shared by all assets. In this
// mode withdrawing one asset lowers the apparent entitlement for every
// other asset.
func WithSharedCounter() Option {
	return func(l *Ledger) {
		l.shared = true
	}
}

// WithStore keeps the ledger counters in the given store instead of a
// private in-memory one.
func WithStore(db store.CacheableKVStore) Option {
	return func(l *Ledger) {
		l.db = db
	}
}

// NewLedger creates a ledger owned by owner, distributing funds held by
// holder between given members. Shares are percentages and must sum to
// exactly 100 over the raw input sequence. When an address repeats, the
// last entry wins. No asset state is created until the first inflow is
// observed.
func NewLedger(owner prorata.Address, members []prorata.Address, shares []uint32, holder FundsHolder, opts ...Option) (*Ledger, error) {
	if owner.IsZero() {
		return nil, errors.Wrap(ErrInvalidAddress, "owner")
	}
	if holder == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "funds holder")
	}
	if err := validateMembers(members, shares); err != nil {
		return nil, err
	}

	l := &Ledger{
		owner:  owner,
		holder: holder,
		db:     store.MemStore(),
	}
	l.order, l.table = newShareTable(members, shares)

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Owner returns the only identity allowed to trigger withdrawals.
func (l *Ledger) Owner() prorata.Address {
	return l.owner
}

// Share returns the share registered for given identity, zero for
// identities outside the table.
func (l *Ledger) Share(member prorata.Address) uint32 {
	return l.table[string(member)]
}

// Members returns the share table in registration order.
func (l *Ledger) Members() []Member {
	members := make([]Member, 0, len(l.order))
	for _, addr := range l.order {
		members = append(members, Member{
			Address: addr,
			Share:   l.table[string(addr)],
		})
	}
	return members
}

// TotalBalance returns the lifetime inflow of the asset folded in so far.
// It never decreases and is not the currently held amount.
func (l *Ledger) TotalBalance(asset Asset) (uint64, error) {
	return loadCounter(l.db, totalKey(asset))
}

// WithdrawnFrom returns the cumulative amount paid out to the member. In
// the default mode this is counted per asset; in the legacy shared counter
// mode the same value is reported for every asset.
func (l *Ledger) WithdrawnFrom(asset Asset, member prorata.Address) (uint64, error) {
	return loadCounter(l.db, l.paidKey(asset, member))
}

// Withdrawn returns the cumulative amount ever paid out to the member,
// summed over all assets.
func (l *Ledger) Withdrawn(member prorata.Address) (uint64, error) {
	if l.shared {
		return loadCounter(l.db, l.paidKey("", member))
	}
	var sum uint64
	for _, asset := range l.assets {
		paid, err := loadCounter(l.db, l.paidKey(asset, member))
		if err != nil {
			return 0, err
		}
		sum += paid
	}
	return sum, nil
}

// Assets returns every asset with recorded inflow, in the order of first
// observation.
func (l *Ledger) Assets() []Asset {
	assets := make([]Asset, len(l.assets))
	copy(assets, l.assets)
	return assets
}

// Entitlement returns how much of the asset the member could withdraw right
// now. Identities outside the share table get zero, never an error. If the
// withdrawn counter exceeds the entitled portion the query reports zero;
// the withdraw path surfaces that state as ErrInsufficientEntitlement.
func (l *Ledger) Entitlement(asset Asset, member prorata.Address) (uint64, error) {
	if l.table[string(member)] == 0 {
		return 0, nil
	}
	c, err := l.claim(asset, member)
	if err != nil {
		return 0, err
	}
	if c.entitled <= c.paid {
		return 0, nil
	}
	return c.entitled - c.paid, nil
}

// Withdraw pays out the member's current entitlement of the asset and
// returns the transferred amount. Only the ledger owner can withdraw.
//
// The counters are committed before the funds move, so even if the
// transfer hands control to external code, a reentrant call cannot replay
// the same entitlement. A failed transfer restores the member's claim.
func (l *Ledger) Withdraw(caller prorata.Address, asset Asset, member prorata.Address) (uint64, error) {
	if !l.owner.Equals(caller) {
		return 0, errors.Wrap(errors.ErrUnauthorized, "only the owner can withdraw")
	}
	if l.settling {
		return 0, errors.Wrap(ErrReentrantCall, "withdrawal in progress")
	}
	l.settling = true
	defer func() { l.settling = false }()

	if l.table[string(member)] == 0 {
		return 0, errors.Wrapf(ErrNoProportion, "member %s", member)
	}

	c, err := l.claim(asset, member)
	if err != nil {
		return 0, err
	}
	if c.entitled < c.paid {
		return 0, errors.Wrapf(ErrInsufficientEntitlement, "%d withdrawn, %d entitled", c.paid, c.entitled)
	}
	available := c.entitled - c.paid
	if available == 0 {
		return 0, errors.Wrap(ErrNoBalance, "nothing to withdraw")
	}

	// Fold the inbox into custody. The collected amount must match what
	// the claim was computed from - the environment is serialized, so a
	// difference means the holder's bookkeeping cannot be trusted.
	collected, err := l.holder.Collect(asset)
	if err != nil {
		return 0, errors.Wrap(err, "collect inbox")
	}
	if collected != c.observed {
		return 0, errors.Wrapf(errors.ErrState, "holder collected %d, reported %d", collected, c.observed)
	}

	cache := l.db.CacheWrap()
	if err := storeCounter(cache, totalKey(asset), c.total+collected); err != nil {
		cache.Discard()
		return 0, errors.Wrap(err, "total counter")
	}
	if err := storeCounter(cache, l.paidKey(asset, member), c.paid+available); err != nil {
		cache.Discard()
		return 0, errors.Wrap(err, "withdrawn counter")
	}
	if err := cache.Write(); err != nil {
		return 0, errors.Wrap(err, "write state")
	}
	l.trackAsset(asset)

	if err := l.holder.Move(asset, member, available); err != nil {
		// The member keeps the claim. The folded inflow stays folded:
		// the collected funds are in custody now and unwinding the
		// total counter would lose track of them.
		undo := l.db.CacheWrap()
		if uerr := storeCounter(undo, l.paidKey(asset, member), c.paid); uerr != nil {
			undo.Discard()
			return 0, errors.Wrap(uerr, "restore withdrawn counter")
		}
		if uerr := undo.Write(); uerr != nil {
			return 0, errors.Wrap(uerr, "restore withdrawn counter")
		}
		return 0, errors.Wrap(err, "move funds")
	}

	l.journal = append(l.journal, Withdrawal{
		Member: member,
		Asset:  asset,
		Amount: available,
	})
	return available, nil
}

// DistributeAll withdraws the current entitlement of every member, in
// registration order. Members with nothing to claim are skipped. Returns
// the total amount paid out. Only the ledger owner can distribute.
//
// Integer division leftovers stay with the holder and are paid out once
// future inflow makes the entitlements whole again.
func (l *Ledger) DistributeAll(caller prorata.Address, asset Asset) (uint64, error) {
	if !l.owner.Equals(caller) {
		return 0, errors.Wrap(errors.ErrUnauthorized, "only the owner can distribute")
	}

	var sum uint64
	for _, addr := range l.order {
		if l.table[string(addr)] == 0 {
			continue
		}
		amount, err := l.Withdraw(caller, asset, addr)
		switch {
		case err == nil:
			sum += amount
		case ErrNoBalance.Is(err):
			// Chunk too small to be distributed.
		case ErrInsufficientEntitlement.Is(err):
			// Overdrawn through the shared counter, nothing to pay.
		default:
			return sum, errors.Wrapf(err, "member %s", addr)
		}
	}
	return sum, nil
}

// claim captures all amounts a withdrawal decision is based on.
type claim struct {
	// total is the lifetime inflow folded in so far.
	total uint64
	// observed is the inbox content, not folded yet.
	observed uint64
	// entitled is the cumulative share of the reconstructed lifetime
	// inflow.
	entitled uint64
	// paid is the cumulative amount already withdrawn.
	paid uint64
}

func (l *Ledger) claim(asset Asset, member prorata.Address) (claim, error) {
	var c claim
	var err error

	if c.observed, err = l.holder.Balance(asset); err != nil {
		return c, errors.Wrap(err, "holder balance")
	}
	if c.total, err = loadCounter(l.db, totalKey(asset)); err != nil {
		return c, err
	}
	lifetime := c.total + c.observed
	if lifetime < c.total {
		return c, errors.Wrap(errors.ErrOverflow, "lifetime inflow")
	}
	c.entitled = shareOf(lifetime, l.table[string(member)])
	if c.paid, err = loadCounter(l.db, l.paidKey(asset, member)); err != nil {
		return c, err
	}
	return c, nil
}

// shareOf returns floor(amount * share / 100) computed without overflowing
// uint64.
func shareOf(amount uint64, share uint32) uint64 {
	hi, lo := bits.Mul64(amount, uint64(share))
	q, _ := bits.Div64(hi, lo, weightTotal)
	return q
}

// trackAsset records the first inflow of an asset, keeping the asset list
// in the order lifetime counters were created.
func (l *Ledger) trackAsset(asset Asset) {
	for _, a := range l.assets {
		if a == asset {
			return
		}
	}
	l.assets = append(l.assets, asset)
}

func totalKey(asset Asset) []byte {
	return []byte("total:" + asset)
}

// paidKey returns the withdrawn counter key of a member. The legacy mode
// ignores the asset, sharing one counter across all of them.
func (l *Ledger) paidKey(asset Asset, member prorata.Address) []byte {
	if l.shared {
		return append([]byte("paidall:"), member...)
	}
	key := append([]byte("paid:"+asset), ':')
	return append(key, member...)
}

func loadCounter(db store.ReadOnlyKVStore, key []byte) (uint64, error) {
	raw, err := db.Get(key)
	if err != nil {
		return 0, errors.Wrap(err, "load counter")
	}
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, errors.Wrapf(errors.ErrDatabase, "invalid counter value under %q", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func storeCounter(db store.SetDeleter, key []byte, value uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, value)
	return db.Set(key, raw)
}
