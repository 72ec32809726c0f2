package split

import (
	"fmt"
	"math"
	"testing"

	prorata "github.com/prorata-io/prorata"
	"github.com/prorata-io/prorata/errors"
	"github.com/prorata-io/prorata/proratatest"
	"github.com/prorata-io/prorata/proratatest/assert"
)

func TestEntitlement(t *testing.T) {
	alice := proratatest.NewAddress()
	bob := proratatest.NewAddress()
	carl := proratatest.NewAddress()
	dave := proratatest.NewAddress()
	eve := proratatest.NewAddress()

	cases := map[string]struct {
		members []prorata.Address
		shares  []uint32
		deposit uint64
		want    map[string]uint64
	}{
		"even split of an even deposit": {
			members: []prorata.Address{alice, bob},
			shares:  []uint32{50, 50},
			deposit: 10,
			want: map[string]uint64{
				string(alice): 5,
				string(bob):   5,
			},
		},
		"uneven shares floor the entitlement": {
			// 10.12356 units as a scaled integer.
			members: []prorata.Address{alice, bob, carl, dave, eve},
			shares:  []uint32{1, 23, 37, 4, 35},
			deposit: 1012356,
			want: map[string]uint64{
				string(alice): 10123,
				string(bob):   232841,
				string(carl):  374571,
				string(dave):  40494,
				string(eve):   354324,
			},
		},
		"deposit too small to split": {
			members: []prorata.Address{alice, bob},
			shares:  []uint32{1, 99},
			deposit: 50,
			want: map[string]uint64{
				string(alice): 0,
				string(bob):   49,
			},
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			owner := proratatest.NewAddress()
			holder := newTestHolder()
			l, err := NewLedger(owner, tc.members, tc.shares, holder)
			assert.Nil(t, err)

			holder.deposit(NativeAsset, tc.deposit)

			for _, m := range tc.members {
				got, err := l.Entitlement(NativeAsset, m)
				assert.Nil(t, err)
				if want := tc.want[string(m)]; got != want {
					t.Errorf("member %s: want %d, got %d", m, want, got)
				}
			}

			// An identity outside the table is owed nothing, and
			// the query must not fail.
			got, err := l.Entitlement(NativeAsset, proratatest.NewAddress())
			assert.Nil(t, err)
			assert.Equal(t, uint64(0), got)
		})
	}
}

func TestWithdrawPaysTheEntitlement(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	bob := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice, bob}, []uint32{50, 50}, holder)
	assert.Nil(t, err)

	holder.deposit(NativeAsset, 10)

	amount, err := l.Withdraw(owner, NativeAsset, alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(5), amount)
	assert.Equal(t, []movecall{
		{to: alice, asset: NativeAsset, amount: 5},
	}, holder.moves)

	// The whole inbox was folded into the lifetime counter.
	total, err := l.TotalBalance(NativeAsset)
	assert.Nil(t, err)
	assert.Equal(t, uint64(10), total)

	paid, err := l.Withdrawn(alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(5), paid)

	// Without new inflow alice is owed nothing anymore.
	got, err := l.Entitlement(NativeAsset, alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), got)
	if _, err := l.Withdraw(owner, NativeAsset, alice); !ErrNoBalance.Is(err) {
		t.Fatalf("want ErrNoBalance, got %+v", err)
	}

	// Bob was not affected and can still claim his half.
	got, err = l.Entitlement(NativeAsset, bob)
	assert.Nil(t, err)
	assert.Equal(t, uint64(5), got)

	assert.Equal(t, []Withdrawal{
		{Member: alice, Asset: NativeAsset, Amount: 5},
	}, l.Journal())
}

func TestWithdrawAuthorization(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice}, []uint32{100}, holder)
	assert.Nil(t, err)

	holder.deposit(NativeAsset, 10)

	// Not even the member themselves can trigger a withdrawal.
	if _, err := l.Withdraw(alice, NativeAsset, alice); !errors.ErrUnauthorized.Is(err) {
		t.Fatalf("want unauthorized, got %+v", err)
	}
	if len(holder.moves) != 0 {
		t.Fatalf("no funds must move, got %v", holder.moves)
	}

	if _, err := l.Withdraw(owner, NativeAsset, alice); err != nil {
		t.Fatalf("owner must be able to withdraw: %+v", err)
	}
}

func TestWithdrawFailures(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice}, []uint32{100}, holder)
	assert.Nil(t, err)

	// No inflow yet, nothing to withdraw.
	if _, err := l.Withdraw(owner, NativeAsset, alice); !ErrNoBalance.Is(err) {
		t.Fatalf("want ErrNoBalance, got %+v", err)
	}

	// An identity without a proportion cannot withdraw, no matter the
	// funds.
	holder.deposit(NativeAsset, 10)
	if _, err := l.Withdraw(owner, NativeAsset, proratatest.NewAddress()); !ErrNoProportion.Is(err) {
		t.Fatalf("want ErrNoProportion, got %+v", err)
	}
}

func TestSequentialDepositsAndWithdrawals(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	bob := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice, bob}, []uint32{30, 70}, holder)
	assert.Nil(t, err)

	holder.deposit(NativeAsset, 1000)

	amount, err := l.Withdraw(owner, NativeAsset, alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(300), amount)

	holder.deposit(NativeAsset, 500)

	// Alice claims her part of the new inflow only.
	amount, err = l.Withdraw(owner, NativeAsset, alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(150), amount)

	// Bob never withdrew, so he claims his part of everything at once.
	amount, err = l.Withdraw(owner, NativeAsset, bob)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1050), amount)

	var paidOut uint64
	for _, w := range l.Journal() {
		paidOut += w.Amount
	}
	if paidOut > 1500 {
		t.Fatalf("paid out %d of 1500 deposited", paidOut)
	}
	assert.Equal(t, uint64(1500), paidOut)
	assert.Equal(t, uint64(0), holder.held(NativeAsset))
}

func TestRemainderDoesNotCompound(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	bob := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice, bob}, []uint32{50, 50}, holder)
	assert.Nil(t, err)

	var lifetime uint64
	for cycle := 1; cycle <= 5; cycle++ {
		holder.deposit(NativeAsset, 777)
		lifetime += 777

		if _, err := l.Withdraw(owner, NativeAsset, alice); err != nil {
			t.Fatalf("cycle %d: alice: %+v", cycle, err)
		}
		if _, err := l.Withdraw(owner, NativeAsset, bob); err != nil {
			t.Fatalf("cycle %d: bob: %+v", cycle, err)
		}

		// The only amount ever retained is the remainder of the
		// current integer division - it must not grow with cycles.
		if want, got := lifetime%2, holder.held(NativeAsset); want != got {
			t.Fatalf("cycle %d: want %d retained, got %d", cycle, want, got)
		}
	}
}

func TestPerAssetCountersAreIndependent(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	bob := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice, bob}, []uint32{50, 50}, holder)
	assert.Nil(t, err)

	holder.deposit("gold", 100)
	holder.deposit("silver", 10)

	amount, err := l.Withdraw(owner, "gold", alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(50), amount)

	// Withdrawing gold must not lower the silver entitlement.
	got, err := l.Entitlement("silver", alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(5), got)

	paid, err := l.WithdrawnFrom("silver", alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), paid)

	// The per-member sum covers all assets.
	amount, err = l.Withdraw(owner, "silver", alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(5), amount)
	paid, err = l.Withdrawn(alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(55), paid)
	assert.Equal(t, []Asset{"gold", "silver"}, l.Assets())
}

func TestSharedCounterMode(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	bob := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice, bob}, []uint32{50, 50}, holder, WithSharedCounter())
	assert.Nil(t, err)

	holder.deposit("gold", 100)
	holder.deposit("silver", 10)

	amount, err := l.Withdraw(owner, "gold", alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(50), amount)

	// The gold withdrawal consumed the shared counter, so the silver
	// entitlement computes negative. The query saturates at zero and
	// the withdrawal fails loudly.
	got, err := l.Entitlement("silver", alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), got)

	if _, err := l.Withdraw(owner, "silver", alice); !ErrInsufficientEntitlement.Is(err) {
		t.Fatalf("want ErrInsufficientEntitlement, got %+v", err)
	}

	// Bob's counter is untouched, his claims work for both assets.
	amount, err = l.Withdraw(owner, "silver", bob)
	assert.Nil(t, err)
	assert.Equal(t, uint64(5), amount)
	amount, err = l.Withdraw(owner, "gold", bob)
	assert.Nil(t, err)
	assert.Equal(t, uint64(45), amount)
}

func TestMoveFailureRestoresTheClaim(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice}, []uint32{100}, holder)
	assert.Nil(t, err)

	holder.deposit(NativeAsset, 100)
	holder.moveErr = fmt.Errorf("wire is down")

	if _, err := l.Withdraw(owner, NativeAsset, alice); err == nil {
		t.Fatal("withdrawal must fail when funds cannot move")
	}

	// No funds left the holder and the claim is fully restored.
	assert.Equal(t, uint64(100), holder.held(NativeAsset))
	paid, err := l.Withdrawn(alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), paid)
	got, err := l.Entitlement(NativeAsset, alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), got)
	assert.Equal(t, 0, len(l.Journal()))

	// Once the transfer works again the full claim is paid out.
	holder.moveErr = nil
	amount, err := l.Withdraw(owner, NativeAsset, alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), amount)
}

func TestReentrantWithdrawIsRejected(t *testing.T) {
	owner := proratatest.NewAddress()
	alice := proratatest.NewAddress()
	holder := newTestHolder()

	l, err := NewLedger(owner, []prorata.Address{alice}, []uint32{100}, holder)
	assert.Nil(t, err)

	holder.deposit(NativeAsset, 100)

	var reentrantErr error
	calls := 0
	holder.moveHook = func() {
		if calls++; calls > 1 {
			return
		}
		_, reentrantErr = l.Withdraw(owner, NativeAsset, alice)
	}

	amount, err := l.Withdraw(owner, NativeAsset, alice)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), amount)

	if !ErrReentrantCall.Is(reentrantErr) {
		t.Fatalf("want ErrReentrantCall, got %+v", reentrantErr)
	}
	// Only a single payment was made.
	assert.Equal(t, []movecall{
		{to: alice, asset: NativeAsset, amount: 100},
	}, holder.moves)
}

func TestDistributeAll(t *testing.T) {
	owner := proratatest.NewAddress()
	members := []prorata.Address{
		proratatest.NewAddress(),
		proratatest.NewAddress(),
		proratatest.NewAddress(),
		proratatest.NewAddress(),
		proratatest.NewAddress(),
	}
	shares := []uint32{1, 23, 37, 4, 35}
	holder := newTestHolder()

	l, err := NewLedger(owner, members, shares, holder)
	assert.Nil(t, err)

	holder.deposit(NativeAsset, 1012356)

	if _, err := l.DistributeAll(proratatest.NewAddress(), NativeAsset); !errors.ErrUnauthorized.Is(err) {
		t.Fatalf("want unauthorized, got %+v", err)
	}

	sum, err := l.DistributeAll(owner, NativeAsset)
	assert.Nil(t, err)
	assert.Equal(t, uint64(10123+232841+374571+40494+354324), sum)
	assert.Equal(t, 5, len(holder.moves))

	// Only the division leftover stays behind.
	assert.Equal(t, 1012356-sum, holder.held(NativeAsset))

	// A second run has nothing to pay and is not an error.
	sum, err = l.DistributeAll(owner, NativeAsset)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), sum)
}

func TestShareOf(t *testing.T) {
	cases := map[string]struct {
		amount uint64
		share  uint32
		want   uint64
	}{
		"zero amount":        {amount: 0, share: 50, want: 0},
		"zero share":         {amount: 1000, share: 0, want: 0},
		"full share":         {amount: 1000, share: 100, want: 1000},
		"rounding down":      {amount: 777, share: 50, want: 388},
		"one percent":        {amount: 50, share: 1, want: 0},
		"no uint64 overflow": {amount: math.MaxUint64, share: 50, want: math.MaxUint64 / 2},
		"full share of max":  {amount: math.MaxUint64, share: 100, want: math.MaxUint64},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			if got := shareOf(tc.amount, tc.share); got != tc.want {
				t.Fatalf("want %d, got %d", tc.want, got)
			}
		})
	}
}

// testHolder is a FundsHolder double keeping all balances in memory. It
// models the inbox/custody split of a real environment: deposits land in
// the inbox and Collect moves them into custody.
type testHolder struct {
	inbox   map[Asset]uint64
	custody map[Asset]uint64

	// balanceErr, collectErr and moveErr force the matching call to
	// fail.
	balanceErr error
	collectErr error
	moveErr    error

	// moveHook, when set, runs at the start of every Move call. Used to
	// test reentrancy.
	moveHook func()

	moves []movecall
}

type movecall struct {
	to     prorata.Address
	asset  Asset
	amount uint64
}

func newTestHolder() *testHolder {
	return &testHolder{
		inbox:   make(map[Asset]uint64),
		custody: make(map[Asset]uint64),
	}
}

func (h *testHolder) deposit(asset Asset, amount uint64) {
	h.inbox[asset] += amount
}

// held returns everything the holder keeps for the ledger, no matter the
// pool.
func (h *testHolder) held(asset Asset) uint64 {
	return h.inbox[asset] + h.custody[asset]
}

func (h *testHolder) Balance(asset Asset) (uint64, error) {
	if h.balanceErr != nil {
		return 0, h.balanceErr
	}
	return h.inbox[asset], nil
}

func (h *testHolder) Collect(asset Asset) (uint64, error) {
	if h.collectErr != nil {
		return 0, h.collectErr
	}
	amount := h.inbox[asset]
	h.inbox[asset] = 0
	h.custody[asset] += amount
	return amount, nil
}

func (h *testHolder) Move(asset Asset, to prorata.Address, amount uint64) error {
	if h.moveHook != nil {
		h.moveHook()
	}
	if h.moveErr != nil {
		return h.moveErr
	}
	if h.custody[asset] < amount {
		return fmt.Errorf("custody holds %d, cannot move %d", h.custody[asset], amount)
	}
	h.custody[asset] -= amount
	h.moves = append(h.moves, movecall{to: to, asset: asset, amount: amount})
	return nil
}
