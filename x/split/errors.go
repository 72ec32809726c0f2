package split

import (
	"github.com/prorata-io/prorata/errors"
)

var (
	// ErrEmptyTeam is returned when a ledger is created without any
	// member.
	ErrEmptyTeam = errors.Register(120, "no team members")

	// ErrLengthMismatch is returned when the member and share sequences
	// differ in length.
	ErrLengthMismatch = errors.Register(121, "members and shares length mismatch")

	// ErrInvalidAddress is returned when an identity is the null address.
	ErrInvalidAddress = errors.Register(122, "invalid address")

	// ErrBadProportion is returned when the input shares do not sum to
	// exactly 100.
	ErrBadProportion = errors.Register(123, "proportions must sum to 100")

	// ErrNoProportion is returned when withdrawing for an identity
	// without a registered share.
	ErrNoProportion = errors.Register(124, "no proportion for the member")

	// ErrNoBalance is returned when there is nothing to withdraw.
	ErrNoBalance = errors.Register(125, "no balance to withdraw")

	// ErrInsufficientEntitlement is returned when the withdrawn counter
	// exceeds the computed entitlement. This can happen only in the
	// legacy shared counter mode, after withdrawing another asset.
	ErrInsufficientEntitlement = errors.Register(126, "withdrawn amount exceeds entitlement")

	// ErrReentrantCall is returned when a withdrawal is triggered while
	// another one is still settling.
	ErrReentrantCall = errors.Register(127, "reentrant call")
)
