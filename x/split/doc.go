/*
Package split implements a proportional fund-distribution ledger.

A ledger is created with a fixed table of members, each owning an integer
share of the whole. Shares must sum to exactly 100. Deposits of any asset
accumulate with the external funds holder and each member can withdraw
exactly the share-weighted portion of the lifetime inflow that was not paid
out to them yet. Members do not have to withdraw in lock-step and can never
be double-paid or underpaid.

The ledger does not hold funds itself. Custody stays with an external
FundsHolder that the ledger queries and instructs. Deposits therefore do not
require any call into this package: the lifetime inflow is reconstructed
lazily from the holder's unaccounted balance during entitlement computation.

Only the ledger owner, fixed at creation, can trigger withdrawals.
*/
package split
