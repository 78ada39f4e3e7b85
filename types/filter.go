package types

import "math/big"

// TransactionFilter selects transactions from a synced round range. Fields
// are conjunctive: a transaction matches the filter only when every non-nil
// field matches. Slice-valued fields are OR sets matching any element.
type TransactionFilter struct {
	// Type matches the transaction type tag (pay, axfer, appl, ...).
	Type []string

	// Sender matches the transaction sender address.
	Sender []string

	// Receiver matches the payment or asset transfer receiver address.
	Receiver []string

	// NotePrefix matches transactions whose note starts with this prefix.
	NotePrefix []byte

	// AppID matches the called application ID, or any created application ID
	// when the call is an application create.
	AppID []uint64

	// AssetID matches the asset referenced by an asset transaction, or any
	// created asset ID when the transaction is an asset create.
	AssetID []uint64

	// AppCreate, when set, requires the transaction to be (true) or not be
	// (false) an application creation call.
	AppCreate *bool

	// AssetCreate, when set, requires the transaction to be (true) or not be
	// (false) an asset creation.
	AssetCreate *bool

	// AppOnComplete matches the application call's on-completion action.
	AppOnComplete []string

	// MinAmount and MaxAmount bound the payment or asset transfer amount,
	// inclusive.
	MinAmount *uint64
	MaxAmount *uint64

	// MethodSignature matches application calls whose first argument is the
	// ARC-4 selector of any of the listed method signatures.
	MethodSignature []string

	// AppCallArgumentsMatch is an arbitrary predicate over the application
	// call arguments (including the selector argument).
	AppCallArgumentsMatch func(args [][]byte) bool

	// Arc28Events matches transactions that emitted any of the named events.
	// The referenced group must be present in the subscription's
	// Arc28EventGroups for the predicate to ever match.
	Arc28Events []Arc28EventReference

	// BalanceChanges matches transactions exhibiting at least one balance
	// change satisfying any of the listed constraints.
	BalanceChanges []BalanceChangeFilter

	// CustomFilter is an arbitrary predicate over the normalized
	// transaction, evaluated after all other terms.
	CustomFilter func(txn *SubscribedTransaction) bool
}

// NamedTransactionFilter pairs a filter with the name reported in
// FiltersMatched and used for listener routing.
type NamedTransactionFilter struct {
	Name   string
	Filter TransactionFilter
}

// Arc28EventReference names one event of one registered event group.
type Arc28EventReference struct {
	GroupName string
	EventName string
}

// BalanceChangeFilter constrains one balance change. Fields are conjunctive;
// slice fields are OR sets. A transaction matches when any single one of its
// balance changes satisfies every constraint.
type BalanceChangeFilter struct {
	// Address matches the changed account.
	Address []string

	// AssetID matches the changed asset; 0 means microalgos.
	AssetID []uint64

	// Role requires the change to carry any of the listed roles.
	Role []BalanceChangeRole

	// MinAmount and MaxAmount bound the signed amount, inclusive.
	MinAmount *big.Int
	MaxAmount *big.Int

	// MinAbsoluteAmount and MaxAbsoluteAmount bound the magnitude of the
	// amount, inclusive, regardless of direction.
	MinAbsoluteAmount *big.Int
	MaxAbsoluteAmount *big.Int
}
