// Package types defines the unified transaction model exposed by the
// subscription engine, along with the declarative filter, ARC-28 event and
// balance-change types used to describe what to subscribe to.
//
// The SubscribedTransaction model substantively follows the Algorand indexer
// REST transaction schema so that node-sourced and indexer-sourced
// transactions are indistinguishable to consumers.
package types

import (
	"math/big"
)

// OnComplete is the indexer string representation of an application
// call's on-completion action.
type OnComplete string

const (
	OnCompleteNoOp     OnComplete = "noop"
	OnCompleteOptIn    OnComplete = "optin"
	OnCompleteCloseOut OnComplete = "closeout"
	OnCompleteClear    OnComplete = "clear"
	OnCompleteUpdate   OnComplete = "update"
	OnCompleteDelete   OnComplete = "delete"
)

// SubscribedTransaction is the common model used to expose a transaction
// returned from a subscription poll, regardless of whether it was decoded
// from a raw consensus block or returned by the indexer.
//
// Exactly one of the per-type sub-objects is populated, chosen by Type.
type SubscribedTransaction struct {
	// ID is the canonical transaction ID, or `{rootId}/inner/{n}` for an
	// inner transaction where n is the 1-based depth-first position of the
	// inner transaction within its root transaction's subtree.
	ID string `json:"id"`

	// ParentTransactionID is the ID of the root (top-level) transaction if
	// this is an inner transaction.
	ParentTransactionID string `json:"parent-transaction-id,omitempty"`

	// ParentIntraRoundOffset is the intra-round offset of the root
	// transaction if this is an inner transaction.
	ParentIntraRoundOffset *uint64 `json:"parent-intra-round-offset,omitempty"`

	Sender           string `json:"sender"`
	Fee              uint64 `json:"fee"`
	FirstValid       uint64 `json:"first-valid"`
	LastValid        uint64 `json:"last-valid"`
	ConfirmedRound   uint64 `json:"confirmed-round"`
	RoundTime        uint64 `json:"round-time"`
	IntraRoundOffset uint64 `json:"intra-round-offset"`

	// Type is the transaction type tag: pay, keyreg, acfg, axfer, afrz,
	// appl, stpf or hb.
	Type string `json:"tx-type"`

	GenesisID   string `json:"genesis-id,omitempty"`
	GenesisHash []byte `json:"genesis-hash,omitempty"`
	Group       []byte `json:"group,omitempty"`
	Note        []byte `json:"note,omitempty"`
	Lease       []byte `json:"lease,omitempty"`
	RekeyTo     string `json:"rekey-to,omitempty"`
	AuthAddr    string `json:"auth-addr,omitempty"`

	// ClosingAmount is the number of microalgos sent to the close remainder
	// to address when the sender account was closed.
	ClosingAmount uint64 `json:"closing-amount,omitempty"`

	CreatedAssetID uint64 `json:"created-asset-index,omitempty"`
	CreatedAppID   uint64 `json:"created-application-index,omitempty"`

	Logs [][]byte `json:"logs,omitempty"`

	Signature *TransactionSignature `json:"signature,omitempty"`

	Payment       *PaymentTransaction       `json:"payment-transaction,omitempty"`
	Keyreg        *KeyregTransaction        `json:"keyreg-transaction,omitempty"`
	AssetConfig   *AssetConfigTransaction   `json:"asset-config-transaction,omitempty"`
	AssetTransfer *AssetTransferTransaction `json:"asset-transfer-transaction,omitempty"`
	AssetFreeze   *AssetFreezeTransaction   `json:"asset-freeze-transaction,omitempty"`
	Application   *ApplicationTransaction   `json:"application-transaction,omitempty"`
	StateProof    *StateProofTransaction    `json:"state-proof-transaction,omitempty"`
	Heartbeat     *HeartbeatTransaction     `json:"heartbeat-transaction,omitempty"`

	GlobalStateDelta []EvalDeltaKeyValue `json:"global-state-delta,omitempty"`
	LocalStateDelta  []AccountStateDelta `json:"local-state-delta,omitempty"`

	SenderRewards   uint64 `json:"sender-rewards,omitempty"`
	ReceiverRewards uint64 `json:"receiver-rewards,omitempty"`
	CloseRewards    uint64 `json:"close-rewards,omitempty"`

	// InnerTxns holds inner transactions produced by application execution,
	// recursively normalized into this same model.
	InnerTxns []*SubscribedTransaction `json:"inner-txns,omitempty"`

	// FiltersMatched lists the names of the filters that matched this
	// transaction. Merged when the same transaction is matched by multiple
	// filters or sources.
	FiltersMatched []string `json:"filters-matched,omitempty"`

	// Arc28Events holds any ARC-28 events decoded from the app call logs.
	Arc28Events []EmittedArc28Event `json:"arc28-events,omitempty"`

	// BalanceChanges holds the derived per-address, per-asset balance
	// movements attributable to this transaction.
	BalanceChanges []BalanceChange `json:"balance-changes,omitempty"`
}

// PaymentTransaction holds the fields of a pay transaction.
type PaymentTransaction struct {
	Amount           uint64 `json:"amount"`
	Receiver         string `json:"receiver"`
	CloseAmount      uint64 `json:"close-amount,omitempty"`
	CloseRemainderTo string `json:"close-remainder-to,omitempty"`
}

// KeyregTransaction holds the fields of a keyreg transaction.
type KeyregTransaction struct {
	NonParticipation          bool   `json:"non-participation"`
	SelectionParticipationKey []byte `json:"selection-participation-key,omitempty"`
	StateProofKey             []byte `json:"state-proof-key,omitempty"`
	VoteParticipationKey      []byte `json:"vote-participation-key,omitempty"`
	VoteFirstValid            uint64 `json:"vote-first-valid,omitempty"`
	VoteLastValid             uint64 `json:"vote-last-valid,omitempty"`
	VoteKeyDilution           uint64 `json:"vote-key-dilution,omitempty"`
}

// AssetParams holds asset configuration parameters.
type AssetParams struct {
	Creator       string `json:"creator"`
	Total         uint64 `json:"total"`
	Decimals      uint32 `json:"decimals"`
	DefaultFrozen bool   `json:"default-frozen,omitempty"`
	UnitName      string `json:"unit-name,omitempty"`
	Name          string `json:"name,omitempty"`
	URL           string `json:"url,omitempty"`
	MetadataHash  []byte `json:"metadata-hash,omitempty"`
	Manager       string `json:"manager,omitempty"`
	Reserve       string `json:"reserve,omitempty"`
	Freeze        string `json:"freeze,omitempty"`
	Clawback      string `json:"clawback,omitempty"`
}

// AssetConfigTransaction holds the fields of an acfg transaction.
// Params is nil for an asset destroy.
type AssetConfigTransaction struct {
	AssetID uint64       `json:"asset-id"`
	Params  *AssetParams `json:"params,omitempty"`
}

// AssetTransferTransaction holds the fields of an axfer transaction.
type AssetTransferTransaction struct {
	AssetID     uint64 `json:"asset-id"`
	Amount      uint64 `json:"amount"`
	Receiver    string `json:"receiver"`
	CloseAmount uint64 `json:"close-amount,omitempty"`
	CloseTo     string `json:"close-to,omitempty"`

	// Sender is the address the assets were taken from when this is a
	// clawback transfer; empty otherwise.
	Sender string `json:"sender,omitempty"`
}

// AssetFreezeTransaction holds the fields of an afrz transaction.
type AssetFreezeTransaction struct {
	Address         string `json:"address"`
	AssetID         uint64 `json:"asset-id"`
	NewFreezeStatus bool   `json:"new-freeze-status"`
}

// StateSchema holds an application state schema.
type StateSchema struct {
	NumUint      uint64 `json:"num-uint"`
	NumByteSlice uint64 `json:"num-byte-slice"`
}

// BoxReference names a box of an application.
type BoxReference struct {
	App  uint64 `json:"app"`
	Name []byte `json:"name,omitempty"`
}

// ResourceReference is a normalized application resource reference.
// Exactly one of the fields is populated per entry.
type ResourceReference struct {
	Address string        `json:"address,omitempty"`
	App     uint64        `json:"app,omitempty"`
	Asset   uint64        `json:"asset,omitempty"`
	Box     *BoxReference `json:"box,omitempty"`
}

// ApplicationTransaction holds the fields of an appl transaction.
type ApplicationTransaction struct {
	ApplicationID     uint64       `json:"application-id"`
	OnCompletion      OnComplete   `json:"on-completion"`
	ApplicationArgs   [][]byte     `json:"application-args,omitempty"`
	Accounts          []string     `json:"accounts,omitempty"`
	ForeignApps       []uint64     `json:"foreign-apps,omitempty"`
	ForeignAssets     []uint64     `json:"foreign-assets,omitempty"`
	ApprovalProgram   []byte       `json:"approval-program,omitempty"`
	ClearStateProgram []byte       `json:"clear-state-program,omitempty"`
	ExtraProgramPages uint32       `json:"extra-program-pages,omitempty"`
	GlobalStateSchema *StateSchema `json:"global-state-schema,omitempty"`
	LocalStateSchema  *StateSchema `json:"local-state-schema,omitempty"`

	// Access lists the application's resource references (accounts, foreign
	// apps and assets, boxes) as normalized records in source order.
	Access []ResourceReference `json:"access,omitempty"`
}

// StateProofMessage holds the message attested to by a state proof.
type StateProofMessage struct {
	BlockHeadersCommitment []byte `json:"block-headers-commitment,omitempty"`
	VotersCommitment       []byte `json:"voters-commitment,omitempty"`
	LnProvenWeight         uint64 `json:"ln-proven-weight"`
	FirstAttestedRound     uint64 `json:"first-attested-round"`
	LastAttestedRound      uint64 `json:"last-attested-round"`
}

// StateProofTransaction holds a summary of an stpf transaction.
type StateProofTransaction struct {
	StateProofType uint64             `json:"state-proof-type"`
	Message        *StateProofMessage `json:"message,omitempty"`
}

// HeartbeatTransaction holds the fields of an hb transaction.
type HeartbeatTransaction struct {
	Address     string `json:"hb-address"`
	KeyDilution uint64 `json:"hb-key-dilution"`
	Seed        []byte `json:"hb-seed,omitempty"`
	VoteID      []byte `json:"hb-vote-id,omitempty"`
}

// TransactionSignature holds the signature attached to a transaction.
type TransactionSignature struct {
	Sig      []byte             `json:"sig,omitempty"`
	Multisig *MultisigSignature `json:"multisig,omitempty"`
	Logicsig *LogicSignature    `json:"logicsig,omitempty"`
}

// MultisigSignature holds a multisig signature.
type MultisigSignature struct {
	Version       uint8                  `json:"version"`
	Threshold     uint8                  `json:"threshold"`
	Subsignatures []MultisigSubsignature `json:"subsignature,omitempty"`
}

// MultisigSubsignature holds one subsignature of a multisig.
type MultisigSubsignature struct {
	PublicKey []byte `json:"public-key,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

// LogicSignature holds a logic signature.
type LogicSignature struct {
	Logic     []byte             `json:"logic"`
	Args      [][]byte           `json:"args,omitempty"`
	Signature []byte             `json:"signature,omitempty"`
	Multisig  *MultisigSignature `json:"multisig-signature,omitempty"`
}

// EvalDeltaKeyValue is one global state delta entry.
type EvalDeltaKeyValue struct {
	Key   []byte    `json:"key"`
	Value EvalDelta `json:"value"`
}

// AccountStateDelta is the local state delta of one account.
type AccountStateDelta struct {
	Address string              `json:"address"`
	Delta   []EvalDeltaKeyValue `json:"delta"`
}

// EvalDelta is a single state value change.
type EvalDelta struct {
	Action uint64 `json:"action"`
	Bytes  []byte `json:"bytes,omitempty"`
	Uint   uint64 `json:"uint,omitempty"`
}

// BalanceChangeRole describes the economic role an address played in a
// balance change.
type BalanceChangeRole string

const (
	// BalanceChangeRoleSender indicates the address sent value (or paid a fee).
	BalanceChangeRoleSender BalanceChangeRole = "Sender"

	// BalanceChangeRoleReceiver indicates the address received value.
	BalanceChangeRoleReceiver BalanceChangeRole = "Receiver"

	// BalanceChangeRoleCloseTo indicates the address received a closing remainder.
	BalanceChangeRoleCloseTo BalanceChangeRole = "CloseTo"

	// BalanceChangeRoleAssetCreator indicates the address minted an asset's supply.
	BalanceChangeRoleAssetCreator BalanceChangeRole = "AssetCreator"

	// BalanceChangeRoleAssetDestroyer indicates the address destroyed an asset.
	BalanceChangeRoleAssetDestroyer BalanceChangeRole = "AssetDestroyer"
)

// BalanceChange is a derived signed ledger movement attributable to a
// transaction. A negative amount is a debit.
type BalanceChange struct {
	// Address is the account whose balance changed.
	Address string `json:"address"`

	// AssetID is the asset that changed; 0 means microalgos.
	AssetID uint64 `json:"asset-id"`

	// Amount is the signed delta. Asset totals can exceed 2^53 so this is
	// kept as a big.Int rather than any float-backed representation.
	Amount *big.Int `json:"amount"`

	// Roles lists the roles the address played, each at most once, in
	// first-seen order.
	Roles []BalanceChangeRole `json:"roles"`
}

// HasRole reports whether the change carries the given role.
func (c *BalanceChange) HasRole(role BalanceChangeRole) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// BlockMetadata summarizes the header of a synced block.
type BlockMetadata struct {
	Round                  uint64 `json:"round"`
	Hash                   string `json:"hash,omitempty"`
	Timestamp              int64  `json:"timestamp"`
	GenesisID              string `json:"genesis-id"`
	GenesisHash            []byte `json:"genesis-hash"`
	PreviousBlockHash      []byte `json:"previous-block-hash,omitempty"`
	Seed                   []byte `json:"seed,omitempty"`
	ParentTransactionCount int    `json:"parent-transaction-count"`
	FullTransactionCount   int    `json:"full-transaction-count"`
	TxnCounter             uint64 `json:"txn-counter"`
	TransactionsRoot       []byte `json:"transactions-root,omitempty"`
	TransactionsRootSHA256 []byte `json:"transactions-root-sha256,omitempty"`
	Proposer               string `json:"proposer,omitempty"`
	ProposerPayout         uint64 `json:"proposer-payout,omitempty"`
}
