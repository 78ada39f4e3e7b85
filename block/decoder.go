// Package block decodes raw consensus blocks into per-transaction records
// carrying intra-round offsets, synthetic inner-transaction IDs and the
// apply-data side effects needed downstream.
package block

import (
	"crypto/sha512"
	"encoding/base32"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/0xmhha/subscriber-go/types"
)

// TransactionInBlock is one transaction extracted from a block, top-level or
// inner, positioned by its depth-first intra-round offset.
type TransactionInBlock struct {
	// SignedTxn is the raw signed transaction with its apply data, exactly
	// as carried in the block.
	SignedTxn sdk.SignedTxnWithAD

	// Transaction is the transaction with genesis fields restored from the
	// block header. Top-level IDs are computed from this form.
	Transaction sdk.Transaction

	// TransactionID is the canonical ID for a top-level transaction, or
	// `{rootId}/inner/{n}` for an inner transaction.
	TransactionID string

	// IntraRoundOffset is the zero-based position of the transaction within
	// the round, counting every transaction in depth-first order.
	IntraRoundOffset uint64

	// RootTransactionID is the ID of the containing top-level transaction.
	// Empty for top-level transactions. Inner transactions always link to
	// the root, never to an intermediate inner parent.
	RootTransactionID string

	// ParentIntraRoundOffset is the offset of the containing top-level
	// transaction. Nil for top-level transactions.
	ParentIntraRoundOffset *uint64

	// RootInnerIndex is the 1-based depth-first position of this inner
	// transaction within its root's subtree, 0 for top-level transactions.
	// Deeper inner transactions continue the same counter.
	RootInnerIndex uint64

	CreatedAssetID   uint64
	CreatedAppID     uint64
	AssetCloseAmount uint64
	CloseAmount      uint64
	SenderRewards    uint64
	ReceiverRewards  uint64
	CloseRewards     uint64

	// Logs holds the application log messages emitted by this transaction.
	Logs [][]byte

	Round     uint64
	RoundTime uint64
}

// Decode extracts every transaction from the block in depth-first order:
// each top-level transaction followed immediately by its inner transactions,
// recursively, with one block-wide offset counter. When the header carries a
// proposer payout a synthetic payment transaction is appended last.
func Decode(b sdk.Block) []TransactionInBlock {
	hdr := b.BlockHeader
	out := make([]TransactionInBlock, 0, len(b.Payset))

	offset := uint64(0)
	for i := range b.Payset {
		stib := b.Payset[i]

		txn := stib.Txn
		// The node strips genesis fields from block transactions; restore
		// them before computing the canonical ID.
		txn.GenesisHash = hdr.GenesisHash
		if stib.HasGenesisID {
			txn.GenesisID = hdr.GenesisID
		} else {
			txn.GenesisID = ""
		}
		rootID := crypto.TransactionIDString(txn)
		rootOffset := offset

		entry := newEntry(stib.SignedTxnWithAD, txn, hdr)
		entry.TransactionID = rootID
		entry.IntraRoundOffset = rootOffset
		out = append(out, entry)
		offset++

		innerIndex := uint64(0)
		for j := range stib.ApplyData.EvalDelta.InnerTxns {
			out = appendInner(out, stib.ApplyData.EvalDelta.InnerTxns[j], hdr, rootID, rootOffset, &innerIndex, &offset)
		}
	}

	if hdr.ProposerPayout > 0 {
		payout := ProposerPayoutTransaction(hdr)
		entry := newEntry(sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: payout}}, payout, hdr)
		entry.TransactionID = crypto.TransactionIDString(payout)
		entry.IntraRoundOffset = offset
		out = append(out, entry)
	}

	return out
}

func appendInner(out []TransactionInBlock, st sdk.SignedTxnWithAD, hdr sdk.BlockHeader, rootID string, rootOffset uint64, innerIndex, offset *uint64) []TransactionInBlock {
	txn := st.Txn
	// Inner transactions never carry genesis fields of their own.
	txn.GenesisHash = hdr.GenesisHash
	txn.GenesisID = ""

	*innerIndex++
	parentOffset := rootOffset

	entry := newEntry(st, txn, hdr)
	entry.TransactionID = fmt.Sprintf("%s/inner/%d", rootID, *innerIndex)
	entry.IntraRoundOffset = *offset
	entry.RootTransactionID = rootID
	entry.ParentIntraRoundOffset = &parentOffset
	entry.RootInnerIndex = *innerIndex
	out = append(out, entry)
	*offset++

	for i := range st.ApplyData.EvalDelta.InnerTxns {
		out = appendInner(out, st.ApplyData.EvalDelta.InnerTxns[i], hdr, rootID, rootOffset, innerIndex, offset)
	}
	return out
}

func newEntry(st sdk.SignedTxnWithAD, txn sdk.Transaction, hdr sdk.BlockHeader) TransactionInBlock {
	var logs [][]byte
	for _, l := range st.ApplyData.EvalDelta.Logs {
		logs = append(logs, []byte(l))
	}
	return TransactionInBlock{
		SignedTxn:        st,
		Transaction:      txn,
		CreatedAssetID:   uint64(st.ApplyData.ConfigAsset),
		CreatedAppID:     uint64(st.ApplyData.ApplicationID),
		AssetCloseAmount: st.ApplyData.AssetClosingAmount,
		CloseAmount:      uint64(st.ApplyData.ClosingAmount),
		SenderRewards:    uint64(st.ApplyData.SenderRewards),
		ReceiverRewards:  uint64(st.ApplyData.ReceiverRewards),
		CloseRewards:     uint64(st.ApplyData.CloseRewards),
		Logs:             logs,
		Round:            uint64(hdr.Round),
		RoundTime:        uint64(hdr.TimeStamp),
	}
}

// ProposerPayoutTransaction synthesizes the payment transaction representing
// the block's proposer payout, sent from the fee sink to the proposer.
func ProposerPayoutTransaction(hdr sdk.BlockHeader) sdk.Transaction {
	return sdk.Transaction{
		Type: sdk.PaymentTx,
		Header: sdk.Header{
			Sender:      hdr.RewardsState.FeeSink,
			FirstValid:  hdr.Round,
			LastValid:   hdr.Round,
			Note:        []byte(fmt.Sprintf("ProposerPayout for round %d", uint64(hdr.Round))),
			GenesisID:   hdr.GenesisID,
			GenesisHash: hdr.GenesisHash,
		},
		PaymentTxnFields: sdk.PaymentTxnFields{
			Receiver: hdr.Proposer,
			Amount:   hdr.ProposerPayout,
		},
	}
}

// Metadata summarizes the block header and transaction counts.
func Metadata(b sdk.Block) types.BlockMetadata {
	hdr := b.BlockHeader

	parentCount := len(b.Payset)
	fullCount := 0
	for i := range b.Payset {
		fullCount += 1 + countInner(b.Payset[i].ApplyData.EvalDelta.InnerTxns)
	}
	if hdr.ProposerPayout > 0 {
		parentCount++
		fullCount++
	}

	md := types.BlockMetadata{
		Round:                  uint64(hdr.Round),
		Hash:                   hashHeader(hdr),
		Timestamp:              hdr.TimeStamp,
		GenesisID:              hdr.GenesisID,
		GenesisHash:            hdr.GenesisHash[:],
		ParentTransactionCount: parentCount,
		FullTransactionCount:   fullCount,
		TxnCounter:             hdr.TxnCounter,
		TransactionsRoot:       hdr.TxnCommitments.NativeSha512_256Commitment[:],
		TransactionsRootSHA256: hdr.TxnCommitments.Sha256Commitment[:],
	}
	if hdr.Branch != (sdk.BlockHash{}) {
		md.PreviousBlockHash = hdr.Branch[:]
	}
	if hdr.Seed != (sdk.Seed{}) {
		md.Seed = hdr.Seed[:]
	}
	if !hdr.Proposer.IsZero() {
		md.Proposer = hdr.Proposer.String()
	}
	md.ProposerPayout = uint64(hdr.ProposerPayout)
	return md
}

func countInner(inners []sdk.SignedTxnWithAD) int {
	n := 0
	for i := range inners {
		n += 1 + countInner(inners[i].ApplyData.EvalDelta.InnerTxns)
	}
	return n
}

func hashHeader(hdr sdk.BlockHeader) string {
	enc := msgpack.Encode(hdr)
	digest := sha512.Sum512_256(append([]byte("BH"), enc...))
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:])
}
