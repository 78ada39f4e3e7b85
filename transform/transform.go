// Package transform normalizes transactions from both sync paths, raw
// consensus blocks and the indexer REST schema, into the common
// SubscribedTransaction model.
package transform

import (
	"errors"
	"fmt"
	"sort"

	sdk "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/0xmhha/subscriber-go/block"
	"github.com/0xmhha/subscriber-go/types"
)

// ErrUnknownTransactionType is returned when a transaction carries a type
// tag the normalizer does not recognize.
var ErrUnknownTransactionType = errors.New("unknown transaction type")

// FromBlockTransaction normalizes a block-decoded transaction, recursively
// including its inner transactions. Inner IDs and offsets continue the
// depth-first numbering established by the block decoder.
func FromBlockTransaction(t block.TransactionInBlock) (*types.SubscribedTransaction, error) {
	rootID := t.RootTransactionID
	if rootID == "" {
		rootID = t.TransactionID
	}
	rootOffset := t.IntraRoundOffset
	if t.ParentIntraRoundOffset != nil {
		rootOffset = *t.ParentIntraRoundOffset
	}

	innerIndex := t.RootInnerIndex
	nextOffset := t.IntraRoundOffset + 1

	return fromSigned(t.SignedTxn, t.Transaction, blockContext{
		round:      t.Round,
		roundTime:  t.RoundTime,
		rootID:     rootID,
		rootOffset: rootOffset,
	}, t.TransactionID, t.IntraRoundOffset, t.RootTransactionID, t.ParentIntraRoundOffset, &innerIndex, &nextOffset)
}

type blockContext struct {
	round      uint64
	roundTime  uint64
	rootID     string
	rootOffset uint64
}

func fromSigned(st sdk.SignedTxnWithAD, txn sdk.Transaction, bc blockContext, id string, offset uint64, parentID string, parentOffset *uint64, innerIndex, nextOffset *uint64) (*types.SubscribedTransaction, error) {
	out := &types.SubscribedTransaction{
		ID:                     id,
		ParentTransactionID:    parentID,
		ParentIntraRoundOffset: parentOffset,
		Sender:                 txn.Sender.String(),
		Fee:                    uint64(txn.Fee),
		FirstValid:             uint64(txn.FirstValid),
		LastValid:              uint64(txn.LastValid),
		ConfirmedRound:         bc.round,
		RoundTime:              bc.roundTime,
		IntraRoundOffset:       offset,
		Type:                   string(txn.Type),
		GenesisID:              txn.GenesisID,
		Note:                   txn.Note,
		RekeyTo:                optAddr(txn.RekeyTo),
		ClosingAmount:          uint64(st.ApplyData.ClosingAmount),
		CreatedAssetID:         uint64(st.ApplyData.ConfigAsset),
		CreatedAppID:           uint64(st.ApplyData.ApplicationID),
		SenderRewards:          uint64(st.ApplyData.SenderRewards),
		ReceiverRewards:        uint64(st.ApplyData.ReceiverRewards),
		CloseRewards:           uint64(st.ApplyData.CloseRewards),
	}
	if txn.GenesisHash != (sdk.Digest{}) {
		out.GenesisHash = txn.GenesisHash[:]
	}
	if txn.Group != (sdk.Digest{}) {
		out.Group = txn.Group[:]
	}
	if txn.Lease != ([32]byte{}) {
		out.Lease = append([]byte(nil), txn.Lease[:]...)
	}
	if !st.SignedTxn.AuthAddr.IsZero() {
		out.AuthAddr = st.SignedTxn.AuthAddr.String()
	}
	for _, l := range st.ApplyData.EvalDelta.Logs {
		out.Logs = append(out.Logs, []byte(l))
	}
	out.Signature = signatureOf(st.SignedTxn)

	switch txn.Type {
	case sdk.PaymentTx:
		out.Payment = &types.PaymentTransaction{
			Amount:           uint64(txn.Amount),
			Receiver:         txn.Receiver.String(),
			CloseAmount:      uint64(st.ApplyData.ClosingAmount),
			CloseRemainderTo: optAddr(txn.CloseRemainderTo),
		}
	case sdk.KeyRegistrationTx:
		out.Keyreg = &types.KeyregTransaction{
			NonParticipation:          txn.Nonparticipation,
			SelectionParticipationKey: optBytes(txn.SelectionPK[:]),
			StateProofKey:             optBytes(txn.StateProofPK[:]),
			VoteParticipationKey:      optBytes(txn.VotePK[:]),
			VoteFirstValid:            uint64(txn.VoteFirst),
			VoteLastValid:             uint64(txn.VoteLast),
			VoteKeyDilution:           txn.VoteKeyDilution,
		}
	case sdk.AssetConfigTx:
		out.AssetConfig = assetConfigOf(txn)
	case sdk.AssetTransferTx:
		out.AssetTransfer = &types.AssetTransferTransaction{
			AssetID:     uint64(txn.XferAsset),
			Amount:      txn.AssetAmount,
			Receiver:    txn.AssetReceiver.String(),
			CloseAmount: st.ApplyData.AssetClosingAmount,
			CloseTo:     optAddr(txn.AssetCloseTo),
			Sender:      optAddr(txn.AssetSender),
		}
	case sdk.AssetFreezeTx:
		out.AssetFreeze = &types.AssetFreezeTransaction{
			Address:         txn.FreezeAccount.String(),
			AssetID:         uint64(txn.FreezeAsset),
			NewFreezeStatus: txn.AssetFrozen,
		}
	case sdk.ApplicationCallTx:
		out.Application = applicationOf(txn)
		out.GlobalStateDelta = globalDeltaOf(st.ApplyData.EvalDelta.GlobalDelta)
		out.LocalStateDelta = localDeltaOf(st.ApplyData.EvalDelta, txn)
	case sdk.StateProofTx:
		out.StateProof = &types.StateProofTransaction{
			StateProofType: uint64(txn.StateProofType),
			Message: &types.StateProofMessage{
				BlockHeadersCommitment: txn.Message.BlockHeadersCommitment,
				VotersCommitment:       txn.Message.VotersCommitment,
				LnProvenWeight:         txn.Message.LnProvenWeight,
				FirstAttestedRound:     txn.Message.FirstAttestedRound,
				LastAttestedRound:      txn.Message.LastAttestedRound,
			},
		}
	case sdk.HeartbeatTx:
		hb := &types.HeartbeatTransaction{}
		if txn.HeartbeatTxnFields != nil {
			hb.Address = txn.HeartbeatTxnFields.HbAddress.String()
			hb.KeyDilution = txn.HeartbeatTxnFields.HbKeyDilution
			hb.Seed = optBytes(txn.HeartbeatTxnFields.HbSeed[:])
			hb.VoteID = optBytes(txn.HeartbeatTxnFields.HbVoteID[:])
		}
		out.Heartbeat = hb
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransactionType, txn.Type)
	}

	for i := range st.ApplyData.EvalDelta.InnerTxns {
		inner := st.ApplyData.EvalDelta.InnerTxns[i]
		itxn := inner.Txn
		itxn.GenesisHash = txn.GenesisHash
		itxn.GenesisID = ""

		*innerIndex++
		childID := fmt.Sprintf("%s/inner/%d", bc.rootID, *innerIndex)
		childOffset := *nextOffset
		*nextOffset++
		rootOffset := bc.rootOffset

		child, err := fromSigned(inner, itxn, bc, childID, childOffset, bc.rootID, &rootOffset, innerIndex, nextOffset)
		if err != nil {
			return nil, err
		}
		out.InnerTxns = append(out.InnerTxns, child)
	}

	return out, nil
}

func assetConfigOf(txn sdk.Transaction) *types.AssetConfigTransaction {
	cfg := &types.AssetConfigTransaction{AssetID: uint64(txn.ConfigAsset)}
	params := txn.AssetParams
	if txn.ConfigAsset != 0 && params == (sdk.AssetParams{}) {
		// Destroy: no params.
		return cfg
	}
	p := &types.AssetParams{
		Total:         params.Total,
		Decimals:      params.Decimals,
		DefaultFrozen: params.DefaultFrozen,
		UnitName:      params.UnitName,
		Name:          params.AssetName,
		URL:           params.URL,
		MetadataHash:  optBytes(params.MetadataHash[:]),
		Manager:       optAddr(params.Manager),
		Reserve:       optAddr(params.Reserve),
		Freeze:        optAddr(params.Freeze),
		Clawback:      optAddr(params.Clawback),
	}
	if txn.ConfigAsset == 0 {
		// Create: the sender becomes the creator.
		p.Creator = txn.Sender.String()
	}
	cfg.Params = p
	return cfg
}

func applicationOf(txn sdk.Transaction) *types.ApplicationTransaction {
	app := &types.ApplicationTransaction{
		ApplicationID:     uint64(txn.ApplicationID),
		OnCompletion:      OnCompleteOf(txn.OnCompletion),
		ApplicationArgs:   txn.ApplicationArgs,
		ApprovalProgram:   txn.ApprovalProgram,
		ClearStateProgram: txn.ClearStateProgram,
		ExtraProgramPages: txn.ExtraProgramPages,
	}
	for _, a := range txn.Accounts {
		app.Accounts = append(app.Accounts, a.String())
		app.Access = append(app.Access, types.ResourceReference{Address: a.String()})
	}
	for _, id := range txn.ForeignApps {
		app.ForeignApps = append(app.ForeignApps, uint64(id))
		app.Access = append(app.Access, types.ResourceReference{App: uint64(id)})
	}
	for _, id := range txn.ForeignAssets {
		app.ForeignAssets = append(app.ForeignAssets, uint64(id))
		app.Access = append(app.Access, types.ResourceReference{Asset: uint64(id)})
	}
	for _, box := range txn.BoxReferences {
		ref := types.BoxReference{Name: box.Name}
		if box.ForeignAppIdx == 0 {
			ref.App = uint64(txn.ApplicationID)
		} else if int(box.ForeignAppIdx) <= len(txn.ForeignApps) {
			ref.App = uint64(txn.ForeignApps[box.ForeignAppIdx-1])
		}
		app.Access = append(app.Access, types.ResourceReference{Box: &ref})
	}
	if txn.GlobalStateSchema != (sdk.StateSchema{}) {
		app.GlobalStateSchema = &types.StateSchema{
			NumUint:      txn.GlobalStateSchema.NumUint,
			NumByteSlice: txn.GlobalStateSchema.NumByteSlice,
		}
	}
	if txn.LocalStateSchema != (sdk.StateSchema{}) {
		app.LocalStateSchema = &types.StateSchema{
			NumUint:      txn.LocalStateSchema.NumUint,
			NumByteSlice: txn.LocalStateSchema.NumByteSlice,
		}
	}
	return app
}

// OnCompleteOf maps the consensus on-completion action to its indexer
// string form.
func OnCompleteOf(oc sdk.OnCompletion) types.OnComplete {
	switch oc {
	case sdk.OptInOC:
		return types.OnCompleteOptIn
	case sdk.CloseOutOC:
		return types.OnCompleteCloseOut
	case sdk.ClearStateOC:
		return types.OnCompleteClear
	case sdk.UpdateApplicationOC:
		return types.OnCompleteUpdate
	case sdk.DeleteApplicationOC:
		return types.OnCompleteDelete
	default:
		return types.OnCompleteNoOp
	}
}

func globalDeltaOf(delta sdk.StateDelta) []types.EvalDeltaKeyValue {
	if len(delta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.EvalDeltaKeyValue, 0, len(keys))
	for _, k := range keys {
		v := delta[k]
		out = append(out, types.EvalDeltaKeyValue{
			Key: []byte(k),
			Value: types.EvalDelta{
				Action: uint64(v.Action),
				Bytes:  []byte(v.Bytes),
				Uint:   v.Uint,
			},
		})
	}
	return out
}

func localDeltaOf(delta sdk.EvalDelta, txn sdk.Transaction) []types.AccountStateDelta {
	if len(delta.LocalDeltas) == 0 {
		return nil
	}
	out := make([]types.AccountStateDelta, 0, len(delta.LocalDeltas))
	for idx, d := range delta.LocalDeltas {
		addr := localDeltaAddress(idx, txn, delta.SharedAccts)
		out = append(out, types.AccountStateDelta{
			Address: addr,
			Delta:   globalDeltaOf(d),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// localDeltaAddress resolves a local-delta account index: 0 is the sender,
// 1..len(accounts) indexes the transaction's account list, and anything
// beyond indexes the shared accounts recorded in the eval delta.
func localDeltaAddress(idx uint64, txn sdk.Transaction, shared []sdk.Address) string {
	if idx == 0 {
		return txn.Sender.String()
	}
	if int(idx) <= len(txn.Accounts) {
		return txn.Accounts[idx-1].String()
	}
	sharedIdx := int(idx) - 1 - len(txn.Accounts)
	if sharedIdx < len(shared) {
		return shared[sharedIdx].String()
	}
	return ""
}

func signatureOf(st sdk.SignedTxn) *types.TransactionSignature {
	sig := &types.TransactionSignature{}
	populated := false
	if st.Sig != (sdk.Signature{}) {
		sig.Sig = append([]byte(nil), st.Sig[:]...)
		populated = true
	}
	if !st.Msig.Blank() {
		sig.Multisig = multisigOf(st.Msig)
		populated = true
	}
	if !st.Lsig.Blank() {
		ls := &types.LogicSignature{
			Logic: st.Lsig.Logic,
			Args:  st.Lsig.Args,
		}
		if st.Lsig.Sig != (sdk.Signature{}) {
			ls.Signature = append([]byte(nil), st.Lsig.Sig[:]...)
		}
		if !st.Lsig.Msig.Blank() {
			ls.Multisig = multisigOf(st.Lsig.Msig)
		}
		sig.Logicsig = ls
		populated = true
	}
	if !populated {
		return nil
	}
	return sig
}

func multisigOf(msig sdk.MultisigSig) *types.MultisigSignature {
	out := &types.MultisigSignature{
		Version:   msig.Version,
		Threshold: msig.Threshold,
	}
	for _, sub := range msig.Subsigs {
		s := types.MultisigSubsignature{PublicKey: append([]byte(nil), sub.Key...)}
		if sub.Sig != (sdk.Signature{}) {
			s.Signature = append([]byte(nil), sub.Sig[:]...)
		}
		out.Subsignatures = append(out.Subsignatures, s)
	}
	return out
}

func optAddr(a sdk.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func optBytes(b []byte) []byte {
	for _, c := range b {
		if c != 0 {
			return append([]byte(nil), b...)
		}
	}
	return nil
}
