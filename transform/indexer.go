package transform

import (
	"encoding/base64"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"

	"github.com/0xmhha/subscriber-go/types"
)

// FromIndexerTransaction normalizes an indexer REST transaction, recursively
// including its inner transactions. The indexer does not assign IDs or
// offsets to inner transactions, so they are derived from the root the same
// way the block decoder derives them: `{rootId}/inner/{n}` with n counting
// the root's subtree depth-first, offsets continuing from the root's.
func FromIndexerTransaction(txn models.Transaction) (*types.SubscribedTransaction, error) {
	innerIndex := uint64(0)
	return fromIndexer(txn, txn.Id, txn.IntraRoundOffset, "", nil, txn.Id, txn.IntraRoundOffset, &innerIndex)
}

func fromIndexer(txn models.Transaction, id string, offset uint64, parentID string, parentOffset *uint64, rootID string, rootOffset uint64, innerIndex *uint64) (*types.SubscribedTransaction, error) {
	out := &types.SubscribedTransaction{
		ID:                     id,
		ParentTransactionID:    parentID,
		ParentIntraRoundOffset: parentOffset,
		Sender:                 txn.Sender,
		Fee:                    txn.Fee,
		FirstValid:             txn.FirstValid,
		LastValid:              txn.LastValid,
		ConfirmedRound:         txn.ConfirmedRound,
		RoundTime:              txn.RoundTime,
		IntraRoundOffset:       offset,
		Type:                   txn.Type,
		GenesisID:              txn.GenesisId,
		GenesisHash:            txn.GenesisHash,
		Group:                  txn.Group,
		Note:                   txn.Note,
		Lease:                  txn.Lease,
		RekeyTo:                txn.RekeyTo,
		AuthAddr:               txn.AuthAddr,
		ClosingAmount:          txn.ClosingAmount,
		CreatedAssetID:         txn.CreatedAssetIndex,
		CreatedAppID:           txn.CreatedApplicationIndex,
		Logs:                   txn.Logs,
		SenderRewards:          txn.SenderRewards,
		ReceiverRewards:        txn.ReceiverRewards,
		CloseRewards:           txn.CloseRewards,
		Signature:              indexerSignatureOf(txn.Signature),
	}

	switch txn.Type {
	case "pay":
		out.Payment = &types.PaymentTransaction{
			Amount:           txn.PaymentTransaction.Amount,
			Receiver:         txn.PaymentTransaction.Receiver,
			CloseAmount:      txn.PaymentTransaction.CloseAmount,
			CloseRemainderTo: txn.PaymentTransaction.CloseRemainderTo,
		}
	case "keyreg":
		out.Keyreg = &types.KeyregTransaction{
			NonParticipation:          txn.KeyregTransaction.NonParticipation,
			SelectionParticipationKey: txn.KeyregTransaction.SelectionParticipationKey,
			StateProofKey:             txn.KeyregTransaction.StateProofKey,
			VoteParticipationKey:      txn.KeyregTransaction.VoteParticipationKey,
			VoteFirstValid:            txn.KeyregTransaction.VoteFirstValid,
			VoteLastValid:             txn.KeyregTransaction.VoteLastValid,
			VoteKeyDilution:           txn.KeyregTransaction.VoteKeyDilution,
		}
	case "acfg":
		out.AssetConfig = indexerAssetConfigOf(txn.AssetConfigTransaction)
	case "axfer":
		out.AssetTransfer = &types.AssetTransferTransaction{
			AssetID:     txn.AssetTransferTransaction.AssetId,
			Amount:      txn.AssetTransferTransaction.Amount,
			Receiver:    txn.AssetTransferTransaction.Receiver,
			CloseAmount: txn.AssetTransferTransaction.CloseAmount,
			CloseTo:     txn.AssetTransferTransaction.CloseTo,
			Sender:      txn.AssetTransferTransaction.Sender,
		}
	case "afrz":
		out.AssetFreeze = &types.AssetFreezeTransaction{
			Address:         txn.AssetFreezeTransaction.Address,
			AssetID:         txn.AssetFreezeTransaction.AssetId,
			NewFreezeStatus: txn.AssetFreezeTransaction.NewFreezeStatus,
		}
	case "appl":
		out.Application = indexerApplicationOf(txn.ApplicationTransaction)
		out.GlobalStateDelta = indexerKeyValuesOf(txn.GlobalStateDelta)
		for _, d := range txn.LocalStateDelta {
			out.LocalStateDelta = append(out.LocalStateDelta, types.AccountStateDelta{
				Address: d.Address,
				Delta:   indexerKeyValuesOf(d.Delta),
			})
		}
	case "stpf":
		out.StateProof = &types.StateProofTransaction{
			StateProofType: txn.StateProofTransaction.StateProofType,
			Message: &types.StateProofMessage{
				BlockHeadersCommitment: txn.StateProofTransaction.Message.BlockHeadersCommitment,
				VotersCommitment:       txn.StateProofTransaction.Message.VotersCommitment,
				LnProvenWeight:         txn.StateProofTransaction.Message.LnProvenWeight,
				FirstAttestedRound:     txn.StateProofTransaction.Message.FirstAttestedRound,
				LastAttestedRound:      txn.StateProofTransaction.Message.LatestAttestedRound,
			},
		}
	case "hb":
		out.Heartbeat = &types.HeartbeatTransaction{
			Address:     txn.HeartbeatTransaction.HbAddress,
			KeyDilution: txn.HeartbeatTransaction.HbKeyDilution,
			Seed:        txn.HeartbeatTransaction.HbSeed,
			VoteID:      txn.HeartbeatTransaction.HbVoteId,
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransactionType, txn.Type)
	}

	for i := range txn.InnerTxns {
		*innerIndex++
		childID := fmt.Sprintf("%s/inner/%d", rootID, *innerIndex)
		childOffset := rootOffset + *innerIndex
		rootOff := rootOffset
		child, err := fromIndexer(txn.InnerTxns[i], childID, childOffset, rootID, &rootOff, rootID, rootOffset, innerIndex)
		if err != nil {
			return nil, err
		}
		out.InnerTxns = append(out.InnerTxns, child)
	}

	return out, nil
}

func indexerAssetConfigOf(cfg models.TransactionAssetConfig) *types.AssetConfigTransaction {
	out := &types.AssetConfigTransaction{AssetID: cfg.AssetId}
	p := cfg.Params
	if cfg.AssetId != 0 && isZeroIndexerAssetParams(p) {
		return out
	}
	out.Params = &types.AssetParams{
		Creator:       p.Creator,
		Total:         p.Total,
		Decimals:      uint32(p.Decimals),
		DefaultFrozen: p.DefaultFrozen,
		UnitName:      p.UnitName,
		Name:          p.Name,
		URL:           p.Url,
		MetadataHash:  p.MetadataHash,
		Manager:       p.Manager,
		Reserve:       p.Reserve,
		Freeze:        p.Freeze,
		Clawback:      p.Clawback,
	}
	return out
}

func isZeroIndexerAssetParams(p models.AssetParams) bool {
	return p.Creator == "" && p.Manager == "" && p.Reserve == "" && p.Freeze == "" &&
		p.Clawback == "" && p.Total == 0 && p.Decimals == 0 && p.UnitName == "" &&
		p.Name == "" && p.Url == "" && len(p.MetadataHash) == 0 && !p.DefaultFrozen
}

func indexerApplicationOf(app models.TransactionApplication) *types.ApplicationTransaction {
	out := &types.ApplicationTransaction{
		ApplicationID:     app.ApplicationId,
		OnCompletion:      types.OnComplete(app.OnCompletion),
		ApplicationArgs:   app.ApplicationArgs,
		Accounts:          app.Accounts,
		ForeignApps:       app.ForeignApps,
		ForeignAssets:     app.ForeignAssets,
		ApprovalProgram:   app.ApprovalProgram,
		ClearStateProgram: app.ClearStateProgram,
		ExtraProgramPages: uint32(app.ExtraProgramPages),
	}
	for _, a := range app.Accounts {
		out.Access = append(out.Access, types.ResourceReference{Address: a})
	}
	for _, id := range app.ForeignApps {
		out.Access = append(out.Access, types.ResourceReference{App: id})
	}
	for _, id := range app.ForeignAssets {
		out.Access = append(out.Access, types.ResourceReference{Asset: id})
	}
	if app.GlobalStateSchema != (models.StateSchema{}) {
		out.GlobalStateSchema = &types.StateSchema{
			NumUint:      app.GlobalStateSchema.NumUint,
			NumByteSlice: app.GlobalStateSchema.NumByteSlice,
		}
	}
	if app.LocalStateSchema != (models.StateSchema{}) {
		out.LocalStateSchema = &types.StateSchema{
			NumUint:      app.LocalStateSchema.NumUint,
			NumByteSlice: app.LocalStateSchema.NumByteSlice,
		}
	}
	return out
}

func indexerKeyValuesOf(kvs []models.EvalDeltaKeyValue) []types.EvalDeltaKeyValue {
	out := make([]types.EvalDeltaKeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, types.EvalDeltaKeyValue{
			Key: decodeB64(kv.Key),
			Value: types.EvalDelta{
				Action: kv.Value.Action,
				Bytes:  decodeB64(kv.Value.Bytes),
				Uint:   kv.Value.Uint,
			},
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// decodeB64 decodes the base64 strings the indexer uses for state keys and
// byte values, falling back to the raw string when it is not valid base64.
func decodeB64(s string) []byte {
	if s == "" {
		return nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}

func indexerSignatureOf(sig models.TransactionSignature) *types.TransactionSignature {
	out := &types.TransactionSignature{}
	populated := false
	if len(sig.Sig) > 0 {
		out.Sig = sig.Sig
		populated = true
	}
	if sig.Multisig.Version != 0 || len(sig.Multisig.Subsignature) > 0 {
		out.Multisig = indexerMultisigOf(sig.Multisig)
		populated = true
	}
	if len(sig.Logicsig.Logic) > 0 {
		ls := &types.LogicSignature{
			Logic:     sig.Logicsig.Logic,
			Args:      sig.Logicsig.Args,
			Signature: sig.Logicsig.Signature,
		}
		if sig.Logicsig.MultisigSignature.Version != 0 || len(sig.Logicsig.MultisigSignature.Subsignature) > 0 {
			ls.Multisig = indexerMultisigOf(sig.Logicsig.MultisigSignature)
		}
		out.Logicsig = ls
		populated = true
	}
	if !populated {
		return nil
	}
	return out
}

func indexerMultisigOf(msig models.TransactionSignatureMultisig) *types.MultisigSignature {
	out := &types.MultisigSignature{
		Version:   uint8(msig.Version),
		Threshold: uint8(msig.Threshold),
	}
	for _, sub := range msig.Subsignature {
		out.Subsignatures = append(out.Subsignatures, types.MultisigSubsignature{
			PublicKey: sub.PublicKey,
			Signature: sub.Signature,
		})
	}
	return out
}
