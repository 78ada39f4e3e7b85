package subscription

import (
	"bytes"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/abi"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/0xmhha/subscriber-go/block"
	"github.com/0xmhha/subscriber-go/transform"
	"github.com/0xmhha/subscriber-go/types"
)

// compiledFilter is a named filter with its method selectors precomputed
// once per poll.
type compiledFilter struct {
	name      string
	filter    types.TransactionFilter
	selectors [][]byte
}

// compileFilters validates the named filters and precomputes each method
// signature's 4-byte ARC-4 selector.
func compileFilters(filters []types.NamedTransactionFilter) ([]compiledFilter, error) {
	out := make([]compiledFilter, 0, len(filters))
	for _, nf := range filters {
		compiled := compiledFilter{name: nf.Name, filter: nf.Filter}
		for _, sig := range nf.Filter.MethodSignature {
			method, err := abi.MethodFromSignature(sig)
			if err != nil {
				return nil, fmt.Errorf("compiling filter %q method signature %q: %w", nf.Name, sig, err)
			}
			compiled.selectors = append(compiled.selectors, method.GetSelector())
		}
		out = append(out, compiled)
	}
	return out, nil
}

// lazyNormalized memoizes the normalized view of a block transaction so the
// expensive construction only happens when a filter term needs it.
type lazyNormalized struct {
	source  block.TransactionInBlock
	txn     *types.SubscribedTransaction
	changes []types.BalanceChange
	err     error
	done    bool
}

func (l *lazyNormalized) get() (*types.SubscribedTransaction, error) {
	if !l.done {
		l.txn, l.err = transform.FromBlockTransaction(l.source)
		l.done = true
	}
	return l.txn, l.err
}

func (l *lazyNormalized) balanceChanges() ([]types.BalanceChange, error) {
	txn, err := l.get()
	if err != nil {
		return nil, err
	}
	if l.changes == nil {
		l.changes = ExtractBalanceChanges(txn)
	}
	return l.changes, nil
}

// matchesBlockTransaction evaluates a filter against a raw block-decoded
// transaction. It must agree with matchesSubscribedTransaction for the same
// logical transaction.
func matchesBlockTransaction(f *compiledFilter, t *block.TransactionInBlock, reg *arc28Registry, lazy *lazyNormalized) (bool, error) {
	filter := &f.filter
	txn := &t.Transaction

	if len(filter.Type) > 0 && !containsString(filter.Type, string(txn.Type)) {
		return false, nil
	}
	if len(filter.Sender) > 0 && !containsString(filter.Sender, txn.Sender.String()) {
		return false, nil
	}
	if len(filter.Receiver) > 0 {
		var receiver string
		switch txn.Type {
		case sdk.PaymentTx:
			receiver = txn.Receiver.String()
		case sdk.AssetTransferTx:
			receiver = txn.AssetReceiver.String()
		}
		if receiver == "" || !containsString(filter.Receiver, receiver) {
			return false, nil
		}
	}
	if len(filter.NotePrefix) > 0 && !bytes.HasPrefix(txn.Note, filter.NotePrefix) {
		return false, nil
	}
	if len(filter.AppID) > 0 {
		appID := uint64(txn.ApplicationID)
		if appID == 0 {
			appID = t.CreatedAppID
		}
		if txn.Type != sdk.ApplicationCallTx || !containsUint64(filter.AppID, appID) {
			return false, nil
		}
	}
	if len(filter.AssetID) > 0 && !matchesBlockAssetID(filter.AssetID, t) {
		return false, nil
	}
	if filter.AppCreate != nil {
		isCreate := txn.Type == sdk.ApplicationCallTx && txn.ApplicationID == 0
		if isCreate != *filter.AppCreate {
			return false, nil
		}
	}
	if filter.AssetCreate != nil {
		isCreate := txn.Type == sdk.AssetConfigTx && txn.ConfigAsset == 0
		if isCreate != *filter.AssetCreate {
			return false, nil
		}
	}
	if len(filter.AppOnComplete) > 0 {
		if txn.Type != sdk.ApplicationCallTx ||
			!containsString(filter.AppOnComplete, string(transform.OnCompleteOf(txn.OnCompletion))) {
			return false, nil
		}
	}
	if filter.MinAmount != nil || filter.MaxAmount != nil {
		var amount uint64
		switch txn.Type {
		case sdk.PaymentTx:
			amount = uint64(txn.Amount)
		case sdk.AssetTransferTx:
			amount = txn.AssetAmount
		default:
			return false, nil
		}
		if filter.MinAmount != nil && amount < *filter.MinAmount {
			return false, nil
		}
		if filter.MaxAmount != nil && amount > *filter.MaxAmount {
			return false, nil
		}
	}
	if len(f.selectors) > 0 {
		if txn.Type != sdk.ApplicationCallTx || !matchesSelector(f.selectors, txn.ApplicationArgs) {
			return false, nil
		}
	}
	if filter.AppCallArgumentsMatch != nil && !filter.AppCallArgumentsMatch(txn.ApplicationArgs) {
		return false, nil
	}
	if len(filter.Arc28Events) > 0 {
		if txn.Type != sdk.ApplicationCallTx {
			return false, nil
		}
		ok, err := reg.hasEmittedEvent(filter.Arc28Events, t.Logs, lazy.get)
		if err != nil || !ok {
			return ok, err
		}
	}
	if len(filter.BalanceChanges) > 0 {
		changes, err := lazy.balanceChanges()
		if err != nil {
			return false, err
		}
		if !matchesBalanceChanges(filter.BalanceChanges, changes) {
			return false, nil
		}
	}
	if filter.CustomFilter != nil {
		normalized, err := lazy.get()
		if err != nil {
			return false, err
		}
		if !filter.CustomFilter(normalized) {
			return false, nil
		}
	}
	return true, nil
}

func matchesBlockAssetID(ids []uint64, t *block.TransactionInBlock) bool {
	txn := &t.Transaction
	switch txn.Type {
	case sdk.AssetTransferTx:
		return containsUint64(ids, uint64(txn.XferAsset))
	case sdk.AssetFreezeTx:
		return containsUint64(ids, uint64(txn.FreezeAsset))
	case sdk.AssetConfigTx:
		assetID := uint64(txn.ConfigAsset)
		if assetID == 0 {
			assetID = t.CreatedAssetID
		}
		return containsUint64(ids, assetID)
	default:
		return false
	}
}

// matchesSubscribedTransaction evaluates a filter against a normalized
// transaction, the indexer-path counterpart of matchesBlockTransaction.
func matchesSubscribedTransaction(f *compiledFilter, txn *types.SubscribedTransaction, reg *arc28Registry) (bool, error) {
	filter := &f.filter

	if len(filter.Type) > 0 && !containsString(filter.Type, txn.Type) {
		return false, nil
	}
	if len(filter.Sender) > 0 && !containsString(filter.Sender, txn.Sender) {
		return false, nil
	}
	if len(filter.Receiver) > 0 {
		var receiver string
		if txn.Payment != nil {
			receiver = txn.Payment.Receiver
		} else if txn.AssetTransfer != nil {
			receiver = txn.AssetTransfer.Receiver
		}
		if receiver == "" || !containsString(filter.Receiver, receiver) {
			return false, nil
		}
	}
	if len(filter.NotePrefix) > 0 && !bytes.HasPrefix(txn.Note, filter.NotePrefix) {
		return false, nil
	}
	if len(filter.AppID) > 0 {
		if txn.Application == nil || !containsUint64(filter.AppID, effectiveAppID(txn)) {
			return false, nil
		}
	}
	if len(filter.AssetID) > 0 && !matchesSubscribedAssetID(filter.AssetID, txn) {
		return false, nil
	}
	if filter.AppCreate != nil {
		isCreate := txn.Application != nil && txn.Application.ApplicationID == 0
		if isCreate != *filter.AppCreate {
			return false, nil
		}
	}
	if filter.AssetCreate != nil {
		isCreate := txn.AssetConfig != nil && txn.AssetConfig.AssetID == 0
		if isCreate != *filter.AssetCreate {
			return false, nil
		}
	}
	if len(filter.AppOnComplete) > 0 {
		if txn.Application == nil || !containsString(filter.AppOnComplete, string(txn.Application.OnCompletion)) {
			return false, nil
		}
	}
	if filter.MinAmount != nil || filter.MaxAmount != nil {
		var amount uint64
		switch {
		case txn.Payment != nil:
			amount = txn.Payment.Amount
		case txn.AssetTransfer != nil:
			amount = txn.AssetTransfer.Amount
		default:
			return false, nil
		}
		if filter.MinAmount != nil && amount < *filter.MinAmount {
			return false, nil
		}
		if filter.MaxAmount != nil && amount > *filter.MaxAmount {
			return false, nil
		}
	}
	if len(f.selectors) > 0 {
		if txn.Application == nil || !matchesSelector(f.selectors, txn.Application.ApplicationArgs) {
			return false, nil
		}
	}
	if filter.AppCallArgumentsMatch != nil {
		var args [][]byte
		if txn.Application != nil {
			args = txn.Application.ApplicationArgs
		}
		if !filter.AppCallArgumentsMatch(args) {
			return false, nil
		}
	}
	if len(filter.Arc28Events) > 0 {
		if txn.Application == nil {
			return false, nil
		}
		ok, err := reg.hasEmittedEvent(filter.Arc28Events, txn.Logs, func() (*types.SubscribedTransaction, error) {
			return txn, nil
		})
		if err != nil || !ok {
			return ok, err
		}
	}
	if len(filter.BalanceChanges) > 0 {
		changes := txn.BalanceChanges
		if changes == nil {
			changes = ExtractBalanceChanges(txn)
		}
		if !matchesBalanceChanges(filter.BalanceChanges, changes) {
			return false, nil
		}
	}
	if filter.CustomFilter != nil && !filter.CustomFilter(txn) {
		return false, nil
	}
	return true, nil
}

func matchesSubscribedAssetID(ids []uint64, txn *types.SubscribedTransaction) bool {
	switch {
	case txn.AssetTransfer != nil:
		return containsUint64(ids, txn.AssetTransfer.AssetID)
	case txn.AssetFreeze != nil:
		return containsUint64(ids, txn.AssetFreeze.AssetID)
	case txn.AssetConfig != nil:
		assetID := txn.AssetConfig.AssetID
		if assetID == 0 {
			assetID = txn.CreatedAssetID
		}
		return containsUint64(ids, assetID)
	default:
		return false
	}
}

// matchesSelector reports whether the first application argument equals any
// of the precomputed 4-byte method selectors.
func matchesSelector(selectors [][]byte, args [][]byte) bool {
	if len(args) == 0 {
		return false
	}
	for _, selector := range selectors {
		if bytes.Equal(args[0], selector) {
			return true
		}
	}
	return false
}

func containsString(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

func containsUint64(set []uint64, value uint64) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}
