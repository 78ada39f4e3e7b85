package subscription

import (
	"math/big"

	"github.com/0xmhha/subscriber-go/types"
)

// ExtractBalanceChanges derives the per-address, per-asset signed balance
// movements attributable to one normalized transaction. Changes to the same
// (address, asset) pair are merged by summing amounts and unioning roles.
// Amounts use big.Int because asset supplies exceed 53-bit precision.
func ExtractBalanceChanges(txn *types.SubscribedTransaction) []types.BalanceChange {
	var changes []types.BalanceChange

	if txn.Fee > 0 {
		changes = append(changes, types.BalanceChange{
			Address: txn.Sender,
			AssetID: 0,
			Amount:  new(big.Int).Neg(new(big.Int).SetUint64(txn.Fee)),
			Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleSender},
		})
	}

	switch {
	case txn.Payment != nil:
		pay := txn.Payment
		amount := new(big.Int).SetUint64(pay.Amount)
		changes = append(changes,
			types.BalanceChange{
				Address: txn.Sender,
				AssetID: 0,
				Amount:  new(big.Int).Neg(amount),
				Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleSender},
			},
			types.BalanceChange{
				Address: pay.Receiver,
				AssetID: 0,
				Amount:  amount,
				Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleReceiver},
			},
		)
		if pay.CloseRemainderTo != "" {
			closeAmount := new(big.Int).SetUint64(pay.CloseAmount)
			changes = append(changes,
				types.BalanceChange{
					Address: pay.CloseRemainderTo,
					AssetID: 0,
					Amount:  closeAmount,
					Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleCloseTo},
				},
				types.BalanceChange{
					Address: txn.Sender,
					AssetID: 0,
					Amount:  new(big.Int).Neg(closeAmount),
					Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleSender},
				},
			)
		}

	case txn.AssetTransfer != nil:
		xfer := txn.AssetTransfer
		// The effective sender of a clawback transfer is the account the
		// assets are taken from, not the clawback caller.
		sender := xfer.Sender
		if sender == "" {
			sender = txn.Sender
		}
		amount := new(big.Int).SetUint64(xfer.Amount)
		changes = append(changes,
			types.BalanceChange{
				Address: sender,
				AssetID: xfer.AssetID,
				Amount:  new(big.Int).Neg(amount),
				Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleSender},
			},
			types.BalanceChange{
				Address: xfer.Receiver,
				AssetID: xfer.AssetID,
				Amount:  amount,
				Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleReceiver},
			},
		)
		if xfer.CloseTo != "" {
			closeAmount := new(big.Int).SetUint64(xfer.CloseAmount)
			changes = append(changes,
				types.BalanceChange{
					Address: xfer.CloseTo,
					AssetID: xfer.AssetID,
					Amount:  closeAmount,
					Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleCloseTo},
				},
				types.BalanceChange{
					Address: sender,
					AssetID: xfer.AssetID,
					Amount:  new(big.Int).Neg(closeAmount),
					Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleSender},
				},
			)
		}

	case txn.AssetConfig != nil:
		cfg := txn.AssetConfig
		if cfg.AssetID == 0 && txn.CreatedAssetID != 0 && cfg.Params != nil {
			changes = append(changes, types.BalanceChange{
				Address: txn.Sender,
				AssetID: txn.CreatedAssetID,
				Amount:  new(big.Int).SetUint64(cfg.Params.Total),
				Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleAssetCreator},
			})
		} else if cfg.AssetID != 0 && cfg.Params == nil {
			changes = append(changes, types.BalanceChange{
				Address: txn.Sender,
				AssetID: cfg.AssetID,
				Amount:  new(big.Int),
				Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleAssetDestroyer},
			})
		}
	}

	return mergeBalanceChanges(changes)
}

// mergeBalanceChanges sums changes to the same (address, asset) pair and
// unions their roles, each role added once in first-seen order.
func mergeBalanceChanges(changes []types.BalanceChange) []types.BalanceChange {
	if len(changes) == 0 {
		return nil
	}

	type key struct {
		address string
		assetID uint64
	}
	index := make(map[key]int)
	merged := make([]types.BalanceChange, 0, len(changes))

	for _, change := range changes {
		k := key{change.Address, change.AssetID}
		i, ok := index[k]
		if !ok {
			index[k] = len(merged)
			merged = append(merged, types.BalanceChange{
				Address: change.Address,
				AssetID: change.AssetID,
				Amount:  new(big.Int).Set(change.Amount),
				Roles:   append([]types.BalanceChangeRole(nil), change.Roles...),
			})
			continue
		}
		merged[i].Amount.Add(merged[i].Amount, change.Amount)
		for _, role := range change.Roles {
			if !merged[i].HasRole(role) {
				merged[i].Roles = append(merged[i].Roles, role)
			}
		}
	}

	return merged
}

// matchesBalanceChanges reports whether any derived change satisfies every
// constraint of any single filter entry.
func matchesBalanceChanges(filters []types.BalanceChangeFilter, changes []types.BalanceChange) bool {
	for _, f := range filters {
		for i := range changes {
			if balanceChangeMatches(f, &changes[i]) {
				return true
			}
		}
	}
	return false
}

func balanceChangeMatches(f types.BalanceChangeFilter, change *types.BalanceChange) bool {
	if len(f.Address) > 0 && !containsString(f.Address, change.Address) {
		return false
	}
	if len(f.AssetID) > 0 && !containsUint64(f.AssetID, change.AssetID) {
		return false
	}
	if len(f.Role) > 0 {
		found := false
		for _, role := range f.Role {
			if change.HasRole(role) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinAmount != nil && change.Amount.Cmp(f.MinAmount) < 0 {
		return false
	}
	if f.MaxAmount != nil && change.Amount.Cmp(f.MaxAmount) > 0 {
		return false
	}
	if f.MinAbsoluteAmount != nil || f.MaxAbsoluteAmount != nil {
		abs := new(big.Int).Abs(change.Amount)
		if f.MinAbsoluteAmount != nil && abs.Cmp(f.MinAbsoluteAmount) < 0 {
			return false
		}
		if f.MaxAbsoluteAmount != nil && abs.Cmp(f.MaxAbsoluteAmount) > 0 {
			return false
		}
	}
	return true
}
