package subscription

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/subscriber-go/types"
)

func findChange(t *testing.T, changes []types.BalanceChange, address string, assetID uint64) types.BalanceChange {
	t.Helper()
	for _, c := range changes {
		if c.Address == address && c.AssetID == assetID {
			return c
		}
	}
	t.Fatalf("no change for %s asset %d", address, assetID)
	return types.BalanceChange{}
}

func TestExtractBalanceChangesPayment(t *testing.T) {
	txn := &types.SubscribedTransaction{
		Type:   "pay",
		Sender: "ADDRA",
		Fee:    1000,
		Payment: &types.PaymentTransaction{
			Amount:   1000,
			Receiver: "ADDRB",
		},
	}

	changes := ExtractBalanceChanges(txn)
	require.Len(t, changes, 2)

	// Fee and amount merge into a single sender debit.
	sender := findChange(t, changes, "ADDRA", 0)
	assert.Equal(t, int64(-2000), sender.Amount.Int64())
	assert.Equal(t, []types.BalanceChangeRole{types.BalanceChangeRoleSender}, sender.Roles)

	receiver := findChange(t, changes, "ADDRB", 0)
	assert.Equal(t, int64(1000), receiver.Amount.Int64())
	assert.Equal(t, []types.BalanceChangeRole{types.BalanceChangeRoleReceiver}, receiver.Roles)
}

func TestExtractBalanceChangesSelfPayment(t *testing.T) {
	// A zero self-payment still yields one entry carrying both roles.
	txn := &types.SubscribedTransaction{
		Type:   "pay",
		Sender: "ADDRA",
		Fee:    1000,
		Payment: &types.PaymentTransaction{
			Amount:   0,
			Receiver: "ADDRA",
		},
	}

	changes := ExtractBalanceChanges(txn)
	require.Len(t, changes, 1)
	assert.Equal(t, int64(-1000), changes[0].Amount.Int64())
	assert.True(t, changes[0].HasRole(types.BalanceChangeRoleSender))
	assert.True(t, changes[0].HasRole(types.BalanceChangeRoleReceiver))
}

func TestExtractBalanceChangesPaymentClose(t *testing.T) {
	txn := &types.SubscribedTransaction{
		Type:   "pay",
		Sender: "ADDRA",
		Fee:    1000,
		Payment: &types.PaymentTransaction{
			Amount:           500,
			Receiver:         "ADDRB",
			CloseRemainderTo: "ADDRC",
			CloseAmount:      2500,
		},
	}

	changes := ExtractBalanceChanges(txn)
	require.Len(t, changes, 3)

	sender := findChange(t, changes, "ADDRA", 0)
	assert.Equal(t, int64(-4000), sender.Amount.Int64())

	closeTo := findChange(t, changes, "ADDRC", 0)
	assert.Equal(t, int64(2500), closeTo.Amount.Int64())
	assert.Equal(t, []types.BalanceChangeRole{types.BalanceChangeRoleCloseTo}, closeTo.Roles)
}

func TestExtractBalanceChangesClawback(t *testing.T) {
	// Clawback transfers debit the revocation target, not the caller. The
	// caller still pays the fee.
	txn := &types.SubscribedTransaction{
		Type:   "axfer",
		Sender: "CLAWBACK",
		Fee:    1000,
		AssetTransfer: &types.AssetTransferTransaction{
			AssetID:  77,
			Amount:   300,
			Sender:   "VICTIM",
			Receiver: "ADDRB",
		},
	}

	changes := ExtractBalanceChanges(txn)
	require.Len(t, changes, 3)

	caller := findChange(t, changes, "CLAWBACK", 0)
	assert.Equal(t, int64(-1000), caller.Amount.Int64())

	victim := findChange(t, changes, "VICTIM", 77)
	assert.Equal(t, int64(-300), victim.Amount.Int64())
	assert.Equal(t, []types.BalanceChangeRole{types.BalanceChangeRoleSender}, victim.Roles)

	receiver := findChange(t, changes, "ADDRB", 77)
	assert.Equal(t, int64(300), receiver.Amount.Int64())
}

func TestExtractBalanceChangesOptIn(t *testing.T) {
	// An opt-in is a zero self-transfer; the entry keeps both roles so
	// role-scoped filters can still see it.
	txn := &types.SubscribedTransaction{
		Type:   "axfer",
		Sender: "ADDRA",
		AssetTransfer: &types.AssetTransferTransaction{
			AssetID:  77,
			Amount:   0,
			Receiver: "ADDRA",
		},
	}

	changes := ExtractBalanceChanges(txn)
	require.Len(t, changes, 1)
	assert.Equal(t, uint64(77), changes[0].AssetID)
	assert.Zero(t, changes[0].Amount.Sign())
	assert.True(t, changes[0].HasRole(types.BalanceChangeRoleSender))
	assert.True(t, changes[0].HasRole(types.BalanceChangeRoleReceiver))
}

func TestExtractBalanceChangesAssetCreate(t *testing.T) {
	// Supplies exceed 53-bit precision, so amounts must survive untruncated.
	const total = uint64(135_640_597_783_270_612)
	txn := &types.SubscribedTransaction{
		Type:           "acfg",
		Sender:         "CREATOR",
		Fee:            1000,
		CreatedAssetID: 9000,
		AssetConfig: &types.AssetConfigTransaction{
			AssetID: 0,
			Params:  &types.AssetParams{Total: total, Creator: "CREATOR"},
		},
	}

	changes := ExtractBalanceChanges(txn)
	require.Len(t, changes, 2)

	created := findChange(t, changes, "CREATOR", 9000)
	assert.Equal(t, new(big.Int).SetUint64(total), created.Amount)
	assert.Equal(t, []types.BalanceChangeRole{types.BalanceChangeRoleAssetCreator}, created.Roles)
}

func TestExtractBalanceChangesAssetDestroy(t *testing.T) {
	txn := &types.SubscribedTransaction{
		Type:        "acfg",
		Sender:      "CREATOR",
		Fee:         1000,
		AssetConfig: &types.AssetConfigTransaction{AssetID: 9000},
	}

	changes := ExtractBalanceChanges(txn)
	require.Len(t, changes, 2)

	destroyed := findChange(t, changes, "CREATOR", 9000)
	assert.Zero(t, destroyed.Amount.Sign())
	assert.Equal(t, []types.BalanceChangeRole{types.BalanceChangeRoleAssetDestroyer}, destroyed.Roles)
}

func TestMatchesBalanceChanges(t *testing.T) {
	changes := []types.BalanceChange{
		{
			Address: "ADDRA",
			AssetID: 0,
			Amount:  big.NewInt(-2000),
			Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleSender},
		},
		{
			Address: "ADDRB",
			AssetID: 0,
			Amount:  big.NewInt(1000),
			Roles:   []types.BalanceChangeRole{types.BalanceChangeRoleReceiver},
		},
	}

	tests := []struct {
		name   string
		filter types.BalanceChangeFilter
		want   bool
	}{
		{
			name:   "address match",
			filter: types.BalanceChangeFilter{Address: []string{"ADDRB"}},
			want:   true,
		},
		{
			name:   "address miss",
			filter: types.BalanceChangeFilter{Address: []string{"ADDRC"}},
			want:   false,
		},
		{
			name: "signed range excludes debits",
			filter: types.BalanceChangeFilter{
				MinAmount: big.NewInt(0),
			},
			want: true,
		},
		{
			name: "signed range scoped to the debited address",
			filter: types.BalanceChangeFilter{
				Address:   []string{"ADDRA"},
				MinAmount: big.NewInt(0),
			},
			want: false,
		},
		{
			name: "absolute range sees the debit magnitude",
			filter: types.BalanceChangeFilter{
				Address:           []string{"ADDRA"},
				MinAbsoluteAmount: big.NewInt(1500),
			},
			want: true,
		},
		{
			name: "role constraint",
			filter: types.BalanceChangeFilter{
				Role: []types.BalanceChangeRole{types.BalanceChangeRoleCloseTo},
			},
			want: false,
		},
		{
			name: "all constraints must hold on one change",
			filter: types.BalanceChangeFilter{
				Address: []string{"ADDRB"},
				Role:    []types.BalanceChangeRole{types.BalanceChangeRoleReceiver},
				AssetID: []uint64{0},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesBalanceChanges([]types.BalanceChangeFilter{tt.filter}, changes)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeBalanceChangesOrderAndRoles(t *testing.T) {
	merged := mergeBalanceChanges([]types.BalanceChange{
		{Address: "A", AssetID: 1, Amount: big.NewInt(5), Roles: []types.BalanceChangeRole{types.BalanceChangeRoleSender}},
		{Address: "B", AssetID: 1, Amount: big.NewInt(7), Roles: []types.BalanceChangeRole{types.BalanceChangeRoleReceiver}},
		{Address: "A", AssetID: 1, Amount: big.NewInt(-2), Roles: []types.BalanceChangeRole{types.BalanceChangeRoleSender, types.BalanceChangeRoleCloseTo}},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, "A", merged[0].Address)
	assert.Equal(t, int64(3), merged[0].Amount.Int64())
	assert.Equal(t, []types.BalanceChangeRole{types.BalanceChangeRoleSender, types.BalanceChangeRoleCloseTo}, merged[0].Roles)
	assert.Equal(t, "B", merged[1].Address)
}
