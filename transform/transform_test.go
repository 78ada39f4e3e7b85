package transform

import (
	"fmt"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/subscriber-go/block"
	"github.com/0xmhha/subscriber-go/types"
)

func testAddress(b byte) sdk.Address {
	var a sdk.Address
	a[0] = b
	return a
}

func decodeOne(t *testing.T, stib sdk.SignedTxnInBlock) []block.TransactionInBlock {
	t.Helper()
	b := sdk.Block{
		BlockHeader: sdk.BlockHeader{
			Round:       500,
			TimeStamp:   1700000000,
			GenesisID:   "testnet-v1.0",
			GenesisHash: sdk.Digest{1, 2, 3},
		},
		Payset: sdk.Payset{stib},
	}
	return block.Decode(b)
}

func TestFromBlockTransactionPayment(t *testing.T) {
	txn := sdk.Transaction{
		Type: sdk.PaymentTx,
		Header: sdk.Header{
			Sender:     testAddress(1),
			Fee:        1000,
			FirstValid: 490,
			LastValid:  500,
			Note:       []byte("hi"),
		},
		PaymentTxnFields: sdk.PaymentTxnFields{
			Receiver: testAddress(2),
			Amount:   5000,
		},
	}
	st := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: txn, Sig: sdk.Signature{7}}}

	decoded := decodeOne(t, sdk.SignedTxnInBlock{SignedTxnWithAD: st, HasGenesisID: true})
	require.Len(t, decoded, 1)

	out, err := FromBlockTransaction(decoded[0])
	require.NoError(t, err)

	assert.Equal(t, decoded[0].TransactionID, out.ID)
	assert.Equal(t, "pay", out.Type)
	assert.Equal(t, testAddress(1).String(), out.Sender)
	assert.Equal(t, uint64(1000), out.Fee)
	assert.Equal(t, uint64(500), out.ConfirmedRound)
	assert.Equal(t, uint64(0), out.IntraRoundOffset)
	assert.Equal(t, "testnet-v1.0", out.GenesisID)
	assert.Equal(t, []byte("hi"), out.Note)

	require.NotNil(t, out.Payment)
	assert.Equal(t, uint64(5000), out.Payment.Amount)
	assert.Equal(t, testAddress(2).String(), out.Payment.Receiver)
	assert.Empty(t, out.Payment.CloseRemainderTo)

	// Exactly one sub-object is populated.
	assert.Nil(t, out.AssetTransfer)
	assert.Nil(t, out.AssetConfig)
	assert.Nil(t, out.Application)
	assert.Nil(t, out.Keyreg)

	require.NotNil(t, out.Signature)
	assert.NotEmpty(t, out.Signature.Sig)
}

func TestFromBlockTransactionAssetConfig(t *testing.T) {
	params := sdk.AssetParams{
		Total:    135640597783270612,
		Decimals: 6,
		UnitName: "BIG",
		Manager:  testAddress(9),
	}

	tests := []struct {
		name        string
		fields      sdk.AssetConfigTxnFields
		createdID   uint64
		wantAssetID uint64
		wantParams  bool
		wantCreator string
	}{
		{
			name:        "create populates params with sender as creator",
			fields:      sdk.AssetConfigTxnFields{AssetParams: params},
			createdID:   555,
			wantAssetID: 0,
			wantParams:  true,
			wantCreator: testAddress(1).String(),
		},
		{
			name:        "update keeps mutable fields without creator",
			fields:      sdk.AssetConfigTxnFields{ConfigAsset: 555, AssetParams: sdk.AssetParams{Manager: testAddress(9)}},
			wantAssetID: 555,
			wantParams:  true,
		},
		{
			name:        "destroy has no params",
			fields:      sdk.AssetConfigTxnFields{ConfigAsset: 555},
			wantAssetID: 555,
			wantParams:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := sdk.Transaction{
				Type:                 sdk.AssetConfigTx,
				Header:               sdk.Header{Sender: testAddress(1), Fee: 1000},
				AssetConfigTxnFields: tt.fields,
			}
			st := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: txn}}
			st.ApplyData.ConfigAsset = tt.createdID

			decoded := decodeOne(t, sdk.SignedTxnInBlock{SignedTxnWithAD: st, HasGenesisID: true})
			out, err := FromBlockTransaction(decoded[0])
			require.NoError(t, err)

			require.NotNil(t, out.AssetConfig)
			assert.Equal(t, tt.wantAssetID, out.AssetConfig.AssetID)
			assert.Equal(t, tt.createdID, out.CreatedAssetID)
			if !tt.wantParams {
				assert.Nil(t, out.AssetConfig.Params)
				return
			}
			require.NotNil(t, out.AssetConfig.Params)
			assert.Equal(t, tt.wantCreator, out.AssetConfig.Params.Creator)
		})
	}
}

func TestFromBlockTransactionApplicationAccess(t *testing.T) {
	txn := sdk.Transaction{
		Type:   sdk.ApplicationCallTx,
		Header: sdk.Header{Sender: testAddress(1), Fee: 1000},
		ApplicationFields: sdk.ApplicationFields{
			ApplicationCallTxnFields: sdk.ApplicationCallTxnFields{
				ApplicationID:   123,
				OnCompletion:    sdk.OptInOC,
				ApplicationArgs: [][]byte{{1, 2, 3, 4}},
				Accounts:        []sdk.Address{testAddress(2)},
				ForeignApps:     []sdk.AppIndex{456},
				ForeignAssets:   []sdk.AssetIndex{789},
				BoxReferences: []sdk.BoxReference{
					{ForeignAppIdx: 0, Name: []byte("box")},
				},
			},
		},
	}
	st := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: txn}}

	decoded := decodeOne(t, sdk.SignedTxnInBlock{SignedTxnWithAD: st, HasGenesisID: true})
	out, err := FromBlockTransaction(decoded[0])
	require.NoError(t, err)

	app := out.Application
	require.NotNil(t, app)
	assert.Equal(t, uint64(123), app.ApplicationID)
	assert.Equal(t, types.OnCompleteOptIn, app.OnCompletion)

	// Access entries preserve source order with one populated field each.
	require.Len(t, app.Access, 4)
	assert.Equal(t, testAddress(2).String(), app.Access[0].Address)
	assert.Equal(t, uint64(456), app.Access[1].App)
	assert.Equal(t, uint64(789), app.Access[2].Asset)
	require.NotNil(t, app.Access[3].Box)
	assert.Equal(t, uint64(123), app.Access[3].Box.App)
	assert.Equal(t, []byte("box"), app.Access[3].Box.Name)
}

func TestFromBlockTransactionInnerIDs(t *testing.T) {
	innerPay := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: sdk.Transaction{
		Type:             sdk.PaymentTx,
		Header:           sdk.Header{Sender: testAddress(5)},
		PaymentTxnFields: sdk.PaymentTxnFields{Receiver: testAddress(6), Amount: 10},
	}}}
	nested := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: sdk.Transaction{
		Type:             sdk.PaymentTx,
		Header:           sdk.Header{Sender: testAddress(6)},
		PaymentTxnFields: sdk.PaymentTxnFields{Receiver: testAddress(7), Amount: 5},
	}}}
	innerPay.ApplyData.EvalDelta.InnerTxns = []sdk.SignedTxnWithAD{nested}

	appl := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: sdk.Transaction{
		Type:   sdk.ApplicationCallTx,
		Header: sdk.Header{Sender: testAddress(3), Fee: 1000},
		ApplicationFields: sdk.ApplicationFields{
			ApplicationCallTxnFields: sdk.ApplicationCallTxnFields{ApplicationID: 123},
		},
	}}}
	appl.ApplyData.EvalDelta.InnerTxns = []sdk.SignedTxnWithAD{innerPay}

	decoded := decodeOne(t, sdk.SignedTxnInBlock{SignedTxnWithAD: appl, HasGenesisID: true})
	require.Len(t, decoded, 3)

	out, err := FromBlockTransaction(decoded[0])
	require.NoError(t, err)

	rootID := out.ID
	require.Len(t, out.InnerTxns, 1)
	first := out.InnerTxns[0]
	assert.Equal(t, fmt.Sprintf("%s/inner/1", rootID), first.ID)
	assert.Equal(t, uint64(1), first.IntraRoundOffset)
	assert.Equal(t, rootID, first.ParentTransactionID)
	require.NotNil(t, first.ParentIntraRoundOffset)
	assert.Equal(t, uint64(0), *first.ParentIntraRoundOffset)

	require.Len(t, first.InnerTxns, 1)
	second := first.InnerTxns[0]
	assert.Equal(t, fmt.Sprintf("%s/inner/2", rootID), second.ID)
	assert.Equal(t, uint64(2), second.IntraRoundOffset)

	// Nested inner transactions also link to the root.
	assert.Equal(t, rootID, second.ParentTransactionID)

	// The normalized tree carries the same IDs the flat decode assigns.
	assert.Equal(t, decoded[1].TransactionID, first.ID)
	assert.Equal(t, decoded[2].TransactionID, second.ID)
}

func TestFromBlockTransactionUnknownType(t *testing.T) {
	txn := sdk.Transaction{
		Type:   sdk.TxType("future"),
		Header: sdk.Header{Sender: testAddress(1)},
	}
	st := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: txn}}

	decoded := decodeOne(t, sdk.SignedTxnInBlock{SignedTxnWithAD: st, HasGenesisID: true})
	_, err := FromBlockTransaction(decoded[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTransactionType)
}

func TestFromBlockTransactionZeroReceiver(t *testing.T) {
	// Inner payments may omit the receiver entirely; it must decode to the
	// canonical zero address.
	txn := sdk.Transaction{
		Type:             sdk.PaymentTx,
		Header:           sdk.Header{Sender: testAddress(1), Fee: 1000},
		PaymentTxnFields: sdk.PaymentTxnFields{Amount: 0},
	}
	st := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: txn}}

	decoded := decodeOne(t, sdk.SignedTxnInBlock{SignedTxnWithAD: st, HasGenesisID: true})
	out, err := FromBlockTransaction(decoded[0])
	require.NoError(t, err)
	require.NotNil(t, out.Payment)
	assert.Equal(t, sdk.Address{}.String(), out.Payment.Receiver)
}

func TestTransactionIDMatchesSDK(t *testing.T) {
	txn := sdk.Transaction{
		Type: sdk.PaymentTx,
		Header: sdk.Header{
			Sender:      testAddress(1),
			Fee:         1000,
			FirstValid:  490,
			LastValid:   500,
			GenesisID:   "testnet-v1.0",
			GenesisHash: sdk.Digest{1, 2, 3},
		},
		PaymentTxnFields: sdk.PaymentTxnFields{Receiver: testAddress(2), Amount: 5000},
	}

	// The block strips genesis fields; decoding must restore them so the ID
	// matches the canonical ID of the original transaction.
	stripped := txn
	stripped.GenesisID = ""
	stripped.GenesisHash = sdk.Digest{}
	stStripped := sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: stripped}}

	decoded := decodeOne(t, sdk.SignedTxnInBlock{SignedTxnWithAD: stStripped, HasGenesisID: true})
	out, err := FromBlockTransaction(decoded[0])
	require.NoError(t, err)
	assert.Equal(t, crypto.TransactionIDString(txn), out.ID)
}
