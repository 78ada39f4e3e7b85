package subscription

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/subscriber-go/client"
	"github.com/0xmhha/subscriber-go/types"
)

type fakeNode struct {
	lastRound uint64
	blocks    map[uint64]sdk.Block
}

func (n *fakeNode) LastRound(ctx context.Context) (uint64, error) {
	return n.lastRound, nil
}

func (n *fakeNode) Block(ctx context.Context, round uint64) (sdk.Block, error) {
	b, ok := n.blocks[round]
	if !ok {
		return sdk.Block{}, fmt.Errorf("no block for round %d", round)
	}
	return b, nil
}

func (n *fakeNode) WaitForRoundAfter(ctx context.Context, round uint64) (uint64, error) {
	return n.lastRound, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	queries []client.SearchQuery
	txns    []models.Transaction
}

func (i *fakeIndexer) SearchTransactions(ctx context.Context, query client.SearchQuery) ([]models.Transaction, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.queries = append(i.queries, query)
	return i.txns, nil
}

func emptyBlock(round uint64) sdk.Block {
	return sdk.Block{BlockHeader: sdk.BlockHeader{
		Round:       sdk.Round(round),
		TimeStamp:   1700000000,
		GenesisID:   "testnet-v1.0",
		GenesisHash: sdk.Digest{1},
	}}
}

func payBlock(round uint64, sender, receiver byte, amount uint64) sdk.Block {
	b := emptyBlock(round)
	b.Payset = sdk.Payset{{
		SignedTxnWithAD: sdk.SignedTxnWithAD{SignedTxn: sdk.SignedTxn{Txn: sdk.Transaction{
			Type:   sdk.PaymentTx,
			Header: sdk.Header{Sender: testAddr(sender), Fee: 1000},
			PaymentTxnFields: sdk.PaymentTxnFields{
				Receiver: testAddr(receiver),
				Amount:   sdk.MicroAlgos(amount),
			},
		}}},
		HasGenesisID: true,
	}}
	return b
}

func TestGetSubscribedTransactionsNoOp(t *testing.T) {
	node := &fakeNode{lastRound: 100}

	result, err := GetSubscribedTransactions(context.Background(), Params{
		Filters:   []types.NamedTransactionFilter{{Name: "all", Filter: types.TransactionFilter{}}},
		Watermark: 100,
	}, node, nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, [2]uint64{100, 100}, result.SyncedRoundRange)
	assert.Equal(t, uint64(100), result.NewWatermark)
	assert.Empty(t, result.SubscribedTransactions)
	assert.Empty(t, result.BlockMetadata)
}

func TestGetSubscribedTransactionsNodePath(t *testing.T) {
	node := &fakeNode{
		lastRound: 701,
		blocks: map[uint64]sdk.Block{
			700: payBlock(700, 1, 2, 5000),
			701: emptyBlock(701),
		},
	}

	result, err := GetSubscribedTransactions(context.Background(), Params{
		Filters: []types.NamedTransactionFilter{
			{Name: "pays", Filter: types.TransactionFilter{Type: []string{"pay"}}},
			{Name: "from-one", Filter: types.TransactionFilter{Sender: []string{testAddr(1).String()}}},
		},
		Watermark: 699,
	}, node, nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, [2]uint64{700, 701}, result.SyncedRoundRange)
	assert.Equal(t, uint64(699), result.StartingWatermark)
	assert.Equal(t, uint64(701), result.NewWatermark)
	require.Len(t, result.BlockMetadata, 2)

	// Both filters matched the same payment; it appears once carrying both
	// names.
	require.Len(t, result.SubscribedTransactions, 1)
	txn := result.SubscribedTransactions[0]
	assert.Equal(t, []string{"pays", "from-one"}, txn.FiltersMatched)
	assert.Equal(t, uint64(700), txn.ConfirmedRound)
	require.NotNil(t, txn.Payment)

	// Extra fields are derived on every match.
	assert.NotEmpty(t, txn.BalanceChanges)
}

func TestGetSubscribedTransactionsRoundRangeExceeded(t *testing.T) {
	node := &fakeNode{lastRound: 100}

	_, err := GetSubscribedTransactions(context.Background(), Params{
		Filters:         []types.NamedTransactionFilter{{Name: "all"}},
		Watermark:       5,
		MaxRoundsToSync: 3,
	}, node, nil, zap.NewNop())
	require.ErrorIs(t, err, ErrRoundRangeExceeded)
}

func TestGetSubscribedTransactionsCatchupRequiresIndexer(t *testing.T) {
	node := &fakeNode{lastRound: 100}

	_, err := GetSubscribedTransactions(context.Background(), Params{
		Filters:       []types.NamedTransactionFilter{{Name: "all"}},
		Watermark:     5,
		SyncBehaviour: SyncBehaviourCatchupWithIndexer,
	}, node, nil, zap.NewNop())
	require.ErrorIs(t, err, ErrIndexerRequired)
}

func TestGetSubscribedTransactionsCatchupWithIndexer(t *testing.T) {
	node := &fakeNode{
		lastRound: 15,
		blocks: map[uint64]sdk.Block{
			13: emptyBlock(13),
			14: emptyBlock(14),
			15: payBlock(15, 3, 4, 700),
		},
	}
	idx := &fakeIndexer{txns: []models.Transaction{{
		Id:               "INDEXERTXN",
		Type:             "pay",
		Sender:           testAddr(1).String(),
		Fee:              1000,
		ConfirmedRound:   11,
		IntraRoundOffset: 0,
		PaymentTransaction: models.TransactionPayment{
			Amount:   5000,
			Receiver: testAddr(2).String(),
		},
	}}}

	result, err := GetSubscribedTransactions(context.Background(), Params{
		Filters:         []types.NamedTransactionFilter{{Name: "pays", Filter: types.TransactionFilter{Type: []string{"pay"}}}},
		Watermark:       10,
		MaxRoundsToSync: 3,
		SyncBehaviour:   SyncBehaviourCatchupWithIndexer,
	}, node, idx, zap.NewNop())
	require.NoError(t, err)

	// The indexer covers [11, 12] and the node the final budget window.
	require.Len(t, idx.queries, 1)
	assert.Equal(t, uint64(11), idx.queries[0].MinRound)
	assert.Equal(t, uint64(12), idx.queries[0].MaxRound)
	assert.Equal(t, "pay", idx.queries[0].TxType)

	assert.Equal(t, [2]uint64{11, 15}, result.SyncedRoundRange)
	assert.Equal(t, uint64(15), result.NewWatermark)

	require.Len(t, result.SubscribedTransactions, 2)
	assert.Equal(t, "INDEXERTXN", result.SubscribedTransactions[0].ID)
	assert.Equal(t, uint64(11), result.SubscribedTransactions[0].ConfirmedRound)
	assert.Equal(t, []string{"pays"}, result.SubscribedTransactions[0].FiltersMatched)
	assert.Equal(t, uint64(15), result.SubscribedTransactions[1].ConfirmedRound)
}

func TestRefilterSubtreePromotesInnerMatches(t *testing.T) {
	// The indexer returns the root when an inner transaction matches; the
	// re-filter must surface the inner one instead.
	raw := models.Transaction{
		Id:                     "ROOT",
		Type:                   "appl",
		Sender:                 testAddr(1).String(),
		Fee:                    1000,
		ConfirmedRound:         11,
		IntraRoundOffset:       4,
		ApplicationTransaction: models.TransactionApplication{ApplicationId: 123},
		InnerTxns: []models.Transaction{{
			Type:   "pay",
			Sender: testAddr(5).String(),
			PaymentTransaction: models.TransactionPayment{
				Amount:   42,
				Receiver: testAddr(6).String(),
			},
		}},
	}
	idx := &fakeIndexer{txns: []models.Transaction{raw}}
	node := &fakeNode{lastRound: 15, blocks: map[uint64]sdk.Block{
		13: emptyBlock(13), 14: emptyBlock(14), 15: emptyBlock(15),
	}}

	result, err := GetSubscribedTransactions(context.Background(), Params{
		Filters:         []types.NamedTransactionFilter{{Name: "pays", Filter: types.TransactionFilter{Type: []string{"pay"}}}},
		Watermark:       10,
		MaxRoundsToSync: 3,
		SyncBehaviour:   SyncBehaviourCatchupWithIndexer,
	}, node, idx, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, result.SubscribedTransactions, 1)
	inner := result.SubscribedTransactions[0]
	assert.Equal(t, "ROOT/inner/1", inner.ID)
	assert.Equal(t, uint64(5), inner.IntraRoundOffset)
	assert.Equal(t, "ROOT", inner.ParentTransactionID)
	assert.Equal(t, []string{"pays"}, inner.FiltersMatched)
}

func TestBuildSearchQuery(t *testing.T) {
	minAmount := uint64(100)
	maxAmount := uint64(5000)

	tests := []struct {
		name   string
		filter types.TransactionFilter
		want   client.SearchQuery
	}{
		{
			name:   "round range only",
			filter: types.TransactionFilter{},
			want:   client.SearchQuery{MinRound: 10, MaxRound: 20},
		},
		{
			name:   "single-valued terms narrow the search",
			filter: types.TransactionFilter{Type: []string{"axfer"}, AssetID: []uint64{77}, Sender: []string{"ADDRA"}},
			want: client.SearchQuery{
				MinRound: 10, MaxRound: 20,
				TxType: "axfer", AssetID: 77,
				Address: "ADDRA", AddressRole: "sender",
			},
		},
		{
			name:   "OR sets stay client-side",
			filter: types.TransactionFilter{Type: []string{"pay", "axfer"}, Sender: []string{"A", "B"}},
			want:   client.SearchQuery{MinRound: 10, MaxRound: 20},
		},
		{
			name:   "amount bounds applied for pure payments",
			filter: types.TransactionFilter{Type: []string{"pay"}, MinAmount: &minAmount, MaxAmount: &maxAmount},
			want: client.SearchQuery{
				MinRound: 10, MaxRound: 20, TxType: "pay",
				CurrencyGreaterThan: uint64Ptr(99),
				CurrencyLessThan:    uint64Ptr(5001),
			},
		},
		{
			name:   "amount bounds skipped for mixed units",
			filter: types.TransactionFilter{MinAmount: &minAmount},
			want:   client.SearchQuery{MinRound: 10, MaxRound: 20},
		},
		{
			name:   "max amount at the top of the range stays client-side",
			filter: types.TransactionFilter{Type: []string{"pay"}, MaxAmount: uint64Ptr(math.MaxUint64)},
			want:   client.SearchQuery{MinRound: 10, MaxRound: 20, TxType: "pay"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(&tt.filter, 10, 20)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortAndDeduplicate(t *testing.T) {
	a := &types.SubscribedTransaction{ID: "A", ConfirmedRound: 11, IntraRoundOffset: 2, FiltersMatched: []string{"f1"}}
	aDup := &types.SubscribedTransaction{ID: "A", ConfirmedRound: 11, IntraRoundOffset: 2, FiltersMatched: []string{"f2", "f1"}}
	b := &types.SubscribedTransaction{ID: "B", ConfirmedRound: 11, IntraRoundOffset: 0}
	c := &types.SubscribedTransaction{ID: "C", ConfirmedRound: 10, IntraRoundOffset: 9}

	out := sortAndDeduplicate([]*types.SubscribedTransaction{a, aDup, b, c})

	require.Len(t, out, 3)
	assert.Equal(t, "C", out[0].ID)
	assert.Equal(t, "B", out[1].ID)
	assert.Equal(t, "A", out[2].ID)
	assert.Equal(t, []string{"f1", "f2"}, out[2].FiltersMatched)
}
