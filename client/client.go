// Package client wraps the algod and indexer collaborators behind small
// interfaces and provides the batched concurrent block fetch used by the
// sync engine.
package client

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"golang.org/x/time/rate"
)

// NodeClient defines the node operations the sync engine depends on.
type NodeClient interface {
	// LastRound returns the current chain tip.
	LastRound(ctx context.Context) (uint64, error)

	// Block returns the raw consensus block for the given round.
	Block(ctx context.Context, round uint64) (sdk.Block, error)

	// WaitForRoundAfter blocks until a round after the given one is
	// committed and returns the new tip.
	WaitForRoundAfter(ctx context.Context, round uint64) (uint64, error)
}

// SearchQuery is one indexer transaction search. Zero-valued fields are
// omitted from the request.
type SearchQuery struct {
	MinRound uint64
	MaxRound uint64

	TxType     string
	NotePrefix []byte
	AppID      uint64
	AssetID    uint64

	// Address with AddressRole ("sender" or "receiver") scopes the search
	// to one account.
	Address     string
	AddressRole string

	// CurrencyGreaterThan and CurrencyLessThan bound the transferred
	// amount. The indexer's currency filters are unreliable for mixed-type
	// queries, so callers must still re-filter results in memory.
	CurrencyGreaterThan *uint64
	CurrencyLessThan    *uint64

	Limit uint64
}

// IndexerClient defines the indexer operations the sync engine depends on.
type IndexerClient interface {
	// SearchTransactions runs a search, following pagination until the
	// result set is exhausted.
	SearchTransactions(ctx context.Context, query SearchQuery) ([]models.Transaction, error)
}

// AlgodClient is the SDK-backed NodeClient.
type AlgodClient struct {
	client *algod.Client
}

// NewAlgodClient connects to an algod node.
func NewAlgodClient(url, token string) (*AlgodClient, error) {
	c, err := algod.MakeClient(url, token)
	if err != nil {
		return nil, fmt.Errorf("creating algod client: %w", err)
	}
	return &AlgodClient{client: c}, nil
}

func (c *AlgodClient) LastRound(ctx context.Context) (uint64, error) {
	status, err := c.client.Status().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching node status: %w", err)
	}
	return status.LastRound, nil
}

func (c *AlgodClient) Block(ctx context.Context, round uint64) (sdk.Block, error) {
	b, err := c.client.Block(round).Do(ctx)
	if err != nil {
		return sdk.Block{}, fmt.Errorf("fetching block %d: %w", round, err)
	}
	return b, nil
}

func (c *AlgodClient) WaitForRoundAfter(ctx context.Context, round uint64) (uint64, error) {
	status, err := c.client.StatusAfterBlock(round).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for round after %d: %w", round, err)
	}
	return status.LastRound, nil
}

// SDKIndexerClient is the SDK-backed IndexerClient with client-side rate
// limiting on search calls.
type SDKIndexerClient struct {
	client  *indexer.Client
	limiter *rate.Limiter
}

// NewIndexerClient connects to an indexer. requestsPerSecond caps the search
// call rate; 0 disables limiting.
func NewIndexerClient(url, token string, requestsPerSecond float64) (*SDKIndexerClient, error) {
	c, err := indexer.MakeClient(url, token)
	if err != nil {
		return nil, fmt.Errorf("creating indexer client: %w", err)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &SDKIndexerClient{client: c, limiter: limiter}, nil
}

func (c *SDKIndexerClient) SearchTransactions(ctx context.Context, query SearchQuery) ([]models.Transaction, error) {
	var out []models.Transaction
	nextToken := ""

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		search := c.client.SearchForTransactions().
			MinRound(query.MinRound).
			MaxRound(query.MaxRound)
		if query.TxType != "" {
			search = search.TxType(query.TxType)
		}
		if len(query.NotePrefix) > 0 {
			search = search.NotePrefix(query.NotePrefix)
		}
		if query.AppID != 0 {
			search = search.ApplicationId(query.AppID)
		}
		if query.AssetID != 0 {
			search = search.AssetID(query.AssetID)
		}
		if query.Address != "" {
			search = search.AddressString(query.Address)
			if query.AddressRole != "" {
				search = search.AddressRole(query.AddressRole)
			}
		}
		if query.CurrencyGreaterThan != nil {
			search = search.CurrencyGreaterThan(*query.CurrencyGreaterThan)
		}
		if query.CurrencyLessThan != nil {
			search = search.CurrencyLessThan(*query.CurrencyLessThan)
		}
		if query.Limit > 0 {
			search = search.Limit(query.Limit)
		}
		if nextToken != "" {
			search = search.NextToken(nextToken)
		}

		resp, err := search.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("searching transactions: %w", err)
		}
		out = append(out, resp.Transactions...)

		if resp.NextToken == "" || len(resp.Transactions) == 0 {
			return out, nil
		}
		nextToken = resp.NextToken
	}
}
