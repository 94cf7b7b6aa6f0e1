// internal/chain/subgraph.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	commonhttp "member-portal/internal/common/http"
)

// ErrSubgraphUnavailable signals indexer-side failure; callers fall back to
// direct RPC enumeration where they can.
var ErrSubgraphUnavailable = errors.New("subgraph unavailable")

// SubgraphKey is one indexed key row.
type SubgraphKey struct {
	Lock       string `json:"lock"`
	Owner      string `json:"owner"`
	TokenID    string `json:"tokenId"`
	Expiration int64  `json:"expiration"`
}

// SubgraphClient queries the indexing service for key ownership. Read-only.
type SubgraphClient interface {
	KeysByOwners(ctx context.Context, owners, locks []string) ([]SubgraphKey, error)
	KeyHolders(ctx context.Context, lock string, limit int) ([]SubgraphKey, error)
}

type subgraphClient struct {
	url  string
	http *commonhttp.Client
}

// NewSubgraphClient builds a client for the configured subgraph endpoint.
func NewSubgraphClient(url, apiKey string, timeout time.Duration) SubgraphClient {
	return &subgraphClient{
		url:  url,
		http: commonhttp.NewClientWithBearer(timeout, apiKey),
	}
}

const keysByOwnersQuery = `query Keys($owners: [String!], $locks: [String!]) {
  keys(where: {owner_in: $owners, lock_in: $locks}, first: 500) {
    tokenId
    owner
    expiration
    lock { address }
  }
}`

const keyHoldersQuery = `query Holders($lock: String!, $first: Int!) {
  keys(where: {lock: $lock}, first: $first, orderBy: expiration, orderDirection: desc) {
    tokenId
    owner
    expiration
    lock { address }
  }
}`

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphqlKey struct {
	TokenID    string `json:"tokenId"`
	Owner      string `json:"owner"`
	Expiration string `json:"expiration"`
	Lock       struct {
		Address string `json:"address"`
	} `json:"lock"`
}

type graphqlResponse struct {
	Data struct {
		Keys []graphqlKey `json:"keys"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *subgraphClient) query(ctx context.Context, q string, vars map[string]interface{}) ([]SubgraphKey, error) {
	var out graphqlResponse
	if err := c.http.PostJSON(ctx, c.url, graphqlRequest{Query: q, Variables: vars}, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubgraphUnavailable, err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrSubgraphUnavailable, out.Errors[0].Message)
	}

	keys := make([]SubgraphKey, 0, len(out.Data.Keys))
	for _, k := range out.Data.Keys {
		var exp int64
		fmt.Sscan(k.Expiration, &exp)
		keys = append(keys, SubgraphKey{
			Lock:       strings.ToLower(k.Lock.Address),
			Owner:      strings.ToLower(k.Owner),
			TokenID:    k.TokenID,
			Expiration: exp,
		})
	}
	return keys, nil
}

func (c *subgraphClient) KeysByOwners(ctx context.Context, owners, locks []string) ([]SubgraphKey, error) {
	lower := func(in []string) []interface{} {
		out := make([]interface{}, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	return c.query(ctx, keysByOwnersQuery, map[string]interface{}{
		"owners": lower(owners),
		"locks":  lower(locks),
	})
}

func (c *subgraphClient) KeyHolders(ctx context.Context, lock string, limit int) ([]SubgraphKey, error) {
	if limit <= 0 {
		limit = 500
	}
	return c.query(ctx, keyHoldersQuery, map[string]interface{}{
		"lock":  strings.ToLower(lock),
		"first": limit,
	})
}
