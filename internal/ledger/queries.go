package ledger

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/ledgersync/internal/domain"
)

// AccountsPageSize is the page size used for account listings.
const AccountsPageSize = 100

const businessesQuery = `query { businesses { edges { node { id name } } } }`

const accountsQuery = `query ($businessId: ID!, $page: Int!, $pageSize: Int!, $types: [AccountTypeValue!]) {
  business(id: $businessId) {
    id
    accounts(page: $page, pageSize: $pageSize, types: $types) {
      pageInfo { currentPage totalPages totalCount }
      edges { node { id name type { name value } subtype { name value } isArchived } }
    }
  }
}`

const pingQuery = `query { __typename }`

type namedValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type businessesData struct {
	Businesses struct {
		Edges []struct {
			Node struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"businesses"`
}

type accountsData struct {
	Business *struct {
		ID       string `json:"id"`
		Accounts struct {
			PageInfo struct {
				CurrentPage int `json:"currentPage"`
				TotalPages  int `json:"totalPages"`
				TotalCount  int `json:"totalCount"`
			} `json:"pageInfo"`
			Edges []struct {
				Node struct {
					ID         string     `json:"id"`
					Name       string     `json:"name"`
					Type       namedValue `json:"type"`
					Subtype    namedValue `json:"subtype"`
					IsArchived bool       `json:"isArchived"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"accounts"`
	} `json:"business"`
}

// ListBusinesses returns the businesses visible to the access token.
func (c *Client) ListBusinesses(ctx context.Context) ([]domain.LedgerBusiness, error) {
	var data businessesData
	if err := c.execute(ctx, "businesses", businessesQuery, nil, &data); err != nil {
		return nil, err
	}
	businesses := make([]domain.LedgerBusiness, 0, len(data.Businesses.Edges))
	for _, edge := range data.Businesses.Edges {
		businesses = append(businesses, domain.LedgerBusiness{ID: edge.Node.ID, Name: edge.Node.Name})
	}
	return businesses, nil
}

// ListAccounts returns one page of the business's accounts, optionally filtered by account type values.
func (c *Client) ListAccounts(ctx context.Context, businessID string, types []string, page int) (domain.LedgerAccountPage, error) {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return domain.LedgerAccountPage{}, errors.New("ledger: business id is required")
	}
	if page < 1 {
		page = 1
	}
	variables := map[string]any{
		"businessId": businessID,
		"page":       page,
		"pageSize":   AccountsPageSize,
	}
	if normalized := normalizeTypes(types); len(normalized) > 0 {
		variables["types"] = normalized
	}

	var data accountsData
	if err := c.execute(ctx, "accounts", accountsQuery, variables, &data); err != nil {
		return domain.LedgerAccountPage{}, err
	}
	if data.Business == nil {
		return domain.LedgerAccountPage{}, &APIError{Operation: "accounts", Cause: errors.New("business not found")}
	}

	accounts := data.Business.Accounts
	result := domain.LedgerAccountPage{
		Accounts: make([]domain.LedgerAccount, 0, len(accounts.Edges)),
		PageInfo: domain.LedgerPageInfo{
			CurrentPage: accounts.PageInfo.CurrentPage,
			TotalPages:  accounts.PageInfo.TotalPages,
			TotalCount:  accounts.PageInfo.TotalCount,
		},
	}
	for _, edge := range accounts.Edges {
		result.Accounts = append(result.Accounts, domain.LedgerAccount{
			ID:         edge.Node.ID,
			Name:       edge.Node.Name,
			Type:       edge.Node.Type.Value,
			Subtype:    edge.Node.Subtype.Value,
			IsArchived: edge.Node.IsArchived,
		})
	}
	return result, nil
}

// Ping issues a trivial query, used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.execute(ctx, "ping", pingQuery, nil, nil)
}

func normalizeTypes(types []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(types))
	for _, t := range types {
		value := strings.ToUpper(strings.TrimSpace(t))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
