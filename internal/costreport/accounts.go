package costreport

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
)

// DescribeBudgetAPI abstracts the Budgets DescribeBudget operation.
type DescribeBudgetAPI interface {
	DescribeBudget(ctx context.Context, params *budgets.DescribeBudgetInput, optFns ...func(*budgets.Options)) (*budgets.DescribeBudgetOutput, error)
}

// Budget holds the linked accounts picked by a budget's cost filters and the
// budget's actual spend against its limit.
type Budget struct {
	Accounts []string
	Limit    float64
	Actual   float64
	Unit     string
	HasLimit bool
}

// DescribeBudget fetches the budget and extracts the linked account ids from
// its cost filters. A budget without filter accounts is an error: there is
// nothing to aggregate.
func DescribeBudget(ctx context.Context, api DescribeBudgetAPI, accountID, budgetName string) (Budget, error) {
	out, err := api.DescribeBudget(ctx, &budgets.DescribeBudgetInput{
		AccountId:  &accountID,
		BudgetName: &budgetName,
	})
	if err != nil {
		return Budget{}, fmt.Errorf("describe budget %s: %w", budgetName, err)
	}
	if out.Budget == nil {
		return Budget{}, fmt.Errorf("budget %s not found", budgetName)
	}

	var b Budget
	for _, values := range out.Budget.CostFilters {
		b.Accounts = append(b.Accounts, values...)
	}
	// CostFilters is a map; keep the account order stable.
	sort.Strings(b.Accounts)
	if len(b.Accounts) == 0 {
		return Budget{}, fmt.Errorf("budget %s has no accounts in its cost filters", budgetName)
	}

	if l := out.Budget.BudgetLimit; l != nil {
		if v, err := strconv.ParseFloat(aws.ToString(l.Amount), 64); err == nil {
			b.Limit = v
			b.Unit = aws.ToString(l.Unit)
			b.HasLimit = true
		}
	}
	if cs := out.Budget.CalculatedSpend; cs != nil && cs.ActualSpend != nil {
		if v, err := strconv.ParseFloat(aws.ToString(cs.ActualSpend.Amount), 64); err == nil {
			b.Actual = v
		}
	}
	return b, nil
}

// AccountNames resolves display names for the given account ids via
// Organizations. Ids not present in the organization are simply absent from
// the result; rendering falls back to the raw id.
func AccountNames(ctx context.Context, api organizations.ListAccountsAPIClient, ids []string) (map[string]string, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	names := make(map[string]string, len(ids))
	p := organizations.NewListAccountsPaginator(api, &organizations.ListAccountsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range page.Accounts {
			id := aws.ToString(a.Id)
			if want[id] {
				names[id] = aws.ToString(a.Name)
			}
		}
	}
	return names, nil
}
