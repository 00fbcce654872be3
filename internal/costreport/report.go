package costreport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"go.uber.org/zap"
)

// Options controls ranking sizes and which record types are dropped from the
// rankings.
type Options struct {
	ServiceTop         int
	AccountTop         int
	ExcludeRecordTypes []string
}

// DefaultOptions matches the classic report: top 5 services, top 3 accounts,
// Tax excluded.
func DefaultOptions() Options {
	return Options{ServiceTop: 5, AccountTop: 3, ExcludeRecordTypes: []string{"Tax"}}
}

// Report is one month-to-date cost report ready for delivery.
type Report struct {
	Window   Window
	Budget   Budget
	Total    float64
	Unit     string
	Accounts []Entry
	Services []Entry
}

// Builder assembles a Report from Budgets, Organizations and Cost Explorer.
type Builder struct {
	Budgets DescribeBudgetAPI
	Costs   CostAndUsageAPI
	Orgs    organizations.ListAccountsAPIClient
	Log     *zap.SugaredLogger
}

// Build runs the full aggregation: budget filter accounts, account names,
// service and account rankings.
func (b *Builder) Build(ctx context.Context, accountID, budgetName string, now time.Time, opts Options) (*Report, error) {
	w := MonthToDate(now)

	bud, err := DescribeBudget(ctx, b.Budgets, accountID, budgetName)
	if err != nil {
		return nil, err
	}
	b.Log.Debugw("cost aggregation accounts", "accounts", bud.Accounts, "start", w.Start, "end", w.End)

	names, err := AccountNames(ctx, b.Orgs, bud.Accounts)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]bool, len(opts.ExcludeRecordTypes))
	for _, r := range opts.ExcludeRecordTypes {
		exclude[r] = true
	}

	services, err := ServiceRanking(ctx, b.Costs, w, bud.Accounts, opts.ServiceTop, exclude)
	if err != nil {
		return nil, err
	}
	accounts, total, unit, err := AccountRanking(ctx, b.Costs, w, opts.AccountTop, exclude)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if name, ok := names[accounts[i].Key]; ok {
			accounts[i].Name = name
		}
	}

	return &Report{
		Window:   w,
		Budget:   bud,
		Total:    total,
		Unit:     unit,
		Accounts: accounts,
		Services: services,
	}, nil
}

// Subject is the email subject line.
func (r *Report) Subject() string {
	return "【Cost Notification】" + r.Window.Start
}

// Render produces the report body: total, account ranking, service ranking
// and, when the budget carries a limit, actual spend against it. Amounts are
// truncated to whole currency units.
func (r *Report) Render() string {
	var b strings.Builder
	b.WriteString("【Total Cost】\n")
	b.WriteString(truncate(r.Total))
	b.WriteString(r.Unit)
	b.WriteString("\n")

	b.WriteString("\n【Account Cost Ranking】\n")
	for i, e := range r.Accounts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "TOP%d %s%s : %s(%s)", i+1, truncate(e.Amount), e.Unit, e.Name, e.Key)
	}
	b.WriteString("\n")

	b.WriteString("\n【Service Cost Ranking】\n")
	for i, e := range r.Services {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "TOP%d %s%s : %s", i+1, truncate(e.Amount), e.Unit, e.Name)
	}

	if r.Budget.HasLimit {
		b.WriteString("\n\n【Budget】\n")
		fmt.Fprintf(&b, "%s/%s%s", truncate(r.Budget.Actual), truncate(r.Budget.Limit), r.Budget.Unit)
	}
	return b.String()
}

func truncate(amount float64) string {
	return strconv.FormatInt(int64(amount), 10)
}
