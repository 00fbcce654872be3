package costreport

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
)

const metricUnblended = "UnblendedCost"

// CostAndUsageAPI abstracts the Cost Explorer GetCostAndUsage operation.
type CostAndUsageAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Entry is one ranked cost dimension value. Key is the raw dimension value
// (service name or account id); Name is the display name and equals Key until
// an account name is resolved.
type Entry struct {
	Key    string
	Name   string
	Amount float64
	Unit   string
}

// ServiceRanking returns the top services by unblended cost for the window,
// limited to the given linked accounts. Record types in exclude (Tax by
// default) are dropped from the ranking.
func ServiceRanking(ctx context.Context, api CostAndUsageAPI, w Window, accounts []string, top int, exclude map[string]bool) ([]Entry, error) {
	out, err := api.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(w.Start),
			End:   aws.String(w.End),
		},
		Granularity: types.GranularityMonthly,
		Metrics:     []string{metricUnblended},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
		Filter: &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionLinkedAccount,
				Values: accounts,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("service cost and usage: %w", err)
	}
	entries := rankGroups(firstGroups(out), exclude)
	if len(entries) > top {
		entries = entries[:top]
	}
	return entries, nil
}

// AccountRanking returns the top accounts by unblended cost across the whole
// organization together with the total over every group. Excluded record
// types are dropped from the ranking but still count toward the total.
func AccountRanking(ctx context.Context, api CostAndUsageAPI, w Window, top int, exclude map[string]bool) ([]Entry, float64, string, error) {
	out, err := api.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(w.Start),
			End:   aws.String(w.End),
		},
		Granularity: types.GranularityMonthly,
		Metrics:     []string{metricUnblended},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("LINKED_ACCOUNT")},
		},
	})
	if err != nil {
		return nil, 0, "", fmt.Errorf("account cost and usage: %w", err)
	}

	groups := firstGroups(out)
	entries := rankGroups(groups, exclude)
	if len(entries) > top {
		entries = entries[:top]
	}

	var total float64
	var unit string
	for _, g := range groups {
		mv, ok := g.Metrics[metricUnblended]
		if !ok {
			continue
		}
		amount, err := strconv.ParseFloat(aws.ToString(mv.Amount), 64)
		if err != nil {
			continue
		}
		total += amount
		if unit == "" {
			unit = aws.ToString(mv.Unit)
		}
	}
	return entries, total, unit, nil
}

func firstGroups(out *costexplorer.GetCostAndUsageOutput) []types.Group {
	if len(out.ResultsByTime) == 0 {
		return nil
	}
	return out.ResultsByTime[0].Groups
}

func rankGroups(groups []types.Group, exclude map[string]bool) []Entry {
	entries := make([]Entry, 0, len(groups))
	for _, g := range groups {
		if len(g.Keys) == 0 || exclude[g.Keys[0]] {
			continue
		}
		mv, ok := g.Metrics[metricUnblended]
		if !ok {
			continue
		}
		amount, err := strconv.ParseFloat(aws.ToString(mv.Amount), 64)
		if err != nil {
			continue
		}
		key := g.Keys[0]
		entries = append(entries, Entry{Key: key, Name: key, Amount: amount, Unit: aws.ToString(mv.Unit)})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Amount > entries[j].Amount })
	return entries
}
