package cloud

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
)

// CostSeries is the account's spend over a period, broken down by Cost
// Explorer SERVICE dimension. Amounts keep full precision; rounding happens
// only at presentation.
type CostSeries struct {
	Start         time.Time          `json:"start"`
	End           time.Time          `json:"end"`
	ServiceTotals map[string]float64 `json:"service_totals"`
	Total         float64            `json:"total"`
}

const ceDateLayout = "2006-01-02"

// GetMonthlyCosts fetches unblended cost grouped by service for the period.
// Served by the pinned cost-region handle.
func (c *Client) GetMonthlyCosts(ctx context.Context, start, end time.Time) (*CostSeries, error) {
	series := &CostSeries{
		Start:         start,
		End:           end,
		ServiceTotals: map[string]float64{},
	}

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.Format(ceDateLayout)),
			End:   aws.String(end.Format(ceDateLayout)),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	}

	err := c.withRetry(ctx, "costexplorer", "GetCostAndUsage", func(ctx context.Context) error {
		series.ServiceTotals = map[string]float64{}
		series.Total = 0
		input.NextPageToken = nil
		for {
			resp, err := c.costexplorer.GetCostAndUsage(ctx, input)
			if err != nil {
				return err
			}
			for _, period := range resp.ResultsByTime {
				for _, group := range period.Groups {
					if len(group.Keys) == 0 {
						continue
					}
					amount := metricAmount(group.Metrics, "UnblendedCost")
					series.ServiceTotals[group.Keys[0]] += amount
					series.Total += amount
				}
			}
			if aws.ToString(resp.NextPageToken) == "" {
				return nil
			}
			input.NextPageToken = resp.NextPageToken
		}
	})
	if err != nil {
		return nil, err
	}
	return series, nil
}

// GetResourceCosts fetches per-resource unblended cost for one service.
// Resource-level granularity only covers the trailing 14 days of data, so an
// empty map is a normal outcome, not an error; the cost service then falls
// back to distribution.
func (c *Client) GetResourceCosts(ctx context.Context, costServiceName string, start, end time.Time) (map[string]float64, error) {
	out := map[string]float64{}

	input := &costexplorer.GetCostAndUsageWithResourcesInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.Format(ceDateLayout)),
			End:   aws.String(end.Format(ceDateLayout)),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		Filter: &cetypes.Expression{
			Dimensions: &cetypes.DimensionValues{
				Key:    cetypes.DimensionService,
				Values: []string{costServiceName},
			},
		},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("RESOURCE_ID")},
		},
	}

	err := c.withRetry(ctx, "costexplorer", "GetCostAndUsageWithResources", func(ctx context.Context) error {
		clear(out)
		input.NextPageToken = nil
		for {
			resp, err := c.costexplorer.GetCostAndUsageWithResources(ctx, input)
			if err != nil {
				return err
			}
			for _, period := range resp.ResultsByTime {
				for _, group := range period.Groups {
					if len(group.Keys) == 0 {
						continue
					}
					out[group.Keys[0]] += metricAmount(group.Metrics, "UnblendedCost")
				}
			}
			if aws.ToString(resp.NextPageToken) == "" {
				return nil
			}
			input.NextPageToken = resp.NextPageToken
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func metricAmount(metrics map[string]cetypes.MetricValue, name string) float64 {
	m, ok := metrics[name]
	if !ok || m.Amount == nil {
		return 0
	}
	v, err := strconv.ParseFloat(*m.Amount, 64)
	if err != nil {
		return 0
	}
	return v
}
