package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
)

// UsageRow is one daily cost aggregate for a service in a subscription.
type UsageRow struct {
	Service  string    `json:"service"`
	Date     time.Time `json:"date"`
	Cost     float64   `json:"cost"`
	Currency string    `json:"currency"`
}

// CostClient queries the Azure Cost Management API for a subscription.
type CostClient struct {
	factory *armcostmanagement.ClientFactory
	scope   string
}

// NewCostClient creates a cost client for one subscription using the given
// tenant credential.
func NewCostClient(cred azcore.TokenCredential, subscriptionID string) (*CostClient, error) {
	factory, err := armcostmanagement.NewClientFactory(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost management client factory: %w", err)
	}
	return &CostClient{
		factory: factory,
		scope:   fmt.Sprintf("/subscriptions/%s", subscriptionID),
	}, nil
}

// QueryUsage returns actual daily cost for the last `days` days, grouped by
// service name.
func (c *CostClient) QueryUsage(ctx context.Context, days int) ([]UsageRow, error) {
	client := c.factory.NewQueryClient()

	timeFrom := time.Now().AddDate(0, 0, -days)
	timeTo := time.Now()

	exportType := armcostmanagement.ExportTypeActualCost
	granularity := armcostmanagement.GranularityTypeDaily
	timeframe := armcostmanagement.TimeframeTypeCustom
	dimension := armcostmanagement.QueryColumnTypeDimension

	params := armcostmanagement.QueryDefinition{
		Type: &exportType,
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: &granularity,
			Grouping: []*armcostmanagement.QueryGrouping{
				{
					Name: to.Ptr("ServiceName"),
					Type: &dimension,
				},
			},
		},
		Timeframe: &timeframe,
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: &timeFrom,
			To:   &timeTo,
		},
	}

	result, err := client.Usage(ctx, c.scope, params, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query costs: %w", err)
	}

	var rows []UsageRow
	for _, row := range result.Properties.Rows {
		// Row layout: [cost, date, serviceName, currency]
		if len(row) < 4 {
			continue
		}
		cost, ok := row[0].(float64)
		if !ok {
			continue
		}
		usage := UsageRow{
			Cost:     cost,
			Currency: fmt.Sprintf("%v", row[3]),
			Service:  fmt.Sprintf("%v", row[2]),
		}
		if dateNum, ok := row[1].(float64); ok {
			// Dates arrive as yyyymmdd numbers.
			usage.Date, _ = time.Parse("20060102", fmt.Sprintf("%08.0f", dateNum))
		}
		rows = append(rows, usage)
	}

	return rows, nil
}
