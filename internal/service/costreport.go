package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/nimbusops/nimbus/internal/azure"
	"github.com/nimbusops/nimbus/internal/repository"
)

// ServiceCost is aggregated spend for one cloud service.
type ServiceCost struct {
	Service string  `json:"service"`
	Cost    float64 `json:"cost"`
}

// CostReport summarizes a connection's recent spend.
type CostReport struct {
	ConnectionID string        `json:"connection_id"`
	Days         int           `json:"days"`
	Currency     string        `json:"currency"`
	Total        float64       `json:"total"`
	Services     []ServiceCost `json:"services"`
}

// CostReportService produces cost and reservation-review reports for a
// customer connection via the Azure Cost Management API.
type CostReportService struct {
	customers *repository.CustomerRepository
	resolver  *azure.CredentialResolver
}

// NewCostReportService creates a cost report service.
func NewCostReportService(customers *repository.CustomerRepository, resolver *azure.CredentialResolver) *CostReportService {
	return &CostReportService{customers: customers, resolver: resolver}
}

// Report queries actual daily cost for the connection's subscription over
// the last `days` days and aggregates it per service, highest spend first.
func (s *CostReportService) Report(ctx context.Context, connectionID string, days int) (*CostReport, error) {
	if days <= 0 {
		days = 30
	}

	conn, err := s.customers.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("connection %s not found: %w", connectionID, err)
	}

	cred, err := s.resolver.Resolve(ctx, conn)
	if err != nil {
		return nil, err
	}
	client, err := azure.NewCostClient(cred, conn.SubscriptionID)
	if err != nil {
		return nil, err
	}

	rows, err := client.QueryUsage(ctx, days)
	if err != nil {
		return nil, err
	}

	report := &CostReport{ConnectionID: connectionID, Days: days}
	totals := make(map[string]float64)
	for _, row := range rows {
		totals[row.Service] += row.Cost
		report.Total += row.Cost
		if report.Currency == "" {
			report.Currency = row.Currency
		}
	}
	for service, cost := range totals {
		report.Services = append(report.Services, ServiceCost{Service: service, Cost: cost})
	}
	sort.Slice(report.Services, func(i, j int) bool {
		return report.Services[i].Cost > report.Services[j].Cost
	})
	return report, nil
}
