package modules

import (
	"context"
	"fmt"

	"github.com/nimbusops/nimbus/internal/domain"
)

// Monthly spend above which a service should be reviewed for reservation or
// savings-plan coverage.
const reservationReviewThreshold = 1000.0

// CostModule flags services whose recent spend suggests missing reservation
// coverage.
type CostModule struct {
	Days int
}

func (CostModule) Code() string { return "COST" }

func (m CostModule) Collect(ctx context.Context, target *Target) ([]domain.RawFinding, error) {
	days := m.Days
	if days <= 0 {
		days = 30
	}

	rows, err := target.Costs.QueryUsage(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost usage: %w", err)
	}

	totals := make(map[string]float64)
	currency := ""
	for _, row := range rows {
		totals[row.Service] += row.Cost
		if currency == "" {
			currency = row.Currency
		}
	}

	var findings []domain.RawFinding
	for service, total := range totals {
		if total < reservationReviewThreshold {
			continue
		}
		findings = append(findings, domain.RawFinding{
			ModuleCode: m.Code(),
			Category:   "reservation-review",
			ResourceID: service,
			Severity:   domain.SeverityLow,
			Description: fmt.Sprintf("Service %s spent %.2f %s over %d days; review reservation coverage",
				service, total, currency, days),
		})
	}
	return findings, nil
}
