package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/metricsapi"
)

// MonitorModule audits monitoring coverage through the external monitoring
// platform. All calls go through the shared rate-limited client.
type MonitorModule struct{}

func (MonitorModule) Code() string { return "MONITOR" }

type monitorList struct {
	Monitors []struct {
		ID         string `json:"id"`
		ResourceID string `json:"resource_id"`
		Type       string `json:"type"`
		Enabled    bool   `json:"enabled"`
		Muted      bool   `json:"muted"`
	} `json:"monitors"`
}

func (m MonitorModule) Collect(ctx context.Context, target *Target) ([]domain.RawFinding, error) {
	resp, err := target.Metrics.Call(ctx, &metricsapi.Request{
		Method: http.MethodGet,
		Path:   "/monitors",
		Query:  map[string]string{"subscription_id": target.Connection.SubscriptionID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("monitor listing returned status %d", resp.StatusCode)
	}

	var list monitorList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode monitor listing: %w", err)
	}

	var findings []domain.RawFinding
	if len(list.Monitors) == 0 {
		findings = append(findings, domain.RawFinding{
			ModuleCode:  m.Code(),
			Category:    "no-monitors",
			ResourceID:  "/subscriptions/" + target.Connection.SubscriptionID,
			Severity:    domain.SeverityHigh,
			Description: "No monitors are configured for this subscription",
		})
		return findings, nil
	}

	for _, mon := range list.Monitors {
		if !mon.Enabled {
			findings = append(findings, domain.RawFinding{
				ModuleCode:  m.Code(),
				Category:    "monitor-disabled",
				ResourceID:  mon.ResourceID,
				Severity:    domain.SeverityMedium,
				Description: fmt.Sprintf("Monitor %s (%s) is disabled", mon.ID, mon.Type),
			})
		} else if mon.Muted {
			findings = append(findings, domain.RawFinding{
				ModuleCode:  m.Code(),
				Category:    "monitor-muted",
				ResourceID:  mon.ResourceID,
				Severity:    domain.SeverityLow,
				Description: fmt.Sprintf("Monitor %s (%s) is muted", mon.ID, mon.Type),
			})
		}
	}
	return findings, nil
}
