package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimbusops/nimbus/internal/domain"
)

const storageAPIVersion = "2023-01-01"

// StorageModule audits storage accounts for public access and weak transport
// settings.
type StorageModule struct{}

func (StorageModule) Code() string { return "STORAGE" }

func (m StorageModule) Collect(ctx context.Context, target *Target) ([]domain.RawFinding, error) {
	accounts, err := target.Inspector.ListResources(ctx, "Microsoft.Storage/storageAccounts", storageAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage accounts: %w", err)
	}

	var findings []domain.RawFinding
	for _, account := range accounts {
		if public, _ := account.Properties["allowBlobPublicAccess"].(bool); public {
			findings = append(findings, domain.RawFinding{
				ModuleCode:  m.Code(),
				Category:    "public-blob-access",
				ResourceID:  account.ID,
				Severity:    domain.SeverityHigh,
				Description: fmt.Sprintf("Storage account %s allows public blob access", account.Name),
			})
		}
		if httpsOnly, ok := account.Properties["supportsHttpsTrafficOnly"].(bool); ok && !httpsOnly {
			findings = append(findings, domain.RawFinding{
				ModuleCode:  m.Code(),
				Category:    "http-traffic-allowed",
				ResourceID:  account.ID,
				Severity:    domain.SeverityMedium,
				Description: fmt.Sprintf("Storage account %s accepts unencrypted HTTP traffic", account.Name),
			})
		}
		if tls, _ := account.Properties["minimumTlsVersion"].(string); tls != "" && !strings.EqualFold(tls, "TLS1_2") && !strings.EqualFold(tls, "TLS1_3") {
			findings = append(findings, domain.RawFinding{
				ModuleCode:  m.Code(),
				Category:    "weak-tls",
				ResourceID:  account.ID,
				Severity:    domain.SeverityLow,
				Description: fmt.Sprintf("Storage account %s permits TLS below 1.2 (%s)", account.Name, tls),
			})
		}
	}
	return findings, nil
}
