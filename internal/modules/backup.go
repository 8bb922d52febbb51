package modules

import (
	"context"
	"fmt"

	"github.com/nimbusops/nimbus/internal/domain"
)

const (
	vaultAPIVersion = "2023-04-01"
	vmAPIVersion    = "2023-07-01"
)

// BackupModule audits backup coverage: the tenant must have at least one
// recovery services vault, and production-tagged VMs must not opt out of
// backup.
type BackupModule struct{}

func (BackupModule) Code() string { return "BACKUP" }

func (m BackupModule) Collect(ctx context.Context, target *Target) ([]domain.RawFinding, error) {
	var findings []domain.RawFinding

	vaults, err := target.Inspector.ListResources(ctx, "Microsoft.RecoveryServices/vaults", vaultAPIVersion)
	if err != nil {
		return findings, fmt.Errorf("failed to list recovery vaults: %w", err)
	}
	if len(vaults) == 0 {
		findings = append(findings, domain.RawFinding{
			ModuleCode:  m.Code(),
			Category:    "no-recovery-vault",
			ResourceID:  "/subscriptions/" + target.Connection.SubscriptionID,
			Severity:    domain.SeverityHigh,
			Description: "Subscription has no recovery services vault; virtual machines are not protected by backup",
		})
	}

	vms, err := target.Inspector.ListResources(ctx, "Microsoft.Compute/virtualMachines", vmAPIVersion)
	if err != nil {
		// Vault findings already collected are still worth keeping.
		return findings, fmt.Errorf("failed to list virtual machines: %w", err)
	}
	for _, vm := range vms {
		if vm.Tags["backup"] == "excluded" && vm.Tags["environment"] == "production" {
			findings = append(findings, domain.RawFinding{
				ModuleCode:  m.Code(),
				Category:    "production-vm-excluded",
				ResourceID:  vm.ID,
				Severity:    domain.SeverityMedium,
				Description: fmt.Sprintf("Production VM %s is tagged as excluded from backup", vm.Name),
			})
		}
	}

	return findings, nil
}
