package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimbusops/nimbus/internal/domain"
)

const nsgAPIVersion = "2023-05-01"

// Ports that should never be reachable from any source address.
var sensitivePorts = map[string]string{
	"22":   "SSH",
	"3389": "RDP",
	"1433": "SQL Server",
	"5432": "PostgreSQL",
}

// NetworkModule audits network security groups for overly permissive
// inbound rules.
type NetworkModule struct{}

func (NetworkModule) Code() string { return "NETWORK" }

func (m NetworkModule) Collect(ctx context.Context, target *Target) ([]domain.RawFinding, error) {
	groups, err := target.Inspector.ListResources(ctx, "Microsoft.Network/networkSecurityGroups", nsgAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list network security groups: %w", err)
	}

	var findings []domain.RawFinding
	for _, nsg := range groups {
		rules, _ := nsg.Properties["securityRules"].([]interface{})
		for _, raw := range rules {
			rule, _ := raw.(map[string]interface{})
			props, _ := rule["properties"].(map[string]interface{})
			if props == nil {
				continue
			}
			if !isInboundAllowFromAnywhere(props) {
				continue
			}

			port, _ := props["destinationPortRange"].(string)
			ruleName, _ := rule["name"].(string)
			if service, sensitive := sensitivePorts[port]; sensitive {
				findings = append(findings, domain.RawFinding{
					ModuleCode:  m.Code(),
					Category:    "open-management-port",
					ResourceID:  nsg.ID,
					Severity:    domain.SeverityHigh,
					Description: fmt.Sprintf("Rule %s on NSG %s allows %s (port %s) from any source", ruleName, nsg.Name, service, port),
				})
			} else if port == "*" {
				findings = append(findings, domain.RawFinding{
					ModuleCode:  m.Code(),
					Category:    "open-all-ports",
					ResourceID:  nsg.ID,
					Severity:    domain.SeverityMedium,
					Description: fmt.Sprintf("Rule %s on NSG %s allows all ports from any source", ruleName, nsg.Name),
				})
			}
		}
	}
	return findings, nil
}

func isInboundAllowFromAnywhere(props map[string]interface{}) bool {
	direction, _ := props["direction"].(string)
	access, _ := props["access"].(string)
	source, _ := props["sourceAddressPrefix"].(string)
	if !strings.EqualFold(direction, "Inbound") || !strings.EqualFold(access, "Allow") {
		return false
	}
	return source == "*" || source == "0.0.0.0/0" || strings.EqualFold(source, "Internet")
}
