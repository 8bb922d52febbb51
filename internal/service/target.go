package service

import (
	"context"
	"fmt"

	"github.com/nimbusops/nimbus/internal/azure"
	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/metricsapi"
	"github.com/nimbusops/nimbus/internal/modules"
)

// TargetBuilder assembles the collaborator set modules use against one
// customer tenant.
type TargetBuilder interface {
	Build(ctx context.Context, customer *domain.Customer, conn *domain.CloudConnection) (*modules.Target, error)
}

// AzureTargetBuilder builds targets backed by Azure management APIs and the
// shared monitoring client.
type AzureTargetBuilder struct {
	resolver *azure.CredentialResolver
	metrics  *metricsapi.Client
}

// NewAzureTargetBuilder creates a target builder.
func NewAzureTargetBuilder(resolver *azure.CredentialResolver, metrics *metricsapi.Client) *AzureTargetBuilder {
	return &AzureTargetBuilder{resolver: resolver, metrics: metrics}
}

// Build resolves the connection credential and wires the tenant-scoped
// clients.
func (b *AzureTargetBuilder) Build(ctx context.Context, customer *domain.Customer, conn *domain.CloudConnection) (*modules.Target, error) {
	cred, err := b.resolver.Resolve(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to build target for connection %s: %w", conn.ID, err)
	}

	costs, err := azure.NewCostClient(cred, conn.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to build cost client for connection %s: %w", conn.ID, err)
	}

	return &modules.Target{
		Customer:   customer,
		Connection: conn,
		Inspector:  azure.NewArmInspector(cred, conn.SubscriptionID),
		Metrics:    b.metrics,
		Costs:      costs,
	}, nil
}
