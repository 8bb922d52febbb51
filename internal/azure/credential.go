// Package azure resolves per-tenant credentials and wraps the Azure
// management surfaces used by audit modules and cost reporting.
package azure

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/nimbusops/nimbus/internal/domain"
)

// SecretStore retrieves client secrets by reference. Connections persist only
// the reference; the secret value lives in an external store.
type SecretStore interface {
	GetSecret(ctx context.Context, ref string) (string, error)
}

// EnvSecretStore resolves secret references against environment variables.
// A reference "contoso-sp" maps to the variable NIMBUS_SECRET_CONTOSO_SP.
type EnvSecretStore struct{}

// GetSecret implements SecretStore.
func (EnvSecretStore) GetSecret(_ context.Context, ref string) (string, error) {
	key := "NIMBUS_SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %q not found (env %s)", ref, key)
	}
	return value, nil
}

// CredentialResolver builds read-only tenant credentials for cloud connections.
type CredentialResolver struct {
	secrets SecretStore
}

// NewCredentialResolver creates a resolver backed by the given secret store.
func NewCredentialResolver(secrets SecretStore) *CredentialResolver {
	return &CredentialResolver{secrets: secrets}
}

// Resolve returns a token credential scoped to the connection's tenant.
func (r *CredentialResolver) Resolve(ctx context.Context, conn *domain.CloudConnection) (azcore.TokenCredential, error) {
	secret, err := r.secrets.GetSecret(ctx, conn.ClientSecretRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve connection secret: %w", err)
	}

	cred, err := azidentity.NewClientSecretCredential(conn.TenantID, conn.ClientID, secret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant credential: %w", err)
	}
	return cred, nil
}
