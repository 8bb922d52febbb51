package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/go-resty/resty/v2"
)

const managementScope = "https://management.azure.com/.default"

// Resource is one Azure resource as returned by the management plane.
type Resource struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Location   string                 `json:"location"`
	Properties map[string]interface{} `json:"properties"`
	Tags       map[string]string      `json:"tags"`
}

type resourceList struct {
	Value    []Resource `json:"value"`
	NextLink string     `json:"nextLink"`
}

// ArmInspector lists resources in one subscription via the Azure Resource
// Manager REST API using a read-only tenant credential.
type ArmInspector struct {
	http           *resty.Client
	cred           azcore.TokenCredential
	subscriptionID string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewArmInspector creates an inspector for a subscription.
func NewArmInspector(cred azcore.TokenCredential, subscriptionID string) *ArmInspector {
	httpClient := resty.New()
	httpClient.SetBaseURL("https://management.azure.com")
	httpClient.SetTimeout(60 * time.Second)
	return &ArmInspector{
		http:           httpClient,
		cred:           cred,
		subscriptionID: subscriptionID,
	}
}

// ListResources enumerates all resources of the given provider type, e.g.
// "Microsoft.Network/networkSecurityGroups", following pagination.
func (i *ArmInspector) ListResources(ctx context.Context, resourceType, apiVersion string) ([]Resource, error) {
	token, err := i.bearer(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("/subscriptions/%s/providers/%s", i.subscriptionID, resourceType)
	query := map[string]string{"api-version": apiVersion, "$expand": "properties"}

	var all []Resource
	for {
		resp, err := i.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(query).
			Get(url)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", resourceType, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("failed to list %s: status %d", resourceType, resp.StatusCode())
		}

		var page resourceList
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("failed to decode %s listing: %w", resourceType, err)
		}
		all = append(all, page.Value...)

		if page.NextLink == "" {
			return all, nil
		}
		url = page.NextLink
		query = nil
	}
}

// bearer returns a cached management-plane token, refreshing when it is
// within a minute of expiry.
func (i *ArmInspector) bearer(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.token != "" && time.Until(i.expires) > time.Minute {
		return i.token, nil
	}

	tk, err := i.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}})
	if err != nil {
		return "", fmt.Errorf("failed to acquire management token: %w", err)
	}
	i.token = tk.Token
	i.expires = tk.ExpiresOn
	return i.token, nil
}
