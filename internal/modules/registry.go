// Package modules defines the audit module contract and the registry that
// resolves module codes to implementations.
package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nimbusops/nimbus/internal/azure"
	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/metricsapi"
)

// Inspector enumerates cloud resources in the audited tenant.
type Inspector interface {
	ListResources(ctx context.Context, resourceType, apiVersion string) ([]azure.Resource, error)
}

// CostSource provides cost usage rows for the audited subscription.
type CostSource interface {
	QueryUsage(ctx context.Context, days int) ([]azure.UsageRow, error)
}

// Target carries the per-job collaborators a module may use. All credentials
// are read-only and scoped to one customer tenant.
type Target struct {
	Customer   *domain.Customer
	Connection *domain.CloudConnection
	Inspector  Inspector
	Metrics    *metricsapi.Client
	Costs      CostSource
}

// Module is one independently executable unit of audit logic. Collect may
// return findings alongside an error; findings gathered before the failure
// are kept.
type Module interface {
	Code() string
	Collect(ctx context.Context, target *Target) ([]domain.RawFinding, error)
}

// Matcher binds a predicate to a module. Matchers are evaluated in ascending
// priority order; the first match wins.
type Matcher struct {
	Priority int
	Matches  func(code string) bool
	Module   Module
}

// Registry resolves module codes through an ordered matcher list.
type Registry struct {
	matchers []Matcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a module under an exact-code matcher at the given priority.
func (r *Registry) Register(priority int, m Module) {
	code := m.Code()
	r.RegisterMatcher(Matcher{
		Priority: priority,
		Matches:  func(c string) bool { return strings.EqualFold(c, code) },
		Module:   m,
	})
}

// RegisterMatcher adds a matcher, keeping the list sorted by priority.
func (r *Registry) RegisterMatcher(m Matcher) {
	r.matchers = append(r.matchers, m)
	sort.SliceStable(r.matchers, func(i, j int) bool {
		return r.matchers[i].Priority < r.matchers[j].Priority
	})
}

// Resolve returns the module for a code, or an error listing known codes.
func (r *Registry) Resolve(code string) (Module, error) {
	for _, m := range r.matchers {
		if m.Matches(code) {
			return m.Module, nil
		}
	}
	return nil, fmt.Errorf("unknown module code %q (known: %s)", code, strings.Join(r.Codes(), ", "))
}

// Known reports whether a code resolves to a registered module.
func (r *Registry) Known(code string) bool {
	_, err := r.Resolve(code)
	return err == nil
}

// Codes returns the codes of all registered modules in priority order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.matchers))
	seen := make(map[string]bool)
	for _, m := range r.matchers {
		c := m.Module.Code()
		if !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}
	return codes
}
