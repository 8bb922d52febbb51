package modules

import (
	"context"
	"strings"
	"testing"

	"github.com/nimbusops/nimbus/internal/domain"
)

type stubModule struct {
	code string
}

func (m stubModule) Code() string { return m.code }

func (m stubModule) Collect(_ context.Context, _ *Target) ([]domain.RawFinding, error) {
	return nil, nil
}

// TestRegistryResolve verifies exact-code resolution is case insensitive
func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(10, stubModule{code: "NETWORK"})
	r.Register(20, stubModule{code: "BACKUP"})

	testCases := []struct {
		name    string
		code    string
		want    string
		wantErr bool
	}{
		{"exact match", "NETWORK", "NETWORK", false},
		{"lowercase match", "backup", "BACKUP", false},
		{"unknown code", "IDENTITY", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := r.Resolve(tc.code)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error for unknown code")
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tc.code, err)
			}
			if m.Code() != tc.want {
				t.Errorf("Resolve(%q) = %s, want %s", tc.code, m.Code(), tc.want)
			}
		})
	}
}

// TestRegistryUnknownCodeListsKnown verifies the error names the known codes
func TestRegistryUnknownCodeListsKnown(t *testing.T) {
	r := NewRegistry()
	r.Register(10, stubModule{code: "NETWORK"})

	_, err := r.Resolve("NOPE")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "NETWORK") {
		t.Errorf("error should list known codes, got: %v", err)
	}
}

// TestRegistryPriorityOrder verifies that the lowest priority matcher wins
// when several match the same code
func TestRegistryPriorityOrder(t *testing.T) {
	r := NewRegistry()
	fallback := stubModule{code: "FALLBACK"}
	specific := stubModule{code: "SPECIFIC"}

	// Registration order is deliberately reversed from priority order.
	r.RegisterMatcher(Matcher{
		Priority: 100,
		Matches:  func(code string) bool { return true },
		Module:   fallback,
	})
	r.RegisterMatcher(Matcher{
		Priority: 1,
		Matches:  func(code string) bool { return code == "COST" },
		Module:   specific,
	})

	m, err := r.Resolve("COST")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if m.Code() != "SPECIFIC" {
		t.Errorf("expected lowest-priority matcher to win, got %s", m.Code())
	}

	m, err = r.Resolve("ANYTHING")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if m.Code() != "FALLBACK" {
		t.Errorf("expected fallback matcher for unmatched code, got %s", m.Code())
	}
}

// TestRegistryKnownAndCodes verifies the lookup helpers
func TestRegistryKnownAndCodes(t *testing.T) {
	r := NewRegistry()
	r.Register(20, stubModule{code: "BACKUP"})
	r.Register(10, stubModule{code: "NETWORK"})

	if !r.Known("NETWORK") || !r.Known("BACKUP") {
		t.Error("registered codes should be known")
	}
	if r.Known("IDENTITY") {
		t.Error("unregistered code should not be known")
	}

	codes := r.Codes()
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %d", len(codes))
	}
	if codes[0] != "NETWORK" || codes[1] != "BACKUP" {
		t.Errorf("codes not in priority order: %v", codes)
	}
}
