package domain

import (
	"testing"
)

// TestComputeFingerprintDeterministic verifies that the same logical finding
// always produces the same fingerprint
func TestComputeFingerprintDeterministic(t *testing.T) {
	testCases := []struct {
		name        string
		moduleCode  string
		category    string
		resourceID  string
		description string
	}{
		{
			name:        "network finding",
			moduleCode:  "NETWORK",
			category:    "exposure",
			resourceID:  "/subscriptions/abc/nsg/web-nsg",
			description: "Inbound rule allows port 22 from any source",
		},
		{
			name:        "backup finding",
			moduleCode:  "BACKUP",
			category:    "coverage",
			resourceID:  "/subscriptions/abc/vm/db01",
			description: "No recovery vault protects this subscription",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fp1 := ComputeFingerprint(tc.moduleCode, tc.category, tc.resourceID, tc.description)
			fp2 := ComputeFingerprint(tc.moduleCode, tc.category, tc.resourceID, tc.description)

			if fp1 != fp2 {
				t.Errorf("fingerprint not deterministic: %s != %s", fp1, fp2)
			}
			if len(fp1) != 64 {
				t.Errorf("unexpected fingerprint length: got %d, want 64", len(fp1))
			}
		})
	}
}

// TestComputeFingerprintNormalization verifies that case and whitespace
// differences in the description do not change the fingerprint
func TestComputeFingerprintNormalization(t *testing.T) {
	base := ComputeFingerprint("NETWORK", "exposure", "/nsg/web", "port 22 open to any")

	variants := []struct {
		name        string
		moduleCode  string
		category    string
		resourceID  string
		description string
	}{
		{"upper description", "NETWORK", "exposure", "/nsg/web", "PORT 22 OPEN TO ANY"},
		{"extra whitespace", "NETWORK", "exposure", "/nsg/web", "  port   22\topen\nto any  "},
		{"lowercase module", "network", "exposure", "/nsg/web", "port 22 open to any"},
		{"mixed case resource", "NETWORK", "exposure", "/NSG/Web", "port 22 open to any"},
		{"mixed case category", "NETWORK", "Exposure", "/nsg/web", "port 22 open to any"},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			got := ComputeFingerprint(v.moduleCode, v.category, v.resourceID, v.description)
			if got != base {
				t.Errorf("normalization failed: got %s, want %s", got, base)
			}
		})
	}
}

// TestComputeFingerprintUniqueness verifies that changing any identity field
// changes the fingerprint
func TestComputeFingerprintUniqueness(t *testing.T) {
	base := ComputeFingerprint("NETWORK", "exposure", "/nsg/web", "port 22 open")

	variants := map[string]string{
		"different module":      ComputeFingerprint("BACKUP", "exposure", "/nsg/web", "port 22 open"),
		"different category":    ComputeFingerprint("NETWORK", "coverage", "/nsg/web", "port 22 open"),
		"different resource":    ComputeFingerprint("NETWORK", "exposure", "/nsg/db", "port 22 open"),
		"different description": ComputeFingerprint("NETWORK", "exposure", "/nsg/web", "port 3389 open"),
	}

	for name, fp := range variants {
		if fp == base {
			t.Errorf("%s should produce a different fingerprint", name)
		}
	}
}

// TestComputeFingerprintFieldBoundaries verifies that field values cannot
// bleed into each other and collide
func TestComputeFingerprintFieldBoundaries(t *testing.T) {
	a := ComputeFingerprint("NET", "workexposure", "/r", "d")
	b := ComputeFingerprint("NETWORK", "exposure", "/r", "d")
	if a == b {
		t.Error("field boundary collision: concatenated fields should not match")
	}
}

// TestEnsureFingerprint verifies lazy fingerprint assignment
func TestEnsureFingerprint(t *testing.T) {
	f := RawFinding{
		ModuleCode:  "STORAGE",
		Category:    "encryption",
		ResourceID:  "/storage/acct1",
		Description: "public blob access enabled",
	}
	f.EnsureFingerprint()
	if f.Fingerprint == "" {
		t.Fatal("EnsureFingerprint left fingerprint empty")
	}

	want := f.Fingerprint
	f.Description = "changed later"
	f.EnsureFingerprint()
	if f.Fingerprint != want {
		t.Error("EnsureFingerprint overwrote an existing fingerprint")
	}
}

// TestHealthScore verifies the severity weighting and the zero floor
func TestHealthScore(t *testing.T) {
	testCases := []struct {
		name               string
		high, medium, low  int
		want               int
	}{
		{"clean run", 0, 0, 0, 100},
		{"single high", 1, 0, 0, 90},
		{"mixed severities", 2, 3, 5, 55},
		{"floored at zero", 20, 10, 10, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := HealthScore(tc.high, tc.medium, tc.low)
			if got != tc.want {
				t.Errorf("HealthScore(%d, %d, %d) = %d, want %d", tc.high, tc.medium, tc.low, got, tc.want)
			}
		})
	}
}
