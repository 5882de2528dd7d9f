package diagnostics

import "testing"

func TestCollect_PopulatesCoreFields(t *testing.T) {
	info := Collect()

	if info.Arch == "" {
		t.Error("expected non-empty Arch")
	}
	if info.OS == "" {
		t.Error("expected non-empty OS")
	}
	if info.GoVersion == "" {
		t.Error("expected non-empty GoVersion")
	}
	if info.NumCPU <= 0 {
		t.Errorf("expected positive NumCPU, got %d", info.NumCPU)
	}
	if info.SIMD == nil {
		t.Error("expected non-nil SIMD map")
	}
}

func TestAsMap_IncludesCoreAndSIMDFields(t *testing.T) {
	info := Collect()
	m := info.AsMap()

	for _, key := range []string{"arch", "os", "go_version", "num_cpu"} {
		if _, ok := m[key]; !ok {
			t.Errorf("AsMap() missing field %q", key)
		}
	}

	for feature := range info.SIMD {
		if _, ok := m["simd_"+feature]; !ok {
			t.Errorf("AsMap() missing simd field for %q", feature)
		}
	}
}
