package cache

import "testing"

func TestKeyIgnoresParamOrder(t *testing.T) {
	a := Key("temperature", map[string]any{"year": 2050, "scenario": "ssp245"})
	b := Key("temperature", map[string]any{"scenario": "ssp245", "year": 2050})

	if a != b {
		t.Fatalf("keys differ for semantically equal params: %q vs %q", a, b)
	}
}

func TestKeyNestedParams(t *testing.T) {
	a := Key("hexgrid", map[string]any{
		"bounds": map[string]any{"north": 60.1, "south": 59.8},
		"res":    7,
	})
	b := Key("hexgrid", map[string]any{
		"res":    7,
		"bounds": map[string]any{"south": 59.8, "north": 60.1},
	})

	if a != b {
		t.Fatalf("keys differ for semantically equal nested params: %q vs %q", a, b)
	}
}

func TestKeyDistinguishesLayersAndParams(t *testing.T) {
	base := Key("temperature", map[string]any{"year": 2050})

	if got := Key("precipitation", map[string]any{"year": 2050}); got == base {
		t.Fatalf("different layers produced the same key: %q", got)
	}
	if got := Key("temperature", map[string]any{"year": 2051}); got == base {
		t.Fatalf("different params produced the same key: %q", got)
	}
}

func TestKeyEmptyParams(t *testing.T) {
	if got, want := Key("temperature", nil), "layer:temperature:{}"; got != want {
		t.Fatalf("nil params key = %q, want %q", got, want)
	}
	if got := Key("temperature", map[string]any{}); got != Key("temperature", nil) {
		t.Fatalf("empty and nil params should produce the same key, got %q", got)
	}
}
