package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultHasSaneValues(t *testing.T) {
	d := Default()
	if d.Redundancy < 1 {
		t.Errorf("expected redundancy >= 1, got %d", d.Redundancy)
	}
	if len(d.Servers) == 0 {
		t.Error("expected at least one default server entry")
	}
	if d.QueryIntervalMs != 100 || d.QueryTimeoutMs != 5000 {
		t.Errorf("unexpected handshake defaults: %+v", d)
	}
}

func TestDurationHelpers(t *testing.T) {
	c := Default()
	if c.QueryInterval().Milliseconds() != int64(c.QueryIntervalMs) {
		t.Errorf("QueryInterval mismatch")
	}
	if c.QueryTimeout().Milliseconds() != int64(c.QueryTimeoutMs) {
		t.Errorf("QueryTimeout mismatch")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.Username = "tester"
	cfg.DefaultGroup = "band-practice"

	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := Load()
	if got.Username != "tester" || got.DefaultGroup != "band-practice" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestLoadFallsBackToDefaultWhenMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "does-not-exist"))
	got := Load()
	want := Default()
	if got.Redundancy != want.Redundancy || len(got.Servers) != len(want.Servers) {
		t.Errorf("expected default config, got %+v", got)
	}
}
