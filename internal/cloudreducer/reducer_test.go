package cloudreducer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFile(t *testing.T) {
	content := "# ID = 1\n" +
		"# SITE = 100.0 30.0 1000.0\n" +
		"# STEP = 15.0 10.0\n" +
		"2\n" +
		"2026-08-06T12:00:00Z\n" +
		"0.0 90.0 0\n" +
		"15.0 80.0 8\n" +
		"30.0 80.0 3\n"

	dir := t.TempDir()
	path := filepath.Join(dir, "exchange.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write exchange file: %v", err)
	}

	m, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if m.TS != "2026-08-06T12:00:00Z" {
		t.Errorf("TS = %q", m.TS)
	}
	if m.AzStep != 15.0 || m.ElStep != 10.0 {
		t.Errorf("step = %v/%v, want 15/10", m.AzStep, m.ElStep)
	}
	if len(m.Zones) != 3 {
		t.Fatalf("zones = %d, want 3", len(m.Zones))
	}
	// sorted descending el, ascending az within equal el
	if m.Zones[0].El != 90.0 {
		t.Errorf("zone[0].El = %v, want 90", m.Zones[0].El)
	}
	if m.Zones[1].Az != 15.0 || m.Zones[2].Az != 30.0 {
		t.Errorf("az order wrong: %+v", m.Zones)
	}
}

func TestParseFileRejectsMissing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
