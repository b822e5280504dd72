package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

// chdirWithConfig creates a temp project root containing config/test.yaml with
// the given content and chdirs into it for the duration of the test.
func chdirWithConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	if content != "" {
		if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "config", "test.yaml"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Chdir(dir)
	t.Setenv("ENV_NAME", "test")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/uvceed_test")
}

func TestLoad_Defaults(t *testing.T) {
	chdirWithConfig(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.RefreshTimeout != 55*time.Second {
		t.Errorf("RefreshTimeout = %v, want 55s", cfg.RefreshTimeout)
	}
	if cfg.NSSPPathogen != models.PathogenCombined {
		t.Errorf("NSSPPathogen = %q, want combined", cfg.NSSPPathogen)
	}
	if cfg.NSSPWeeks != 16 {
		t.Errorf("NSSPWeeks = %d, want 16", cfg.NSSPWeeks)
	}
	if cfg.SweepMaxAge != 30*24*time.Hour {
		t.Errorf("SweepMaxAge = %v, want 720h", cfg.SweepMaxAge)
	}

	wantTypes := []models.SignalType{models.SignalWastewater, models.SignalNSSPEDVisit}
	if len(cfg.SignalTypes) != len(wantTypes) {
		t.Fatalf("SignalTypes = %v, want %v", cfg.SignalTypes, wantTypes)
	}
	for i, st := range wantTypes {
		if cfg.SignalTypes[i] != st {
			t.Errorf("SignalTypes[%d] = %q, want %q", i, cfg.SignalTypes[i], st)
		}
		if cfg.SignalTTLs[st] != 12*time.Hour {
			t.Errorf("SignalTTLs[%s] = %v, want 12h", st, cfg.SignalTTLs[st])
		}
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	chdirWithConfig(t, "")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for missing DATABASE_URL")
	}
}

func TestLoad_YAMLOverrides(t *testing.T) {
	chdirWithConfig(t, `
server:
  port: "9090"
refresh:
  timeout: 30s
signals:
  enabled: [wastewater, nssp_ed_visits, ili_net]
  ttl_hours:
    wastewater: "6"
    ili_net: "48"
nssp:
  pathogen: covid
  weeks: 8
sweep:
  interval: 30m
  max_age: 168h
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.RefreshTimeout != 30*time.Second {
		t.Errorf("RefreshTimeout = %v, want 30s", cfg.RefreshTimeout)
	}
	if len(cfg.SignalTypes) != 3 {
		t.Fatalf("SignalTypes = %v, want 3 entries", cfg.SignalTypes)
	}
	if cfg.SignalTTLs[models.SignalWastewater] != 6*time.Hour {
		t.Errorf("wastewater TTL = %v, want 6h", cfg.SignalTTLs[models.SignalWastewater])
	}
	// nssp_ed_visits not listed in ttl_hours: falls back to the default
	if cfg.SignalTTLs[models.SignalNSSPEDVisit] != 12*time.Hour {
		t.Errorf("nssp_ed_visits TTL = %v, want 12h", cfg.SignalTTLs[models.SignalNSSPEDVisit])
	}
	if cfg.SignalTTLs[models.SignalILINet] != 48*time.Hour {
		t.Errorf("ili_net TTL = %v, want 48h", cfg.SignalTTLs[models.SignalILINet])
	}
	if cfg.NSSPPathogen != models.PathogenCovid {
		t.Errorf("NSSPPathogen = %q, want covid", cfg.NSSPPathogen)
	}
	if cfg.NSSPWeeks != 8 {
		t.Errorf("NSSPWeeks = %d, want 8", cfg.NSSPWeeks)
	}
	if cfg.SweepInterval != 30*time.Minute {
		t.Errorf("SweepInterval = %v, want 30m", cfg.SweepInterval)
	}
	if cfg.SweepMaxAge != 168*time.Hour {
		t.Errorf("SweepMaxAge = %v, want 168h", cfg.SweepMaxAge)
	}
}

func TestLoad_UnknownSignalType(t *testing.T) {
	chdirWithConfig(t, `
signals:
  enabled: [wastewater, bogus]
`)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for unknown signal type")
	}
}

func TestLoad_TTLForUnconfiguredType(t *testing.T) {
	chdirWithConfig(t, `
signals:
  enabled: [wastewater]
  ttl_hours:
    severity: "24"
`)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for TTL on unconfigured type")
	}
}

func TestLoad_InvalidPathogen(t *testing.T) {
	chdirWithConfig(t, `
nssp:
  pathogen: ebola
`)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for invalid pathogen")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	chdirWithConfig(t, `
server:
  port: "9090"
`)
	t.Setenv("PORT", "7070")
	t.Setenv("UVCEED_NSSP_PATHOGEN", "rsv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want env override 7070", cfg.ServerPort)
	}
	if cfg.NSSPPathogen != models.PathogenRSV {
		t.Errorf("NSSPPathogen = %q, want rsv", cfg.NSSPPathogen)
	}
}

func TestLoad_RequestTimeoutExceedsRefreshTimeout(t *testing.T) {
	chdirWithConfig(t, `
request:
  timeout: 10s
refresh:
  timeout: 40s
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.RequestTimeout <= cfg.RefreshTimeout {
		t.Errorf("RequestTimeout = %v, want > RefreshTimeout %v", cfg.RequestTimeout, cfg.RefreshTimeout)
	}
}
