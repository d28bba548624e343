package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFileWithEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(`
server:
  base_url: "http://file.example.com"
  port: 9090
pipeline:
  mode: "autopilot"
  dedup_window_days: 14
thresholds:
  auto_create: 0.9
logging:
  level: "debug"
`), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("HEARTH_CONFIG_FILE", cfgPath)
	t.Setenv("HEARTH_PORT", "8081")
	t.Setenv("HEARTH_BASE_URL", "http://env.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Fatalf("expected env override port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Server.BaseURL != "http://env.example.com" {
		t.Fatalf("expected env override base_url, got %s", cfg.Server.BaseURL)
	}
	if cfg.Pipeline.Mode != ModeAutopilot {
		t.Fatalf("expected autopilot mode, got %s", cfg.Pipeline.Mode)
	}
	if cfg.Pipeline.DedupWindowDays != 14 {
		t.Fatalf("expected dedup window 14, got %d", cfg.Pipeline.DedupWindowDays)
	}
	if cfg.Thresholds.AutoCreate != 0.9 {
		t.Fatalf("expected auto_create 0.9, got %v", cfg.Thresholds.AutoCreate)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging level debug, got %s", cfg.Logging.Level)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := defaults()
	cfg.Pipeline.Mode = "supervised"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown run mode")
	}
}

func TestLoadPacks(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "packs.yaml")
	if err := os.WriteFile(path, []byte(`
packs:
  - id: school
    name: "School"
    source_domains: ["*school*.org"]
    keywords: ["field trip"]
    rules:
      platforms:
        - name: "ParentSquare"
          sender_substring: "parentsquare.com"
      event_keywords: ["concert", "recital"]
      action_keywords: ["rsvp", "permission slip"]
`), 0o600); err != nil {
		t.Fatalf("failed to write packs file: %v", err)
	}

	packs, err := LoadPacks(path)
	if err != nil {
		t.Fatalf("LoadPacks failed: %v", err)
	}
	if len(packs) != 1 {
		t.Fatalf("expected 1 pack, got %d", len(packs))
	}

	pack := FindPack(packs, "school")
	if pack == nil {
		t.Fatal("FindPack returned nil")
	}
	if len(pack.Rules.Platforms) != 1 || pack.Rules.Platforms[0].Name != "ParentSquare" {
		t.Fatalf("platform rules not parsed: %+v", pack.Rules.Platforms)
	}

	kws := pack.AllKeywords()
	if len(kws) != 5 {
		t.Fatalf("expected 5 merged keywords, got %d: %v", len(kws), kws)
	}
}

func TestLoadPacksDuplicateID(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "packs.yaml")
	os.WriteFile(path, []byte("packs:\n  - id: a\n  - id: a\n"), 0o600)

	if _, err := LoadPacks(path); err == nil {
		t.Fatal("expected duplicate pack id error")
	}
}
