package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solace.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("SOLACE_TEST_PORT", "9090")
	path := writeConfig(t, `{
		"server": {"port": ${SOLACE_TEST_PORT:8080}},
		"agency": {"trigger_interval_seconds": 15, "catalog_path": "${SOLACE_TEST_CATALOG:}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Agency.TriggerIntervalSeconds != 15 {
		t.Errorf("trigger interval: got %d", cfg.Agency.TriggerIntervalSeconds)
	}
	if cfg.Agency.CatalogPath != "" {
		t.Errorf("catalog path: got %q, want empty default", cfg.Agency.CatalogPath)
	}
}

func TestLoadUsesDefaultsWhenEnvUnset(t *testing.T) {
	path := writeConfig(t, `{"server": {"port": ${SOLACE_UNSET_PORT:8080}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: got %d, want 8080 default", cfg.Server.Port)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}
