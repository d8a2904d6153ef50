package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 3001 {
		t.Fatalf("port = %d, want 3001", cfg.Port)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("session_ttl = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.PayloadCeiling != 10*1024*1024 {
		t.Fatalf("payload_ceiling = %d", cfg.PayloadCeiling)
	}
	if cfg.EncryptPayloads {
		t.Fatal("encrypt_payloads should default off")
	}
	if !cfg.DevMode {
		t.Fatal("dev_mode should default on")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAMLINK_PORT", "8080")
	t.Setenv("CAMLINK_GEMINI_API_KEY", "test-key")
	t.Setenv("CAMLINK_ENCRYPT_PAYLOADS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.GeminiAPIKey != "test-key" {
		t.Fatalf("gemini_api_key = %q", cfg.GeminiAPIKey)
	}
	if !cfg.EncryptPayloads {
		t.Fatal("encrypt_payloads not picked up from environment")
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camlink.yaml")
	data := []byte("port: 4000\nsession_ttl: 30m\nallowed_origins:\n  - https://example.com\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 4000 {
		t.Fatalf("port = %d, want 4000", cfg.Port)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("session_ttl = %v, want 30m", cfg.SessionTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://example.com" {
		t.Fatalf("allowed_origins = %v", cfg.AllowedOrigins)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() accepted a missing config file")
	}
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("CAMLINK_PORT", "-1")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted a negative port")
	}
}
