package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		orig, had := os.LookupEnv(k)
		os.Setenv(k, v)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		"SPLYNX_BASE_URL": "https://splynx.example.com",
		"SPLYNX_USER":     "admin",
		"SPLYNX_PASSWORD": "secret",
		"DB_NAME":         "splynx_tickets",
		"DB_USER":         "app",
	}
}

func TestLoad_UsesDefaultsForUnsetOptionalVars(t *testing.T) {
	clearEnv(t, "DB_HOST", "DB_PORT", "LISTEN_PORT", "LOG_LEVEL", "SCHEDULER_LOCK_PATH", "SPLYNX_SSL_VERIFY")
	setEnv(t, requiredEnv())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Host != "localhost" {
		t.Errorf("DB.Host = %q, want localhost", cfg.DB.Host)
	}
	if cfg.DB.Port != 3306 {
		t.Errorf("DB.Port = %d, want 3306", cfg.DB.Port)
	}
	if cfg.Listen.Port != 8000 {
		t.Errorf("Listen.Port = %d, want 8000", cfg.Listen.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.LockPath != "/tmp/splynx_scheduler.lock" {
		t.Errorf("LockPath = %q, want default lock path", cfg.LockPath)
	}
	if !cfg.Splynx.SSLVerify {
		t.Error("expected SSLVerify to default true")
	}
}

func TestLoad_ReadsOverrides(t *testing.T) {
	setEnv(t, requiredEnv())
	setEnv(t, map[string]string{
		"DB_HOST":           "db.internal",
		"DB_PORT":           "3307",
		"SPLYNX_SSL_VERIFY": "false",
		"EVOLUTION_API_KEY": "evo-key",
		"LOG_LEVEL":         "debug",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Host != "db.internal" || cfg.DB.Port != 3307 {
		t.Errorf("DB = %+v, want overridden host/port", cfg.DB)
	}
	if cfg.Splynx.SSLVerify {
		t.Error("expected SSLVerify false")
	}
	if cfg.Evolution.APIKey != "evo-key" {
		t.Errorf("Evolution.APIKey = %q, want evo-key", cfg.Evolution.APIKey)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_MissingRequiredVarFails(t *testing.T) {
	clearEnv(t, "SPLYNX_BASE_URL", "SPLYNX_USER", "SPLYNX_PASSWORD", "DB_NAME", "DB_USER")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when required variables are unset")
	}
}

func TestLoad_FileValuesUsedWhenEnvUnset(t *testing.T) {
	clearEnv(t, "SPLYNX_BASE_URL", "SPLYNX_USER", "SPLYNX_PASSWORD", "DB_NAME", "DB_USER",
		"DB_HOST", "DB_PORT", "SPLYNX_SSL_VERIFY")

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	yamlBody := "splynx:\n  base_url: https://file.example.com\n  user: fileuser\n  password: filepass\n  ssl_verify: false\ndb:\n  name: filedb\n  user: fileuser\n"
	if err := os.WriteFile(filepath.Join(dir, "splynx-tickets.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Splynx.BaseURL != "https://file.example.com" {
		t.Errorf("Splynx.BaseURL = %q, want file value", cfg.Splynx.BaseURL)
	}
	if cfg.Splynx.SSLVerify {
		t.Error("expected SSLVerify false from file")
	}
	if cfg.DB.Name != "filedb" {
		t.Errorf("DB.Name = %q, want filedb", cfg.DB.Name)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t, "SPLYNX_SSL_VERIFY")
	setEnv(t, requiredEnv())
	setEnv(t, map[string]string{"SPLYNX_BASE_URL": "https://env.example.com"})

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	yamlBody := "splynx:\n  base_url: https://file.example.com\n"
	if err := os.WriteFile(filepath.Join(dir, "splynx-tickets.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Splynx.BaseURL != "https://env.example.com" {
		t.Errorf("Splynx.BaseURL = %q, want env value to win over file", cfg.Splynx.BaseURL)
	}
}

