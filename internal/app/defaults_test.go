package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/custom/config.toml")
		t.Setenv(EnvHome, "/custom/fg")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/fg" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/fg")
		}
		if defaults["log_dir"] != "/custom/fg/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/fg/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv(EnvHome, "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "fg.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "fg")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
		if defaults["log_dir"] != filepath.Join(wantBase, "log") {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], filepath.Join(wantBase, "log"))
		}
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
			t.Fatalf("LoadEnv() error = %v", err)
		}
	})

	t.Run("sets unset variables only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		data := "FG_HOME=/from/dotenv\nFG_CONFIG_PATH=/ignored.toml\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv(EnvHome, "")
		os.Unsetenv(EnvHome)
		t.Setenv(EnvConfigPath, "/already/set.toml")

		if err := LoadEnv(path); err != nil {
			t.Fatalf("LoadEnv() error = %v", err)
		}
		if got := os.Getenv(EnvHome); got != "/from/dotenv" {
			t.Errorf("%s = %q, want %q", EnvHome, got, "/from/dotenv")
		}
		if got := os.Getenv(EnvConfigPath); got != "/already/set.toml" {
			t.Errorf("%s = %q, want %q", EnvConfigPath, got, "/already/set.toml")
		}
	})
}
