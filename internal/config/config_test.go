package config

import (
	"os"
	"path/filepath"
	"testing"

	"paper-twinview/internal/types"
)

func TestNewManager(t *testing.T) {
	t.Run("with custom path", func(t *testing.T) {
		m, err := NewManager("/tmp/twinview-test-config.json")
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		if m.configPath != "/tmp/twinview-test-config.json" {
			t.Errorf("unexpected config path %q", m.configPath)
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		m, err := NewManager("")
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		if m.configPath == "" {
			t.Error("expected non-empty default config path")
		}
	})
}

func TestManager_LoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	os.Unsetenv(EnvOpenAIAPIKey)
	os.Unsetenv(EnvOpenAIBaseURL)

	if err := m.Load(); err != nil {
		t.Fatalf("Load with missing file failed: %v", err)
	}

	cfg := m.Get()
	if cfg.OpenAIModel != DefaultModel {
		t.Errorf("model %q, want default %q", cfg.OpenAIModel, DefaultModel)
	}
	if cfg.OpenAIBaseURL != DefaultBaseURL {
		t.Errorf("base URL %q, want default %q", cfg.OpenAIBaseURL, DefaultBaseURL)
	}
	if cfg.Tone != types.ToneAcademic {
		t.Errorf("tone %q, want academic", cfg.Tone)
	}
	if cfg.RenderDPI != DefaultRenderDPI || cfg.PageCap != DefaultPageCap {
		t.Errorf("numeric defaults wrong: dpi %d cap %d", cfg.RenderDPI, cfg.PageCap)
	}
}

func TestManager_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, _ := NewManager(path)

	t.Setenv(EnvOpenAIAPIKey, "sk-env-key")
	t.Setenv(EnvOpenAIBaseURL, "https://proxy.example.com/v1")

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.GetAPIKey() != "sk-env-key" {
		t.Errorf("API key %q, want env value", m.GetAPIKey())
	}
	if m.GetBaseURL() != "https://proxy.example.com/v1" {
		t.Errorf("base URL %q, want env value", m.GetBaseURL())
	}
}

func TestManager_UpdateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, _ := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := m.Update("sk-live", "https://api.example.com/v1", "gpt-4o-mini", types.TonePlain, 20); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	m2, _ := NewManager(path)
	if err := m2.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if m2.GetAPIKey() != "sk-live" {
		t.Errorf("API key %q did not round-trip", m2.GetAPIKey())
	}
	if m2.GetModel() != "gpt-4o-mini" {
		t.Errorf("model %q did not round-trip", m2.GetModel())
	}
	if m2.GetTone() != types.TonePlain {
		t.Errorf("tone %q did not round-trip", m2.GetTone())
	}
	if m2.GetPageCap() != 20 {
		t.Errorf("page cap %d did not round-trip", m2.GetPageCap())
	}
}

func TestManager_UpdateIgnoresInvalidPageCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, _ := NewManager(path)
	m.Load()

	if err := m.Update("k", "", "", types.ToneAcademic, 0); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if m.GetPageCap() != DefaultPageCap {
		t.Errorf("page cap %d, want default preserved", m.GetPageCap())
	}
	// Empty base URL and model fall back to defaults, never to "".
	if m.GetBaseURL() != DefaultBaseURL || m.GetModel() != DefaultModel {
		t.Errorf("empty fields must re-default: %q %q", m.GetBaseURL(), m.GetModel())
	}
}

func TestManager_InvalidFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0600); err != nil {
		t.Fatal(err)
	}

	m, _ := NewManager(path)
	os.Unsetenv(EnvOpenAIAPIKey)
	os.Unsetenv(EnvOpenAIBaseURL)

	if err := m.Load(); err != nil {
		t.Fatalf("Load must tolerate a corrupt file: %v", err)
	}
	if m.GetModel() != DefaultModel {
		t.Errorf("corrupt file should yield defaults, got model %q", m.GetModel())
	}
}

func TestManager_UserStorePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	m, _ := NewManager(path)
	m.Load()

	want := filepath.Join(dir, "users.json")
	if got := m.GetUserStorePath(); got != want {
		t.Errorf("user store path %q, want %q", got, want)
	}

	m.Get().UserStorePath = "/custom/users.json"
	if got := m.GetUserStorePath(); got != "/custom/users.json" {
		t.Errorf("explicit user store path ignored: %q", got)
	}
}
