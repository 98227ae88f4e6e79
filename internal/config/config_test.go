package config

import (
	"strings"
	"testing"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	data map[string]any
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: make(map[string]any)}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b *mapBackend) SetString(key, val string) error { b.data[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *mapBackend) Delete(key string) error          { delete(b.data, key); return nil }

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("STUDYDESK_GEMINI_API_KEY", "")

	_, err := loadWith(newMapBackend())
	if err == nil {
		t.Fatal("Load succeeded without an API key")
	}
	if !strings.Contains(err.Error(), "STUDYDESK_GEMINI_API_KEY") {
		t.Errorf("error does not name the env var: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STUDYDESK_GEMINI_API_KEY", "test-key")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Gemini.Model != "gemini-flash-latest" {
		t.Errorf("Model = %q", cfg.Gemini.Model)
	}
	if cfg.Gemini.APIKey != "test-key" {
		t.Errorf("APIKey = %q", cfg.Gemini.APIKey)
	}
	if cfg.Tasks.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Tasks.Workers)
	}
}

func TestLoad_BackendOverridesDefaults(t *testing.T) {
	t.Setenv("STUDYDESK_GEMINI_API_KEY", "test-key")

	b := newMapBackend()
	b.SetInt("server.port", 9999)
	b.SetString("gemini.model", "gemini-pro-latest")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Gemini.Model != "gemini-pro-latest" {
		t.Errorf("Model = %q", cfg.Gemini.Model)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	t.Setenv("STUDYDESK_GEMINI_API_KEY", "test-key")
	t.Setenv("STUDYDESK_SERVER_PORT", "7777")

	b := newMapBackend()
	b.SetInt("server.port", 9999)

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want 7777", cfg.Server.Port)
	}
}

func TestLoad_InvalidEnvIntFallsBack(t *testing.T) {
	t.Setenv("STUDYDESK_GEMINI_API_KEY", "test-key")
	t.Setenv("STUDYDESK_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Port = %d, want default 4200", cfg.Server.Port)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKeyOn(b, "gemini.model", "gemini-pro-latest"); err != nil {
		t.Fatalf("SetKey string: %v", err)
	}
	if v, _, _ := b.GetString("gemini.model"); v != "gemini-pro-latest" {
		t.Errorf("stored value = %q", v)
	}

	if err := setKeyOn(b, "server.port", "8080"); err != nil {
		t.Fatalf("SetKey int: %v", err)
	}
	if err := setKeyOn(b, "server.port", "eighty"); err == nil {
		t.Error("non-integer port accepted")
	}

	if err := setKeyOn(b, "gemini.api_key", "leak"); err == nil {
		t.Error("secret key accepted via SetKey")
	}
	if err := setKeyOn(b, "no.such.key", "x"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestShowAllOmitsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Gemini.APIKey = "secret-value"

	for _, ki := range ShowAll(cfg) {
		if ki.Key == "gemini.api_key" || ki.Value == "secret-value" {
			t.Errorf("secret leaked via ShowAll: %+v", ki)
		}
		if ki.Key == "server.token" {
			t.Errorf("token leaked via ShowAll: %+v", ki)
		}
	}
}
