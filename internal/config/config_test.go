package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
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

func (b *mapBackend) SetString(key, val string) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

// clearEnv unsets every ATTUNED_* override so tests see only what they
// set themselves.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Advisor.DefaultUser != "local" {
		t.Errorf("default user = %q", cfg.Advisor.DefaultUser)
	}
	if cfg.CacheTTL() != 2*time.Minute {
		t.Errorf("cache ttl = %v", cfg.CacheTTL())
	}
	if cfg.WorkerPoll() != 500*time.Millisecond {
		t.Errorf("worker poll = %v", cfg.WorkerPoll())
	}
}

func TestLoadGeneratesAndPersistsToken(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if len(cfg.API.Token) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(cfg.API.Token))
	}
	persisted, ok, _ := b.GetString("api.token")
	if !ok || persisted != cfg.API.Token {
		t.Errorf("token not persisted: %q vs %q", persisted, cfg.API.Token)
	}

	// Second load reuses the stored token.
	cfg2, err := loadWith(b)
	if err != nil {
		t.Fatalf("second loadWith: %v", err)
	}
	if cfg2.API.Token != cfg.API.Token {
		t.Error("token regenerated instead of reused")
	}
}

func TestBackendOverrides(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.data["server.port"] = 9999
	b.data["log.level"] = "debug"
	b.data["advisor.cache_ttl"] = "30s"
	b.data["api.token"] = "stored-token"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.CacheTTL() != 30*time.Second {
		t.Errorf("cache ttl = %v", cfg.CacheTTL())
	}
	if cfg.API.Token != "stored-token" {
		t.Errorf("token = %q", cfg.API.Token)
	}
}

func TestEnvBeatsBackend(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.data["server.port"] = 9999
	b.data["api.token"] = "stored-token"
	t.Setenv("ATTUNED_SERVER_PORT", "4444")
	t.Setenv("ATTUNED_API_TOKEN", "env-token")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4444 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("token = %q, want env override", cfg.API.Token)
	}
	// The env token must not clobber the stored one.
	if persisted, _, _ := b.GetString("api.token"); persisted != "stored-token" {
		t.Errorf("stored token changed to %q", persisted)
	}
}

func TestBadEnvIntIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("ATTUNED_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestDurationFallback(t *testing.T) {
	cfg := defaults()
	cfg.Advisor.CacheTTL = "bogus"
	cfg.Advisor.WorkerPoll = "-5s"

	if cfg.CacheTTL() != 2*time.Minute {
		t.Errorf("cache ttl = %v, want default fallback", cfg.CacheTTL())
	}
	if cfg.WorkerPoll() != 500*time.Millisecond {
		t.Errorf("worker poll = %v, want default fallback", cfg.WorkerPoll())
	}
}

func TestShowAllSkipsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "should-not-appear"

	for _, info := range ShowAll(cfg) {
		if info.Key == "api.token" {
			t.Fatal("ShowAll leaked the api token")
		}
		if info.Value == "should-not-appear" {
			t.Fatalf("ShowAll leaked the token value under %s", info.Key)
		}
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "api.token" {
			t.Fatal("api.token should not be listed as settable")
		}
	}
}

func TestSetKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("log.level", "debug"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "attuned", "config.json"))
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("parsing config file: %v", err)
	}
	if data["log.level"] != "debug" {
		t.Errorf("config file = %v", data)
	}

	if err := SetKey("api.token", "x"); err == nil {
		t.Error("setting a secret should be refused")
	}
	if err := SetKey("bogus.key", "x"); err == nil {
		t.Error("unknown key should be refused")
	}
	if err := SetKey("server.port", "not-a-number"); err == nil {
		t.Error("non-integer port should be refused")
	}
}
