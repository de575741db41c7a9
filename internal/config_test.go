package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/fraudlink/internal/matcher"
	pkgconfig "github.com/starford/fraudlink/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     StorageConfig
		wantErr bool
	}{
		{"sqlite", StorageConfig{Driver: DriverSQLite, SQLite: SQLiteConfig{Path: "x.db"}}, false},
		{"sqlite without path", StorageConfig{Driver: DriverSQLite}, true},
		{"badger", StorageConfig{Driver: DriverBadger, Badger: BadgerConfig{Path: "data"}}, false},
		{"badger in memory", StorageConfig{Driver: DriverBadger, Badger: BadgerConfig{InMemory: true}}, false},
		{"badger without path", StorageConfig{Driver: DriverBadger}, true},
		{"unknown driver", StorageConfig{Driver: "neo4j"}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestResolverConfig(t *testing.T) {
	neg := -1
	cases := []ResolverConfig{
		{MaxDepth: -1},
		{MinConfidence: 101},
		{Limit: &neg},
		{Timeout: Duration(-time.Second)},
	}
	for _, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("%+v: expected validation error", c)
		}
	}

	limit := 5
	c := ResolverConfig{MaxDepth: 3, MinConfidence: 40, Limit: &limit}
	opts := c.Options()
	if *opts.MaxDepth != 3 || *opts.MinConfidence != 40 || *opts.Limit != 5 {
		t.Errorf("options = %+v", opts)
	}
}

func TestFullConfig_MatcherValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Matchers = map[string]matcher.Config{"email": {Confidence: 150}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch matcher error")
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	t.Setenv("FRAUDLINK_TOKEN", "s3cret")
	p := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
storage:
  driver: badger
  badger:
    in_memory: true
matchers:
  customer.email:
    confidence: 90
    importance: 70
    normalize: lower
resolver:
  max_depth: 4
  limit: 20
  timeout: 750ms
worker:
  concurrency: 2
  spool_dir: ""
auth:
  mode: token
  token: ${FRAUDLINK_TOKEN}
`
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Storage.Driver != DriverBadger || !cfg.Storage.Badger.InMemory {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if m := cfg.Matchers["customer.email"]; m.Confidence != 90 || m.Normalize != "lower" {
		t.Errorf("matcher = %+v", m)
	}
	if cfg.Resolver.MaxDepth != 4 || *cfg.Resolver.Limit != 20 || time.Duration(cfg.Resolver.Timeout) != 750*time.Millisecond {
		t.Errorf("resolver = %+v", cfg.Resolver)
	}
	if !cfg.Resolver.Pushdown {
		t.Error("pushdown default should survive a file that omits it")
	}
	if cfg.Worker.SpoolDir != "" || cfg.Worker.Concurrency != 2 {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Auth.Token != "s3cret" {
		t.Errorf("token = %q", cfg.Auth.Token)
	}
}

func TestLoadTOMLConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.toml")
	data := `
[app]
log_level = "warn"

[app.http]
port = 7070

[storage]
driver = "sqlite"

[storage.sqlite]
path = "linker.db"

[matchers."device.id"]
confidence = 75
importance = 60

[resolver]
timeout = "2s"
`
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelWarn || cfg.App.HTTP.Port != 7070 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Storage.SQLite.Path != "linker.db" {
		t.Errorf("sqlite path = %q", cfg.Storage.SQLite.Path)
	}
	if cfg.Matchers["device.id"].Confidence != 75 {
		t.Errorf("matchers = %+v", cfg.Matchers)
	}
	if time.Duration(cfg.Resolver.Timeout) != 2*time.Second {
		t.Errorf("timeout = %v", time.Duration(cfg.Resolver.Timeout))
	}
}
