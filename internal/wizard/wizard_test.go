package wizard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/pkg/cli"
)

func TestRun(t *testing.T) {
	out := &strings.Builder{}
	// Answers, in prompt order: addr, driver choice, sqlite path, generation
	// key, moderation user, moderation secret, checkout url, return url,
	// currency, signup credits.
	input := strings.Join([]string{
		":9090",
		"1",
		"test.db",
		"ck-test-key",
		"se-user",
		"se-secret",
		"https://pay.example.com/checkout",
		"https://app.example.com/done",
		"usd",
		"10",
	}, "\n") + "\n"

	w := New(cli.NewPrompter(strings.NewReader(input), out))

	path := filepath.Join(t.TempDir(), "pixelmint.json")
	if err := w.Run(path); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr: got %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "test.db" {
		t.Errorf("Storage: got %+v", cfg.Storage)
	}
	if len(cfg.Auth.JWTSecret) != 64 {
		t.Errorf("JWTSecret length: got %d, want 64", len(cfg.Auth.JWTSecret))
	}
	if cfg.Providers.Generation.APIKey != "ck-test-key" {
		t.Errorf("Generation.APIKey: got %q", cfg.Providers.Generation.APIKey)
	}
	if cfg.Providers.Moderation.APIUser != "se-user" || cfg.Providers.Moderation.APISecret != "se-secret" {
		t.Errorf("Moderation: got %+v", cfg.Providers.Moderation)
	}
	if cfg.Payments.Currency != "usd" {
		t.Errorf("Currency: got %q, want usd", cfg.Payments.Currency)
	}
	if cfg.Auth.SignupCredits != 10 {
		t.Errorf("SignupCredits: got %d, want 10", cfg.Auth.SignupCredits)
	}

	// The generated config passes validation end to end.
	if _, err := config.Load(path); err != nil {
		t.Fatalf("generated config fails to load: %v", err)
	}

	// File should be private.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions: got %o, want 600", info.Mode().Perm())
	}
}

func TestRunDefaults(t *testing.T) {
	t.Setenv("PIXELMINT_ADDR", ":7070")
	t.Setenv("PIXELMINT_STORAGE_DRIVER", "sqlite")
	t.Setenv("PIXELMINT_STORAGE_DSN", "env.db")
	t.Setenv("PIXELMINT_CLIPDROP_API_KEY", "ck-env")
	t.Setenv("PIXELMINT_CURRENCY", "eur")

	out := &strings.Builder{}
	w := New(cli.NewPrompter(strings.NewReader(""), out))

	path := filepath.Join(t.TempDir(), "pixelmint.json")
	if err := w.RunDefaults(path); err != nil {
		t.Fatalf("RunDefaults: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config fails to load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("Addr: got %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Storage.DSN != "env.db" {
		t.Errorf("DSN: got %q, want env.db", cfg.Storage.DSN)
	}
	if cfg.Providers.Generation.APIKey != "ck-env" {
		t.Errorf("APIKey: got %q, want ck-env", cfg.Providers.Generation.APIKey)
	}
	if cfg.Payments.Currency != "eur" {
		t.Errorf("Currency: got %q, want eur", cfg.Payments.Currency)
	}
}

func TestRunDefaultsPostgresRequiresDSN(t *testing.T) {
	t.Setenv("PIXELMINT_STORAGE_DRIVER", "postgres")
	t.Setenv("PIXELMINT_STORAGE_DSN", "")

	w := New(cli.NewPrompter(strings.NewReader(""), &strings.Builder{}))
	if err := w.RunDefaults(filepath.Join(t.TempDir(), "pixelmint.json")); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
}
