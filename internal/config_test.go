package internal

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	pkgconfig "github.com/starford/othala/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	if cfg.Documents.MediaURL != "/media/" {
		t.Errorf("media_url = %q", cfg.Documents.MediaURL)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv("OTHALA_TEST_ROOT", "/srv/documents")
	path := writeConfig(t, `
app:
  log_level: debug
  log_format: text
  http:
    port: 9090
documents:
  root: ${OTHALA_TEST_ROOT}
templates:
  root: ./templates
  watch: true
  overrides:
    howard.invoice:
      structure: invoice-2024.layout.yaml.tmpl
render:
  timeout: 5s
  workers: 2
  cooldown: 1m
issuers:
  version: "1.4.0"
  enabled: [howard.invoice, marion.dummy-document]
`)
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("log_level = %v", cfg.App.LogLevel)
	}
	if cfg.App.LogFormat != LogFormatText {
		t.Errorf("log_format = %q", cfg.App.LogFormat)
	}
	if cfg.App.HTTP.Address() != ":9090" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
	if cfg.Documents.Root != "/srv/documents" {
		t.Errorf("root = %q, want env expansion", cfg.Documents.Root)
	}
	if cfg.Templates.Overrides["howard.invoice"].Structure != "invoice-2024.layout.yaml.tmpl" {
		t.Errorf("overrides = %+v", cfg.Templates.Overrides)
	}
	if cfg.Render.Timeout != 5*time.Second || cfg.Render.Cooldown != time.Minute {
		t.Errorf("durations = %v, %v", cfg.Render.Timeout, cfg.Render.Cooldown)
	}
	if cfg.Render.FailureThreshold != 5 {
		t.Errorf("failure_threshold = %d, want default 5", cfg.Render.FailureThreshold)
	}
	if len(cfg.Issuers.Enabled) != 2 {
		t.Errorf("enabled = %v", cfg.Issuers.Enabled)
	}
}

func TestLoadOptional_MissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), cfg); err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.SQLite.Path != "./othala.db" {
		t.Errorf("sqlite path = %q", cfg.SQLite.Path)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"log format": "app:\n  log_format: xml\n",
		"port":       "app:\n  http:\n    port: 70000\n",
		"root":       "documents:\n  root: \"\"\n",
		"workers":    "render:\n  workers: -1\n",
		"timeout":    "render:\n  timeout: 10ms\n",
		"watch":      "templates:\n  watch: true\n",
		"override":   "templates:\n  overrides:\n    howard.invoice: {}\n",
		"enabled":    "issuers:\n  enabled: [\"\"]\n",
		"auth":       "auth:\n  mode: token\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			if err := pkgconfig.Load(writeConfig(t, body), cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDocumentsConfig_EmptyMediaURLDefaults(t *testing.T) {
	cfg := DocumentsConfig{Root: "./docs"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.MediaURL != "/media/" {
		t.Errorf("media_url = %q", cfg.MediaURL)
	}
}

func TestDocumentsConfig_MediaURLIsNormalized(t *testing.T) {
	cases := map[string]string{
		"media":          "/media/",
		"/files":         "/files/",
		" pdf/issued/ ":  "/pdf/issued/",
		"/media/":        "/media/",
		"documents.v2":   "/documents.v2/",
		"/static/media/": "/static/media/",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			cfg := DocumentsConfig{Root: "./docs", MediaURL: in}
			if err := cfg.Validate(); err != nil {
				t.Fatal(err)
			}
			if cfg.MediaURL != want {
				t.Errorf("media_url = %q, want %q", cfg.MediaURL, want)
			}
			defer func() {
				if p := recover(); p != nil {
					t.Errorf("mounting %q panicked: %v", cfg.MediaURL, p)
				}
			}()
			chi.NewRouter().Mount(strings.TrimSuffix(cfg.MediaURL, "/"), http.NotFoundHandler())
		})
	}
}

func TestDocumentsConfig_InvalidMediaURL(t *testing.T) {
	for _, in := range []string{"/", "//", "/a//b/", "/{name}/", "/media/*", "/api/", "api", "/health/", "/metrics/docs/"} {
		t.Run(in, func(t *testing.T) {
			cfg := DocumentsConfig{Root: "./docs", MediaURL: in}
			if err := cfg.Validate(); err == nil {
				t.Errorf("media_url %q should be rejected", in)
			}
		})
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(writeConfig(t, "documents:\n  root: ./docs\n  media_url: /\n"), cfg); err == nil {
		t.Error("root media_url should fail to load")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled || cfg.AuthEnabled() {
		t.Errorf("mode = %q, enabled = %v", cfg.Mode, cfg.AuthEnabled())
	}
}

func TestAuthConfig_TokenMode(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeToken, Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}

	cfg.Token = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	cfg := NewDefaultConfig()
	err := pkgconfig.Load(writeConfig(t, "documents:\n  rot: ./docs\n"), cfg)
	if err == nil || !strings.Contains(err.Error(), "rot") {
		t.Errorf("unknown key should fail: %v", err)
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(writeConfig(t, ""), cfg); err != nil {
		t.Fatalf("empty file: %v", err)
	}
	if cfg.App.HTTP.Port != 8080 {
		t.Errorf("port = %d", cfg.App.HTTP.Port)
	}
}
