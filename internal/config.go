package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/othala/internal/circuit"
	"github.com/starford/othala/internal/docpath"
	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/templates"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Documents DocumentsConfig   `yaml:"documents"`
	Templates TemplatesConfig   `yaml:"templates"`
	Render    RenderConfig      `yaml:"render"`
	Issuers   IssuersConfig     `yaml:"issuers"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Documents, &c.Templates, &c.Render, &c.Issuers, &c.SQLite, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DocumentsConfig locates rendered PDFs on disk and on the web.
type DocumentsConfig struct {
	Root     string `yaml:"root"`
	MediaURL string `yaml:"media_url"`
}

var mediaURLPattern = regexp.MustCompile(`^(/[A-Za-z0-9._~-]+)+/$`)

// reservedPrefixes are mounted by the HTTP server ahead of the media router.
var reservedPrefixes = []any{"api", "health", "metrics"}

// Validate normalizes the media URL prefix and validates the documents
// configuration.
func (c *DocumentsConfig) Validate() error {
	c.MediaURL = docpath.NormalizeMediaURL(c.MediaURL)
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.MediaURL,
			validation.Match(mediaURLPattern).Error("must be a URL path below the root, such as /media/"),
			validation.By(func(value any) error {
				first, _, _ := strings.Cut(strings.Trim(value.(string), "/"), "/")
				return validation.NotIn(reservedPrefixes...).Error("uses a reserved prefix").Validate(first)
			}),
		),
	)
}

// TemplatesConfig holds the optional disk layer over the embedded templates.
//
// Overrides name, per qualified kind, the structure and style template files
// to use instead of the kind's defaults.
type TemplatesConfig struct {
	Root      string                        `yaml:"root"`
	Watch     bool                          `yaml:"watch"`
	Overrides map[string]templates.Override `yaml:"overrides"`
}

// Validate validates the templates configuration.
func (c *TemplatesConfig) Validate() error {
	if c.Watch && c.Root == "" {
		return errors.New("templates: watch requires a root directory")
	}
	for kind, o := range c.Overrides {
		if o.Structure == "" && o.Style == "" {
			return fmt.Errorf("templates: override for %q names no template", kind)
		}
	}
	return nil
}

// RenderConfig bounds and guards PDF rendering.
type RenderConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	Workers          int           `yaml:"workers"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	Author           string        `yaml:"author"`
	AssetsRoot       string        `yaml:"assets_root"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.SuccessThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.Cooldown, validation.Required, validation.Min(time.Second)),
	)
}

// IssuersConfig selects the kinds this deployment issues.
//
// Version is stamped into the PDF producer metadata. An empty Enabled list
// enables every builtin kind.
type IssuersConfig struct {
	Version string   `yaml:"version"`
	Enabled []string `yaml:"enabled"`
}

// Validate validates the issuers configuration.
func (c *IssuersConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Version, validation.Required),
		validation.Field(&c.Enabled, validation.Each(validation.Required)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Documents: DocumentsConfig{
			Root:     "./documents",
			MediaURL: docpath.DefaultMediaURL,
		},
		Render: RenderConfig{
			Timeout:          document.DefaultTimeout,
			Workers:          document.DefaultWorkers,
			FailureThreshold: circuit.DefaultFailureThreshold,
			SuccessThreshold: circuit.DefaultSuccessThreshold,
			Cooldown:         circuit.DefaultCooldown,
		},
		Issuers: IssuersConfig{
			Version: "dev",
		},
		SQLite: SQLiteConfig{
			Path: "./othala.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
