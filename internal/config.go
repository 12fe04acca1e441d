package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/collaborator"
	"github.com/starford/inkwell/internal/docservice"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// AI providers.
const (
	AIProviderNone      = "none"
	AIProviderAnthropic = "anthropic"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Editor EditorConfig      `yaml:"editor"`
	AI     AIConfig          `yaml:"ai"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Editor.Validate(); err != nil {
		return err
	}
	return c.AI.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
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

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
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
	// Normalise empty mode to "disabled" for backward compatibility.
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

// EditorConfig tunes editing sessions: the editor mode, streaming pace and
// undo history.
type EditorConfig struct {
	Mode            string        `yaml:"mode"`
	ChunkSize       int           `yaml:"chunk_size"`
	ChunkInterval   time.Duration `yaml:"chunk_interval"`
	PendingDwell    time.Duration `yaml:"pending_dwell"`
	EditPause       time.Duration `yaml:"edit_pause"`
	HistoryLimit    int           `yaml:"history_limit"`
	HistoryDebounce time.Duration `yaml:"history_debounce"`
}

// Validate validates the editor configuration.
func (c *EditorConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = docservice.ModeStructured
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(docservice.ModeStructured, docservice.ModeFlat)),
		validation.Field(&c.ChunkSize, validation.Min(0)),
		validation.Field(&c.ChunkInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.PendingDwell, validation.Min(time.Duration(0))),
		validation.Field(&c.EditPause, validation.Min(time.Duration(0))),
		validation.Field(&c.HistoryLimit, validation.Min(0)),
		validation.Field(&c.HistoryDebounce, validation.Min(time.Duration(0))),
	)
}

// Settings converts the section into session settings. Zero values keep the
// engine defaults.
func (c *EditorConfig) Settings() docservice.Settings {
	st := docservice.DefaultSettings()
	st.Mode = c.Mode
	if c.ChunkSize > 0 {
		st.ChunkSize = c.ChunkSize
	}
	if c.ChunkInterval > 0 {
		st.ChunkInterval = c.ChunkInterval
	}
	if c.PendingDwell > 0 {
		st.PendingDwell = c.PendingDwell
	}
	if c.EditPause > 0 {
		st.EditPause = c.EditPause
	}
	if c.HistoryLimit > 0 {
		st.HistoryLimit = c.HistoryLimit
	}
	if c.HistoryDebounce > 0 {
		st.HistoryDebounce = c.HistoryDebounce
	}
	return st
}

// AIConfig selects and configures the AI service that proposes edits.
//
// Provider "none" (default) leaves the server usable for manual editing;
// AI edit requests then fail with a service error.
type AIConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxTokens         int           `yaml:"max_tokens"`
}

// Validate validates the AI configuration.
func (c *AIConfig) Validate() error {
	if c.Provider == "" {
		c.Provider = AIProviderNone
	}
	anthropic := c.Provider == AIProviderAnthropic
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In(AIProviderNone, AIProviderAnthropic)),
		validation.Field(&c.APIKey, validation.When(anthropic, validation.Required)),
		validation.Field(&c.Model, validation.When(anthropic, validation.Required)),
		validation.Field(&c.RequestsPerMinute, validation.Min(0)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
	)
}

// Collaborator builds the configured AI service.
func (c *AIConfig) Collaborator() collaborator.Collaborator {
	if c.Provider != AIProviderAnthropic {
		return collaborator.Unavailable{}
	}
	return collaborator.NewAnthropic(collaborator.AnthropicConfig{
		APIKey:            c.APIKey,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		MaxTokens:         c.MaxTokens,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
	})
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./inkwell.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Editor: EditorConfig{
			Mode:            docservice.ModeStructured,
			ChunkSize:       3,
			ChunkInterval:   20 * time.Millisecond,
			PendingDwell:    500 * time.Millisecond,
			EditPause:       200 * time.Millisecond,
			HistoryLimit:    50,
			HistoryDebounce: time.Second,
		},
		AI: AIConfig{
			Provider:  AIProviderNone,
			Model:     "claude-sonnet-4-5",
			Timeout:   2 * time.Minute,
			MaxTokens: 4096,
		},
	}
}
