// Package config loads and validates the calsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// ProviderURL is the base URL of the remote calendar provider API
	// (e.g. "https://api.calbird.io").
	ProviderURL string `yaml:"provider_url"`

	// APIToken is the bearer token used to authenticate with the provider.
	// Obtaining it (OAuth handshake) happens outside this service.
	APIToken string `yaml:"api_token"`

	// ListenAddr is the address the webhook listener binds to.
	// Defaults to ":8787".
	ListenAddr string `yaml:"listen_addr"`

	// WebhookSecret, when set, must accompany every inbound notification in
	// the X-Webhook-Token header.
	WebhookSecret string `yaml:"webhook_secret,omitempty"`

	// PollInterval controls the fallback timer that covers missed webhook
	// notifications. Minimum 30s, maximum 24h. Defaults to 5m.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PageSize bounds how many events one remote listing call returns.
	// Between 1 and 500. Defaults to 100.
	PageSize int `yaml:"page_size"`

	// SyncTimeout bounds a single sync pass. A pass exceeding it aborts
	// without advancing the cursor. Defaults to 2m.
	SyncTimeout time.Duration `yaml:"sync_timeout"`

	// DBPath overrides the default database location.
	DBPath string `yaml:"db_path,omitempty"`

	// Calendars maps barber ids to the remote calendar ids they own.
	// Example: {"marco": "cal_8fa3", "lena": "cal_91bc"}
	Calendars map[string]string `yaml:"calendars"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "calsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// CalendarToBarber returns the reverse of the Calendars mapping:
// calendar id → barber id.
func (c *Config) CalendarToBarber() map[string]string {
	m := make(map[string]string, len(c.Calendars))
	for barberID, calendarID := range c.Calendars {
		m[calendarID] = barberID
	}
	return m
}

// DefaultPath returns the default config file path: ~/.config/calsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "calsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.ProviderURL == "" {
		return fmt.Errorf("provider_url is required")
	}
	u, err := url.ParseRequestURI(c.ProviderURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("provider_url %q must be a valid http or https URL", c.ProviderURL)
	}

	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":8787"
	}

	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.PollInterval < 30*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 30s)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.PageSize == 0 {
		c.PageSize = 100
	}
	if c.PageSize < 1 || c.PageSize > 500 {
		return fmt.Errorf("page_size %d is out of range (1–500)", c.PageSize)
	}

	if c.SyncTimeout == 0 {
		c.SyncTimeout = 2 * time.Minute
	}
	if c.SyncTimeout < 5*time.Second {
		return fmt.Errorf("sync_timeout %v is too short (minimum 5s)", c.SyncTimeout)
	}

	if len(c.Calendars) == 0 {
		return fmt.Errorf("calendars must contain at least one entry")
	}
	seen := make(map[string]string, len(c.Calendars))
	for barberID, calendarID := range c.Calendars {
		if barberID == "" {
			return fmt.Errorf("calendars contains an empty barber id")
		}
		if calendarID == "" {
			return fmt.Errorf("calendars[%q] has an empty calendar id", barberID)
		}
		if other, dup := seen[calendarID]; dup {
			return fmt.Errorf("calendar %q is mapped to both %q and %q", calendarID, other, barberID)
		}
		seen[calendarID] = barberID
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
