package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode       string `yaml:"mode"`
	AccountKey string `yaml:"account_key"`

	Database struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		Name            string `yaml:"name"`
		User            string `yaml:"user"`
		SSLMode         string `yaml:"ssl_mode"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	OAuth struct {
		TokenURL          string `yaml:"token_url"`
		AuthorizeURL      string `yaml:"authorize_url"`
		CallbackURL       string `yaml:"callback_url"`
		RefreshMarginSecs int    `yaml:"refresh_margin_seconds"`
		CacheTTLSecs      int    `yaml:"cache_ttl_seconds"`
		RetryAttempts     int    `yaml:"retry_attempts"`
		RetryBaseMillis   int    `yaml:"retry_base_millis"`
		RetryMaxMillis    int    `yaml:"retry_max_millis"`
		RefreshTTLDays    int    `yaml:"refresh_ttl_days"`
	} `yaml:"oauth"`

	Broker struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"broker"`

	Approval struct {
		Bypass         bool     `yaml:"bypass"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
		PollSeconds    int      `yaml:"poll_seconds"`
		Approvers      []string `yaml:"approvers"`
		DiscordChannel string   `yaml:"discord_channel"`
	} `yaml:"approval"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.AccountKey == "" {
		return fmt.Errorf("account_key cannot be empty")
	}
	if c.OAuth.TokenURL == "" {
		return fmt.Errorf("oauth.token_url cannot be empty")
	}
	if c.OAuth.RefreshMarginSecs < 0 {
		return fmt.Errorf("oauth.refresh_margin_seconds must be >= 0, got %d", c.OAuth.RefreshMarginSecs)
	}
	if c.OAuth.RetryAttempts < 1 {
		return fmt.Errorf("oauth.retry_attempts must be >= 1, got %d", c.OAuth.RetryAttempts)
	}
	if c.Approval.TimeoutSeconds <= 0 {
		return fmt.Errorf("approval.timeout_seconds must be > 0, got %d", c.Approval.TimeoutSeconds)
	}
	if !c.Approval.Bypass && len(c.Approval.Approvers) == 0 {
		return fmt.Errorf("approval.approvers cannot be empty unless bypass is set")
	}
	return nil
}

// RefreshMargin returns the access-token safety margin as a duration.
func (c *Config) RefreshMargin() time.Duration {
	return time.Duration(c.OAuth.RefreshMarginSecs) * time.Second
}

// ApprovalTimeout returns the default approval timeout as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Approval.TimeoutSeconds) * time.Second
}

// ApprovalPoll returns the store poll interval used as a wake-up backstop.
func (c *Config) ApprovalPoll() time.Duration {
	return time.Duration(c.Approval.PollSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyDefaults(&c)
	applyEnvOverrides(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func applyDefaults(c *Config) {
	if c.AccountKey == "" {
		c.AccountKey = "default"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.OAuth.RefreshMarginSecs == 0 {
		c.OAuth.RefreshMarginSecs = 60
	}
	if c.OAuth.CacheTTLSecs == 0 {
		c.OAuth.CacheTTLSecs = 300
	}
	if c.OAuth.RetryAttempts == 0 {
		c.OAuth.RetryAttempts = 3
	}
	if c.OAuth.RetryBaseMillis == 0 {
		c.OAuth.RetryBaseMillis = 500
	}
	if c.OAuth.RetryMaxMillis == 0 {
		c.OAuth.RetryMaxMillis = 5000
	}
	if c.OAuth.RefreshTTLDays == 0 {
		c.OAuth.RefreshTTLDays = 7
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 30
	}
	if c.Approval.TimeoutSeconds == 0 {
		c.Approval.TimeoutSeconds = 600
	}
	if c.Approval.PollSeconds == 0 {
		c.Approval.PollSeconds = 2
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// Secrets and deploy-specific values come from the environment so the YAML
// file can live in version control.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("GATEWAY_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("GATEWAY_DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("GATEWAY_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("GATEWAY_APPROVAL_BYPASS"); v != "" {
		c.Approval.Bypass = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	if v := os.Getenv("GATEWAY_APPROVERS"); v != "" {
		c.Approval.Approvers = splitAndTrim(v)
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
