package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level livechat configuration.
type Config struct {
	Server   ServerConfig `json:"server"`
	Store    StoreConfig  `json:"store"`
	Notify   NotifyConfig `json:"notify"`
	Sync     SyncConfig   `json:"sync"`
	LogLevel string       `json:"log_level,omitempty"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StoreConfig selects and locates the ticket store backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "jsonfile".
	Backend string `json:"backend,omitempty"`
	DataDir string `json:"data_dir"`
}

// NotifyConfig wires the notification channels.
type NotifyConfig struct {
	// AgentDeskURL is the primary bot API base URL. Empty disables the
	// primary channel.
	AgentDeskURL string `json:"agentdesk_url,omitempty"`
	// Fallback selects the secondary channel: "discord", "slack" or
	// "telegram". Empty disables the fallback.
	Fallback          string `json:"fallback,omitempty"`
	DiscordWebhookURL string `json:"discord_webhook_url,omitempty"`
	SlackWebhookURL   string `json:"slack_webhook_url,omitempty"`
	TelegramToken     string `json:"telegram_token,omitempty"`
	TelegramChatID    int64  `json:"telegram_chat_id,omitempty"`
	// RatingWebhookURL receives feedback submissions. Defaults to the
	// Discord webhook URL.
	RatingWebhookURL string `json:"rating_webhook_url,omitempty"`
	// LinkPreviews enriches notifications with readable previews of URLs
	// mentioned in visitor messages.
	LinkPreviews bool `json:"link_previews,omitempty"`
}

// SyncConfig tunes the poll protocol.
type SyncConfig struct {
	// RecencyWindow bounds which support messages a poll returns.
	RecencyWindow Duration `json:"recency_window,omitempty"`
	// PollInterval is the widget's fixed poll cadence.
	PollInterval Duration `json:"poll_interval,omitempty"`
}

// Duration is a time.Duration that JSON-round-trips as a string like "60s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from LIVECHAT_-prefixed environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getenv("LIVECHAT_HOST", "0.0.0.0"),
			Port: getenvInt("LIVECHAT_PORT", 3000),
		},
		Store: StoreConfig{
			Backend: getenv("LIVECHAT_STORE", "sqlite"),
			DataDir: getenv("LIVECHAT_DATA_DIR", "livechat_data"),
		},
		Notify: NotifyConfig{
			AgentDeskURL:      os.Getenv("LIVECHAT_BOT_API_URL"),
			Fallback:          os.Getenv("LIVECHAT_FALLBACK"),
			DiscordWebhookURL: os.Getenv("LIVECHAT_DISCORD_WEBHOOK_URL"),
			SlackWebhookURL:   os.Getenv("LIVECHAT_SLACK_WEBHOOK_URL"),
			TelegramToken:     os.Getenv("LIVECHAT_TELEGRAM_TOKEN"),
			RatingWebhookURL:  os.Getenv("LIVECHAT_RATING_WEBHOOK_URL"),
			LinkPreviews:      os.Getenv("LIVECHAT_LINK_PREVIEWS") == "true",
		},
		LogLevel: os.Getenv("LIVECHAT_LOG_LEVEL"),
	}
	if ids := os.Getenv("LIVECHAT_TELEGRAM_CHAT_ID"); ids != "" {
		n, err := strconv.ParseInt(ids, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: LIVECHAT_TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Notify.TelegramChatID = n
	}
	if d := os.Getenv("LIVECHAT_RECENCY_WINDOW"); d != "" {
		v, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("config: LIVECHAT_RECENCY_WINDOW: %w", err)
		}
		cfg.Sync.RecencyWindow = Duration(v)
	}
	if d := os.Getenv("LIVECHAT_POLL_INTERVAL"); d != "" {
		v, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("config: LIVECHAT_POLL_INTERVAL: %w", err)
		}
		cfg.Sync.PollInterval = Duration(v)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "livechat_data"
	}
	if c.Sync.RecencyWindow == 0 {
		c.Sync.RecencyWindow = Duration(60 * time.Second)
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = Duration(3 * time.Second)
	}
	if c.Notify.RatingWebhookURL == "" {
		c.Notify.RatingWebhookURL = c.Notify.DiscordWebhookURL
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "jsonfile":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Notify.Fallback {
	case "":
	case "discord":
		if c.Notify.DiscordWebhookURL == "" {
			return fmt.Errorf("config: fallback is discord but discord_webhook_url is empty")
		}
	case "slack":
		if c.Notify.SlackWebhookURL == "" {
			return fmt.Errorf("config: fallback is slack but slack_webhook_url is empty")
		}
	case "telegram":
		if c.Notify.TelegramToken == "" || c.Notify.TelegramChatID == 0 {
			return fmt.Errorf("config: fallback is telegram but telegram_token/telegram_chat_id are not set")
		}
	default:
		return fmt.Errorf("config: unknown fallback channel %q", c.Notify.Fallback)
	}
	if c.Sync.RecencyWindow < 0 || c.Sync.PollInterval < 0 {
		return fmt.Errorf("config: negative durations are not allowed")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
