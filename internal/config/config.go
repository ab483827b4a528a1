package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	MarkdownGoldmark   = "goldmark"
	MarkdownGomarkdown = "gomarkdown"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// WidgetConfig is the embed-time configuration supplied by the host page.
type WidgetConfig struct {
	Name    string `toml:"name" env:"NAME"`
	LogoURL string `toml:"logo_url" env:"LOGO_URL"` // Optional; initials avatar is used when empty
	BaseURL string `toml:"base_url" env:"BASE_URL"` // Origin for all network calls
}

// FeedbackConfig controls when the rating prompt is offered on close
type FeedbackConfig struct {
	MinDuration  time.Duration `toml:"min_duration" env:"MIN_DURATION"`
	MinMessages  int           `toml:"min_messages" env:"MIN_MESSAGES"`
	DismissDelay time.Duration `toml:"dismiss_delay" env:"DISMISS_DELAY"`
}

// ServerConfig holds settings for the reference backend
type ServerConfig struct {
	Addr           string   `toml:"addr" env:"ADDR"`
	DBPath         string   `toml:"db_path" env:"DB_PATH"`
	RatePerMinute  int      `toml:"rate_per_minute" env:"RATE_PER_MINUTE"`
	AllowedOrigins []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Config holds application configuration
type Config struct {
	Widget    WidgetConfig `toml:"widget" envPrefix:"WIDGET_"`
	ChatbotID string       `toml:"chatbot_id" env:"CHATBOT_ID"`
	Debug     bool         `toml:"debug" env:"DEBUG"`
	LogDir    string       `toml:"log_dir" env:"LOG_DIR"`
	Markdown  string       `toml:"markdown" env:"MARKDOWN"` // goldmark or gomarkdown

	// RequestTimeout of zero leaves the transport default in place.
	RequestTimeout time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`

	Feedback FeedbackConfig `toml:"feedback" envPrefix:"FEEDBACK_"`
	Server   ServerConfig   `toml:"server" envPrefix:"SERVER_"`
}

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "QUERYWIDGET_"

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Widget: WidgetConfig{
			Name:    "QuerySafe",
			BaseURL: "http://localhost:8080",
		},
		ChatbotID: "demo",
		LogDir:    "logs",
		Markdown:  MarkdownGoldmark,
		Feedback: FeedbackConfig{
			MinDuration:  6 * time.Second,
			MinMessages:  3,
			DismissDelay: time.Second,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			DBPath:         "querywidget.db",
			RatePerMinute:  10,
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load builds a Config from defaults, an optional TOML file and the environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Widget.BaseURL = strings.TrimRight(cfg.Widget.BaseURL, "/")
	return cfg, nil
}

// Validate checks the fields the widget cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Widget.Name) == "" {
		return fmt.Errorf("%w: widget name is required", ErrInvalid)
	}
	if err := checkURL(c.Widget.BaseURL); err != nil {
		return fmt.Errorf("%w: base_url: %v", ErrInvalid, err)
	}
	if c.Widget.LogoURL != "" {
		if _, err := url.Parse(c.Widget.LogoURL); err != nil {
			return fmt.Errorf("%w: logo_url: %v", ErrInvalid, err)
		}
	}
	if strings.TrimSpace(c.ChatbotID) == "" {
		return fmt.Errorf("%w: chatbot_id is required", ErrInvalid)
	}
	switch c.Markdown {
	case MarkdownGoldmark, MarkdownGomarkdown:
	default:
		return fmt.Errorf("%w: unknown markdown engine %q", ErrInvalid, c.Markdown)
	}
	if c.Feedback.MinMessages < 0 || c.Feedback.MinDuration < 0 || c.Feedback.DismissDelay < 0 {
		return fmt.Errorf("%w: feedback thresholds must not be negative", ErrInvalid)
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
