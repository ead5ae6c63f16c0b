package config

import (
	"errors"
	"time"
)

type Inbox struct {
	App        `yaml:"app"`
	Logger     `yaml:"log"`
	HTTPServer `yaml:"http_server"`
	Auth       `yaml:"auth"`
	Dispatch   `yaml:"dispatch"`
	Ledger     `yaml:"ledger"`
}

type HTTPServer struct {
	Host      string    `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port      uint16    `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	BasePath  string    `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api/v1"`
	Timeout   Timeout   `yaml:"timeout"`
	CORS      CORS      `yaml:"cors"`
	RateLimit RateLimit `yaml:"rate_limit"`
	WebSocket WebSocket `yaml:"websocket"`
}

type Timeout struct {
	Request time.Duration `yaml:"request" env-default:"10s"`
	Read    time.Duration `yaml:"read" env-default:"10s"`
	Write   time.Duration `yaml:"write" env-default:"15s"`
	Idle    time.Duration `yaml:"idle" env-default:"60s"`
}

type CORS struct {
	Enabled          bool          `yaml:"enabled"`
	AllowAllOrigins  bool          `yaml:"allow_all_origins"`
	AllowOrigins     []string      `yaml:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age"`
	AllowWebSockets  bool          `yaml:"allow_websockets"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps" env:"HTTP_RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"HTTP_RATE_LIMIT_BURST" env-default:"20"`
}

type WebSocket struct {
	PingInterval time.Duration `yaml:"ping_interval" env-default:"30s"`
	SendBuffer   int           `yaml:"send_buffer" env-default:"64"`
}

type Auth struct {
	Secret       string   `yaml:"secret" env:"WEBHOOK_SECRET"`
	APIKeyHashes []string `yaml:"api_key_hashes" env:"INBOX_API_KEY_HASHES" env-separator:","`
}

func LoadInbox(path string) (*Inbox, error) {
	var cfg Inbox
	if err := load(path, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate refuses an inbox nobody can authenticate against.
func (c *Inbox) Validate() error {
	if c.Auth.Secret == "" && len(c.Auth.APIKeyHashes) == 0 {
		return errors.New("auth.secret or auth.api_key_hashes is required")
	}

	return c.Ledger.Validate()
}
