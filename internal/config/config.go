package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

var ErrConfigPathIsEmpty = errors.New("config path is empty")

type App struct {
	ServiceName string `yaml:"service_name" env:"APP_SERVICE_NAME" env-default:"marmot-hook"`
}

type Logger struct {
	Level      string   `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	FormatJSON bool     `yaml:"format_json" env:"LOG_FORMAT_JSON"`
	Rotation   Rotation `yaml:"rotation"`
}

type Rotation struct {
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSize    int    `yaml:"max_size" env-default:"10"`
	MaxBackups int    `yaml:"max_backups" env-default:"3"`
	MaxAge     int    `yaml:"max_age" env-default:"7"`
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     uint16 `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type Dispatch struct {
	OnMessage string        `yaml:"on_message" env:"MARMOT_ON_MESSAGE"`
	Timeout   time.Duration `yaml:"timeout" env:"MARMOT_ON_MESSAGE_TIMEOUT"`
}

type Ledger struct {
	Driver    string    `yaml:"driver" env:"LEDGER_DRIVER" env-default:"bolt"`
	Path      string    `yaml:"path" env:"LEDGER_PATH" env-default:"marmot-hook.ledger"`
	Redis     Redis     `yaml:"redis"`
	Retention Retention `yaml:"retention"`
}

type Retention struct {
	Cron   string        `yaml:"cron" env:"LEDGER_RETENTION_CRON" env-default:"@hourly"`
	MaxAge time.Duration `yaml:"max_age" env:"LEDGER_RETENTION_MAX_AGE" env-default:"168h"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR"`
}

const (
	LedgerBolt  = "bolt"
	LedgerRedis = "redis"
)

func (l *Ledger) Validate() error {
	switch l.Driver {
	case LedgerBolt:
		if l.Path == "" {
			return errors.New("ledger.path is required for the bolt driver")
		}
	case LedgerRedis:
	default:
		return fmt.Errorf("unknown ledger driver %q", l.Driver)
	}
	return nil
}

// ResolvePath prefers the --config flag value and falls back to CONFIG_PATH.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}

func load(path string, cfg any) error {
	if path == "" {
		return ErrConfigPathIsEmpty
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

func PrintConfig(cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, string(data))

	return nil
}
