package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Handler carries the settings of the handler subcommands. The engine launches
// handlers with its own environment, so everything has an env form; flags override it.
type Handler struct {
	LogLevel    string `env:"MARMOT_HOOK_LOG_LEVEL" env-default:"warn"`
	InputLimit  int64  `env:"MARMOT_HOOK_INPUT_LIMIT" env-default:"1048576"`
	IncludeSelf bool   `env:"MARMOT_HOOK_INCLUDE_SELF"`

	LogFile string `env:"MARMOT_LOG_FILE" env-default:"marmot-messages.jsonl"`

	Webhook  WebhookHandler
	Echo     EchoHandler
	Kafka    KafkaHandler
	Redis    RedisHandler
	Postgres PostgresHandler
	Mongo    MongoHandler
	Elastic  ElasticHandler
	Mail     MailHandler
}

type WebhookHandler struct {
	URL      string        `env:"WEBHOOK_URL"`
	Secret   string        `env:"WEBHOOK_SECRET"`
	Timeout  time.Duration `env:"WEBHOOK_TIMEOUT" env-default:"10s"`
	TokenTTL time.Duration `env:"WEBHOOK_TOKEN_TTL" env-default:"5m"`
}

type EchoHandler struct {
	CLI     string        `env:"MARMOT_CLI" env-default:"marmot-cli"`
	CLIArgs []string      `env:"MARMOT_CLI_ARGS" env-separator:" "`
	Prefix  string        `env:"ECHO_PREFIX" env-default:"Echo: "`
	Timeout time.Duration `env:"ECHO_TIMEOUT" env-default:"30s"`
}

type KafkaHandler struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic   string   `env:"KAFKA_TOPIC" env-default:"marmot.notifications"`
}

type RedisHandler struct {
	Redis
	Channel string `env:"REDIS_CHANNEL" env-default:"marmot:notifications"`
	History int64  `env:"REDIS_HISTORY"`
}

type PostgresHandler struct {
	Host       string `env:"POSTGRES_HOST" env-default:"localhost"`
	Port       uint16 `env:"POSTGRES_PORT" env-default:"5432"`
	User       string `env:"POSTGRES_USER" env-default:"postgres"`
	Password   string `env:"POSTGRES_PASSWORD"`
	Name       string `env:"POSTGRES_DB" env-default:"marmot"`
	SSLMode    string `env:"POSTGRES_SSL_MODE" env-default:"disable"`
	Migrations string `env:"POSTGRES_MIGRATIONS" env-default:"migrations"`
	Migrate    bool   `env:"POSTGRES_MIGRATE"`
}

type MongoHandler struct {
	URI        string        `env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database   string        `env:"MONGO_DATABASE" env-default:"marmot"`
	Collection string        `env:"MONGO_COLLECTION" env-default:"notifications"`
	Timeout    time.Duration `env:"MONGO_TIMEOUT" env-default:"10s"`
}

type ElasticHandler struct {
	Addresses  []string      `env:"ELASTIC_ADDRESSES" env-separator:"," env-default:"http://localhost:9200"`
	Username   string        `env:"ELASTIC_USERNAME"`
	Password   string        `env:"ELASTIC_PASSWORD"`
	APIKey     string        `env:"ELASTIC_API_KEY"`
	Index      string        `env:"ELASTIC_INDEX" env-default:"marmot-notifications"`
	Timeout    time.Duration `env:"ELASTIC_TIMEOUT" env-default:"10s"`
	MaxRetries int           `env:"ELASTIC_MAX_RETRIES" env-default:"2"`
}

type MailHandler struct {
	Host     string `env:"SMTP_HOST" env-default:"localhost"`
	Port     int    `env:"SMTP_PORT" env-default:"25"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" env-default:"marmot-hook <marmot-hook@localhost>"`
	UseTLS   bool   `env:"SMTP_USE_TLS"`
	To       string `env:"MAIL_TO"`
	Subject  string `env:"MAIL_SUBJECT" env-default:"New message in {{.GroupName}}"`
}

// LoadHandler reads the handler settings from the environment, after loading
// envFile into it when one is given. Variables already set win over the file.
func LoadHandler(envFile string) (*Handler, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	var cfg Handler
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return &cfg, nil
}
