package config

import (
	"errors"
)

type Relay struct {
	App      `yaml:"app"`
	Logger   `yaml:"log"`
	Kafka    `yaml:"kafka"`
	Dispatch `yaml:"dispatch"`
	Ledger   `yaml:"ledger"`
	Metrics  `yaml:"metrics"`
}

type Kafka struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	GroupID     string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"marmot-relay"`
	Topic       string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"marmot.notifications"`
	BufferSize  int      `yaml:"buffer_size" env:"KAFKA_BUFFER_SIZE" env-default:"100"`
	WorkerCount int      `yaml:"worker_count" env:"KAFKA_WORKER_COUNT" env-default:"1"`
	Oldest      bool     `yaml:"oldest" env:"KAFKA_OLDEST"`
}

func LoadRelay(path string) (*Relay, error) {
	var cfg Relay
	if err := load(path, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Relay) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is empty")
	}

	if c.Kafka.Topic == "" {
		return errors.New("kafka.topic is empty")
	}

	if c.Dispatch.OnMessage == "" {
		return errors.New("dispatch.on_message is empty")
	}

	if c.Kafka.WorkerCount < 1 {
		c.Kafka.WorkerCount = 1
	}

	return c.Ledger.Validate()
}
