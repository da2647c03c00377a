package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the full runtime configuration, populated from the
// environment with an optional .env overlay.
type Config struct {
	DataDir           string `env:"DATA_DIR" envDefault:"data/matching"`
	InstrumentFile    string `env:"INSTRUMENT_FILE" envDefault:"instruments.json"`
	SnapshotInterval  uint64 `env:"SNAPSHOT_INTERVAL" envDefault:"1000"`
	DepthLevels       int    `env:"DEPTH_LEVELS" envDefault:"10"`
	ProcessedCapacity int    `env:"PROCESSED_CAPACITY" envDefault:"1000000"`

	Kafka KafkaConfig `envPrefix:"KAFKA_"`
}

// KafkaConfig covers both the inbound order feed and the outbound
// event topic.
type KafkaConfig struct {
	Brokers    []string `env:"BROKERS" envDefault:"localhost:9092"`
	OrderTopic string   `env:"ORDER_TOPIC" envDefault:"orders"`
	EventTopic string   `env:"EVENT_TOPIC" envDefault:"match-events"`
	Partition  int      `env:"PARTITION" envDefault:"0"`
}

// Load reads configuration from the environment. A missing .env file
// is not an error; explicit environment variables always win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
