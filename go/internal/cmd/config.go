package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/scoreboard/go/internal/gateway"
	"gopkg.in/yaml.v3"
)

const (
	backendMemory   = "memory"
	backendBolt     = "bolt"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// Config is read from the environment after .env has been loaded.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"` // console or json

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"memory"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	BoltPath     string        `env:"BOLT_PATH" envDefault:"scoreboard.db"`
	RedisURL     string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	DirectoryBackend string `env:"DIRECTORY_BACKEND" envDefault:"memory"`
	DirectoryFixture string `env:"DIRECTORY_FIXTURE"`

	// Empty runs the gateway without the cross-instance relay.
	NATSURL string `env:"NATS_URL"`

	TickInterval       time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	PropagationWorkers int           `env:"PROPAGATION_WORKERS" envDefault:"4"`
	PropagationQueue   int           `env:"PROPAGATION_QUEUE" envDefault:"256"`

	ConfigFile string `env:"CONFIG_FILE"`
	File       FileConfig
}

// FileConfig holds the optional YAML tunables named by CONFIG_FILE.
type FileConfig struct {
	Gateway struct {
		MaxMessageSize int64         `yaml:"max_message_size"`
		SendBufferSize int           `yaml:"send_buffer_size"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`

		BroadcastBufferSize int           `yaml:"broadcast_buffer_size"`
		PublishTimeout      time.Duration `yaml:"publish_timeout"`
	} `yaml:"gateway"`
	Relay struct {
		StreamName    string        `yaml:"stream_name"`
		SubjectPrefix string        `yaml:"subject_prefix"`
		MaxAge        time.Duration `yaml:"max_age"`
	} `yaml:"relay"`
}

func loadConfig() (*Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	switch config.StoreBackend {
	case backendMemory, backendBolt, backendPostgres, backendRedis:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend)
	}
	switch config.DirectoryBackend {
	case backendMemory, backendPostgres:
	default:
		return nil, fmt.Errorf("unknown DIRECTORY_BACKEND %q", config.DirectoryBackend)
	}

	if config.ConfigFile != "" {
		file, err := loadConfigFile(config.ConfigFile)
		if err != nil {
			return nil, err
		}
		config.File = *file
	}
	return &config, nil
}

func loadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// gatewayConfig applies the file tunables over the gateway defaults.
func (c *Config) gatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	g := c.File.Gateway
	if g.MaxMessageSize > 0 {
		cfg.ConnectionConfig.MaxMessageSize = g.MaxMessageSize
	}
	if g.SendBufferSize > 0 {
		cfg.ConnectionConfig.SendBufferSize = g.SendBufferSize
	}
	if g.PingInterval > 0 {
		cfg.ConnectionConfig.PingInterval = g.PingInterval
	}
	if g.ReadTimeout > 0 {
		cfg.ConnectionConfig.ReadTimeout = g.ReadTimeout
	}
	if g.WriteTimeout > 0 {
		cfg.ConnectionConfig.WriteTimeout = g.WriteTimeout
	}
	if g.BroadcastBufferSize > 0 {
		cfg.ConnectionConfig.BroadcastBufferSize = g.BroadcastBufferSize
	}
	if g.PublishTimeout > 0 {
		cfg.ConnectionConfig.PublishTimeout = g.PublishTimeout
	}

	if c.NATSURL == "" {
		return cfg
	}
	relay := gateway.DefaultRelayConfig()
	relay.URL = c.NATSURL
	r := c.File.Relay
	if r.StreamName != "" {
		relay.StreamName = r.StreamName
	}
	if r.SubjectPrefix != "" {
		relay.SubjectPrefix = r.SubjectPrefix
	}
	if r.MaxAge > 0 {
		relay.MaxAge = r.MaxAge
	}
	cfg.Relay = &relay
	return cfg
}
