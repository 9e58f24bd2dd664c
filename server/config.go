// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "LOBBY_"

// Config is the server configuration.
type Config struct {
	Name     string          `yaml:"name" json:"name" env:"NAME" usage:"Server node name." validate:"required"`
	Logger   *LoggerConfig   `yaml:"logger" json:"logger" envPrefix:"LOGGER_" usage:"Logger levels and output."`
	Database *DatabaseConfig `yaml:"database" json:"database" envPrefix:"DATABASE_" usage:"Database connection settings."`
	Socket   *SocketConfig   `yaml:"socket" json:"socket" envPrefix:"SOCKET_" usage:"Socket configuration."`
	Game     *GameConfig     `yaml:"game" json:"game" envPrefix:"GAME_" usage:"Game lifecycle policy."`
	Rating   *RatingConfig   `yaml:"rating" json:"rating" envPrefix:"RATING_" usage:"Rating scale."`
	Metrics  *MetricsConfig  `yaml:"metrics" json:"metrics" envPrefix:"METRICS_" usage:"Metrics settings."`
}

func NewConfig() *Config {
	return &Config{
		Name:     "lobby",
		Logger:   NewLoggerConfig(),
		Database: NewDatabaseConfig(),
		Socket:   NewSocketConfig(),
		Game:     NewGameConfig(),
		Rating:   NewRatingConfig(),
		Metrics:  NewMetricsConfig(),
	}
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	cfgCopy.Logger = c.Logger.Clone()
	cfgCopy.Database = c.Database.Clone()
	cfgCopy.Socket = c.Socket.Clone()
	cfgCopy.Game = c.Game.Clone()
	cfgCopy.Rating = c.Rating.Clone()
	cfgCopy.Metrics = c.Metrics.Clone()
	return &cfgCopy
}

// LoadConfig reads the YAML file at path, if any, over the defaults, then applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ValidateConfig(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type LoggerConfig struct {
	Level      string `yaml:"level" json:"level" env:"LEVEL" usage:"Log level to set. Valid values are 'debug', 'info', 'warn', 'error'. Default 'info'." validate:"oneof=debug info warn error"`
	Stdout     bool   `yaml:"stdout" json:"stdout" env:"STDOUT" usage:"Log to standard console output (as well as to a file if set). Default true."`
	File       string `yaml:"file" json:"file" env:"FILE" usage:"Log output to a file (as well as stdout if set). Make sure that the directory and the file is writable."`
	Rotation   bool   `yaml:"rotation" json:"rotation" env:"ROTATION" usage:"Rotate log files. Default is false."`
	MaxSize    int    `yaml:"max_size" json:"max_size" env:"MAX_SIZE" usage:"The maximum size in megabytes of the log file before it gets rotated. It defaults to 100 megabytes." validate:"gte=0"`
	MaxAge     int    `yaml:"max_age" json:"max_age" env:"MAX_AGE" usage:"The maximum number of days to retain old log files based on the timestamp encoded in their filename." validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" env:"MAX_BACKUPS" usage:"The maximum number of old log files to retain." validate:"gte=0"`
	LocalTime  bool   `yaml:"local_time" json:"local_time" env:"LOCAL_TIME" usage:"Use the computer's local time for rotated file names. Default is UTC."`
	Compress   bool   `yaml:"compress" json:"compress" env:"COMPRESS" usage:"Compress rotated log files using gzip."`
	Format     string `yaml:"format" json:"format" env:"FORMAT" usage:"Set logging output format. Can either be 'JSON' or 'Stackdriver'. Default is 'JSON'." validate:"oneof=json stackdriver"`
}

func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:   "info",
		Stdout:  true,
		MaxSize: 100,
		Format:  "json",
	}
}

func (c *LoggerConfig) Clone() *LoggerConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

type DatabaseConfig struct {
	Driver            string `yaml:"driver" json:"driver" env:"DRIVER" usage:"Database driver, 'pgx' for PostgreSQL or 'sqlite'. Default 'sqlite'." validate:"oneof=pgx sqlite"`
	Address           string `yaml:"address" json:"address" env:"ADDRESS" usage:"Data source name: a postgres:// URL or an SQLite path." validate:"required"`
	MaxOpenConns      int    `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS" usage:"Maximum number of allowed open connections to the database. Default 100." validate:"gte=0"`
	MaxIdleConns      int    `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS" usage:"Maximum number of allowed open but unused connections to the database. Default 100." validate:"gte=0"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms" json:"conn_max_lifetime_ms" env:"CONN_MAX_LIFETIME_MS" usage:"Time in milliseconds to reuse a database connection before the connection is killed and a new one is created. Default 3600000 (1 hour)." validate:"gte=0"`
	QueueSize         int    `yaml:"queue_size" json:"queue_size" env:"QUEUE_SIZE" usage:"Number of ended games buffered for persistence. Default 256." validate:"gt=0"`
	WriteTimeoutMs    int    `yaml:"write_timeout_ms" json:"write_timeout_ms" env:"WRITE_TIMEOUT_MS" usage:"Timeout in milliseconds for persisting one ended game. Default 10000." validate:"gt=0"`
	MigrateOnStart    bool   `yaml:"migrate_on_start" json:"migrate_on_start" env:"MIGRATE_ON_START" usage:"Apply pending schema migrations at startup. Default true."`
}

func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Driver:            "sqlite",
		Address:           "lobby.db",
		MaxOpenConns:      100,
		MaxIdleConns:      100,
		ConnMaxLifetimeMs: 3600000,
		QueueSize:         256,
		WriteTimeoutMs:    10000,
		MigrateOnStart:    true,
	}
}

func (c *DatabaseConfig) Clone() *DatabaseConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

func (c *DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMs) * time.Millisecond
}

func (c *DatabaseConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

type SocketConfig struct {
	Address             string  `yaml:"address" json:"address" env:"ADDRESS" usage:"The IP address of the interface to listen for client traffic on. Default listen on all available addresses/interfaces."`
	Port                int     `yaml:"port" json:"port" env:"PORT" usage:"The port for accepting connections from the client for the given interface(s), address(es), and protocol(s). Default 8001." validate:"min=1,max=65535"`
	ServerKey           string  `yaml:"server_key" json:"server_key" env:"SERVER_KEY" usage:"HMAC key used to verify session tokens." validate:"required"`
	MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes" json:"max_message_size_bytes" env:"MAX_MESSAGE_SIZE_BYTES" usage:"Maximum amount of data in bytes allowed to be read from the client socket per message." validate:"gt=0"`
	ReadTimeoutMs       int     `yaml:"read_timeout_ms" json:"read_timeout_ms" env:"READ_TIMEOUT_MS" usage:"Maximum duration in milliseconds for reading the entire request." validate:"gt=0"`
	WriteTimeoutMs      int     `yaml:"write_timeout_ms" json:"write_timeout_ms" env:"WRITE_TIMEOUT_MS" usage:"Maximum duration in milliseconds before timing out writes of the response." validate:"gt=0"`
	IdleTimeoutMs       int     `yaml:"idle_timeout_ms" json:"idle_timeout_ms" env:"IDLE_TIMEOUT_MS" usage:"Maximum amount of time in milliseconds to wait for the next request when keep-alives are enabled." validate:"gt=0"`
	WriteWaitMs         int     `yaml:"write_wait_ms" json:"write_wait_ms" env:"WRITE_WAIT_MS" usage:"Time in milliseconds to wait for an ack from the client when writing data." validate:"gt=0"`
	PongWaitMs          int     `yaml:"pong_wait_ms" json:"pong_wait_ms" env:"PONG_WAIT_MS" usage:"Time in milliseconds to wait between pong messages received from the client." validate:"gt=0"`
	PingPeriodMs        int     `yaml:"ping_period_ms" json:"ping_period_ms" env:"PING_PERIOD_MS" usage:"Time in milliseconds to wait between sending ping messages to the client. This value must be less than the pong_wait_ms." validate:"gt=0,ltfield=PongWaitMs"`
	OutgoingQueueSize   int     `yaml:"outgoing_queue_size" json:"outgoing_queue_size" env:"OUTGOING_QUEUE_SIZE" usage:"The maximum number of messages waiting to be sent to the client. If this is exceeded the client is considered too slow and will disconnect." validate:"gt=0"`
	MessagesPerSecond   float64 `yaml:"messages_per_second" json:"messages_per_second" env:"MESSAGES_PER_SECOND" usage:"Sustained rate of inbound messages allowed per session." validate:"gt=0"`
	MessageBurst        int     `yaml:"message_burst" json:"message_burst" env:"MESSAGE_BURST" usage:"Burst of inbound messages allowed per session." validate:"gt=0"`
}

func NewSocketConfig() *SocketConfig {
	return &SocketConfig{
		Address:             "",
		Port:                8001,
		ServerKey:           "defaultkey",
		MaxMessageSizeBytes: 4096,
		ReadTimeoutMs:       10 * 1000,
		WriteTimeoutMs:      10 * 1000,
		IdleTimeoutMs:       60 * 1000,
		WriteWaitMs:         5000,
		PongWaitMs:          25000,
		PingPeriodMs:        15000,
		OutgoingQueueSize:   64,
		MessagesPerSecond:   50,
		MessageBurst:        100,
	}
}

func (c *SocketConfig) Clone() *SocketConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

// GameConfig holds the game lifecycle policy.
type GameConfig struct {
	AllowHostInInitializing bool `yaml:"allow_host_in_initializing" json:"allow_host_in_initializing" env:"ALLOW_HOST_IN_INITIALIZING" usage:"Admit the host's own connection before its lobby is open. Default true."`
	DesyncThreshold         int  `yaml:"desync_threshold" json:"desync_threshold" env:"DESYNC_THRESHOLD" usage:"Number of desync reports after which a game is marked invalid. 0 disables. Default 5." validate:"gte=0"`
	MinPlayers              int  `yaml:"min_players" json:"min_players" env:"MIN_PLAYERS" usage:"Games launched with fewer players are marked invalid. 0 disables. Default 2." validate:"gte=0"`
	SignalTimeoutMs         int  `yaml:"signal_timeout_ms" json:"signal_timeout_ms" env:"SIGNAL_TIMEOUT_MS" usage:"Time in milliseconds to wait for a game to process a signal. Default 5000." validate:"gt=0"`
	SignalQueueSize         int  `yaml:"signal_queue_size" json:"signal_queue_size" env:"SIGNAL_QUEUE_SIZE" usage:"Number of signals buffered per game. Default 128." validate:"gt=0"`
	GamePort                int  `yaml:"game_port" json:"game_port" env:"GAME_PORT" usage:"UDP port game clients open their lobby on. Default 6112." validate:"gt=0,lte=65535"`
}

func NewGameConfig() *GameConfig {
	return &GameConfig{
		AllowHostInInitializing: true,
		DesyncThreshold:         5,
		MinPlayers:              2,
		SignalTimeoutMs:         5000,
		SignalQueueSize:         128,
		GamePort:                6112,
	}
}

func (c *GameConfig) Clone() *GameConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

func (c *GameConfig) SignalTimeout() time.Duration {
	return time.Duration(c.SignalTimeoutMs) * time.Millisecond
}

// RatingConfig is the scale of the rating system.
type RatingConfig struct {
	Mu    float64 `yaml:"mu" json:"mu" env:"MU" usage:"Mean of a new player's rating. Default 1500." validate:"gt=0"`
	Sigma float64 `yaml:"sigma" json:"sigma" env:"SIGMA" usage:"Deviation of a new player's rating. Default 500." validate:"gt=0"`
	Z     int     `yaml:"z" json:"z" env:"Z" usage:"Deviations subtracted for the displayed rating. Default 3." validate:"gt=0"`
	Tau   float64 `yaml:"tau" json:"tau" env:"TAU" usage:"Dynamics factor added to the deviation before each update. Default 5." validate:"gte=0"`
}

func NewRatingConfig() *RatingConfig {
	return &RatingConfig{
		Mu:    DefaultRatingMu,
		Sigma: DefaultRatingSigma,
		Z:     DefaultRatingZ,
		Tau:   DefaultRatingMu / 300,
	}
}

func (c *RatingConfig) Clone() *RatingConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

type MetricsConfig struct {
	ReportingFreqSec int    `yaml:"reporting_freq_sec" json:"reporting_freq_sec" env:"REPORTING_FREQ_SEC" usage:"Frequency of metrics exports. Default is 60 seconds." validate:"gt=0"`
	Namespace        string `yaml:"namespace" json:"namespace" env:"NAMESPACE" usage:"Namespace for Prometheus metrics. It will always prepend node name."`
	PrometheusPort   int    `yaml:"prometheus_port" json:"prometheus_port" env:"PROMETHEUS_PORT" usage:"Port to expose Prometheus. If '0' Prometheus exports are disabled." validate:"gte=0,lte=65535"`
	Prefix           string `yaml:"prefix" json:"prefix" env:"PREFIX" usage:"Prefix for metric names. Default is 'lobby', empty string '' disables the prefix."`
}

func NewMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		ReportingFreqSec: 60,
		Namespace:        "",
		PrometheusPort:   0,
		Prefix:           "lobby",
	}
}

func (c *MetricsConfig) Clone() *MetricsConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}
