package ensemble

import (
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config holds the engine configuration. Every field can be set via the environment variable in its tag.
type Config struct {
	// Namespace identifies this server. It prefixes save keys in redis.
	Namespace string `env:"ENSEMBLE_NAMESPACE" envDefault:"ensemble"`

	Server  ServerConfig  `envPrefix:"ENSEMBLE_SERVER_"`
	Debug   DebugConfig   `envPrefix:"ENSEMBLE_DEBUG_"`
	Measure MeasureConfig `envPrefix:"ENSEMBLE_MEASURE_"`
	Redis   RedisConfig   `envPrefix:"ENSEMBLE_REDIS_"`
}

type ServerConfig struct {
	// Interval between two ticks of the update loop.
	PhysicsUpdateLoop time.Duration `env:"PHYSICS_UPDATE_LOOP" envDefault:"15ms"`

	// Port of the socket server.
	Port string `env:"PORT" envDefault:"3000"`
}

type DebugConfig struct {
	// Profiling times every frame callback and reports it to statsd.
	Profiling bool   `env:"PROFILING" envDefault:"false"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLog bool   `env:"PRETTY_LOG" envDefault:"false"`
}

type MeasureConfig struct {
	StatsdAddress string   `env:"STATSD_ADDRESS"`
	Tags          []string `env:"TAGS" envSeparator:","`
}

type RedisConfig struct {
	// Address of the redis server holding saves. Saves are disabled when empty.
	Address  string `env:"ADDRESS"`
	Password string `env:"PASSWORD"`
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Namespace == "" {
		return eris.New("namespace cannot be empty")
	}
	if strings.Contains(cfg.Namespace, ":") {
		return eris.New("namespace cannot contain ':'")
	}
	if cfg.Server.PhysicsUpdateLoop <= 0 {
		return eris.New("physics update loop interval must be positive")
	}
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port <= 0 || port > 65535 {
		return eris.Errorf("invalid server port %q", cfg.Server.Port)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Debug.LogLevel)); err != nil {
		return eris.Errorf("invalid log level %q", cfg.Debug.LogLevel)
	}
	if cfg.Debug.Profiling && cfg.Measure.StatsdAddress == "" {
		return eris.New("profiling needs a statsd address")
	}
	return nil
}
