// Package config loads the supervise daemon configuration.
//
// Values come from, in increasing order of precedence: built-in defaults,
// the YAML file, SUPERVISE_* environment variables, and command line flags
// (applied by the caller before Validate).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/supervisor"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SUPERVISE_"

type Config struct {
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	PidFile    string           `yaml:"pid_file"`
	StatusFile string           `yaml:"status_file"`
}

// SupervisorConfig describes the child and when to start it.
type SupervisorConfig struct {
	Path        string                  `yaml:"path"`
	Arguments   []string                `yaml:"arguments"`
	Spawn       supervisor.SpawnOptions `yaml:",inline"`
	Timeout     time.Duration           `yaml:"timeout"`
	Interval    time.Duration           `yaml:"interval"`
	Force       bool                    `yaml:"force"`
	GracePeriod time.Duration           `yaml:"grace_period"`
	// StartOnLaunch starts the child right away when no timer is set.
	StartOnLaunch bool `yaml:"start_on_launch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains the HTTP control API settings.
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	Retain      bool             `yaml:"retain"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads path on top of the defaults and applies environment
// overrides. An empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			GracePeriod:   10 * time.Second,
			StartOnLaunch: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8765,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "supervise",
			},
			QoS:         1,
			TopicPrefix: "supervise",
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(envPrefix + "PATH"); v != "" {
		cfg.Supervisor.Path = v
	}
	if v := os.Getenv(envPrefix + "STOP_SIGNAL"); v != "" {
		cfg.Supervisor.Spawn.StopSignal = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv(envPrefix + "API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "failed to parse %sAPI_PORT", envPrefix)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Supervisor.Path == "" {
		errs = append(errs, "supervisor.path is required")
	}
	if c.Supervisor.Timeout < 0 {
		errs = append(errs, "supervisor.timeout must not be negative")
	}
	if c.Supervisor.Interval < 0 {
		errs = append(errs, "supervisor.interval must not be negative")
	}
	if c.Supervisor.GracePeriod <= 0 {
		errs = append(errs, "supervisor.grace_period must be positive")
	}
	if sig := c.Supervisor.Spawn.StopSignal; sig != "" && supervisor.SignalFromName(sig) == nil {
		errs = append(errs, "supervisor.stop_signal '"+sig+"' is not a known signal")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return errors.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
