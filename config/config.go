package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/brutella/hc"
	"gopkg.in/yaml.v3"
)

// Config is the primary daemon configuration
type Config struct {
	ConfigDir       string         `yaml:"-"` // passed in from CLI
	ConfigFile      string         `yaml:"-"`
	Coway           CowayConfig    `yaml:"coway"`
	HomeKit         HomeKitConfig  `yaml:"homekit"`
	HTTP            HTTPConfig     `yaml:"http"`
	Database        DatabaseConfig `yaml:"database"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Log             LogConfig      `yaml:"log"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"`
}

// CowayConfig is the IoCare account and how hard to poll it
type CowayConfig struct {
	Username        string         `yaml:"username"`
	Password        string         `yaml:"password"`
	PollInterval    Duration       `yaml:"poll_interval"`
	PageSize        int            `yaml:"page_size"`
	CommandMaxSkips int            `yaml:"command_max_skips"` // polls a command may disagree with the device before it is dropped
	RateLimitRPS    float64        `yaml:"rate_limit_rps"`
	Timeout         Duration       `yaml:"timeout"`
	Endpoints       EndpointConfig `yaml:"endpoints"` // only set these to point at a fake
}

// EndpointConfig overrides the IoCare URLs
type EndpointConfig struct {
	SignIn   string `yaml:"sign_in"`
	Redirect string `yaml:"redirect"`
	API      string `yaml:"api"`
}

// Enabled is false when the account is missing, which turns the Coway platform off
func (c CowayConfig) Enabled() bool {
	return strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != ""
}

// HomeKitConfig is how the bridge shows up in HomeKit
type HomeKitConfig struct {
	Name        string `yaml:"name"`
	ID          string `yaml:"id"` // displayed serial number -- if you run multiple instances, make sure each has a distinct ID
	Pin         string `yaml:"pin"`
	Port        string `yaml:"port"`
	StoragePath string `yaml:"storage_path"`
}

// HC is the base HomeControl configuration
func (h HomeKitConfig) HC() hc.Config {
	return hc.Config{
		Pin:         h.Pin,
		Port:        h.Port,
		StoragePath: h.StoragePath,
	}
}

type HTTPConfig struct {
	Address string `yaml:"address"` // net.Dial address format, :port is good enough
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig enables the state mirror when Broker is set
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Retain      bool   `yaml:"retain"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and fills in defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return &cfg, nil
}

func (cfg *Config) defaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./cowaybridge.sqlite"
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = "127.0.0.1:8088"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(15 * time.Second)
	}

	if cfg.Coway.PollInterval <= 0 {
		cfg.Coway.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Coway.PageSize <= 0 {
		cfg.Coway.PageSize = 100
	}
	if cfg.Coway.CommandMaxSkips <= 0 {
		cfg.Coway.CommandMaxSkips = 3
	}
	if cfg.Coway.RateLimitRPS == 0 {
		cfg.Coway.RateLimitRPS = 5.0
	}
	if cfg.Coway.Timeout == 0 {
		cfg.Coway.Timeout = Duration(15 * time.Second)
	}

	if cfg.HomeKit.Name == "" {
		cfg.HomeKit.Name = "Coway"
	}
	if cfg.HomeKit.Pin == "" {
		cfg.HomeKit.Pin = "00102003"
	}
	if cfg.HomeKit.StoragePath == "" {
		cfg.HomeKit.StoragePath = "./hc"
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "cowaybridge"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "cowaybridge"
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

var runningConfig *Config

// Get a pointer to the global config
func Get() *Config {
	return runningConfig
}

// should only be called by the bootstrap
func Set(c *Config) {
	runningConfig = c
}
