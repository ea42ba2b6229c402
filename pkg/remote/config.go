package remote

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultURL         = "http://localhost:8765"
	DefaultObjectClass = "JavaObject"
	DefaultEtcdKey     = "/remote/proxy-url"
)

type Config struct {
	URL     string `yaml:"url"`
	Caching bool   `yaml:"caching"`

	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxInterval time.Duration `yaml:"poll_max_interval"`
	PollRate        float64       `yaml:"poll_rate"` // polls per second, 0 = unpaced
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"` // 0 = bounded by PollTimeout only

	// Functions whose arguments are always packed as one blob.
	PickleFunctions []string `yaml:"pickle_functions"`

	// Class tag the server uses for plain remote objects.
	ObjectClass string `yaml:"object_class"`

	Etcd EtcdConfig `yaml:"etcd"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Key         string        `yaml:"key"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func DefaultConfig() Config {
	return Config{
		URL:             DefaultURL,
		Caching:         true,
		HTTPTimeout:     60 * time.Second,
		PollInterval:    10 * time.Millisecond,
		PollMaxInterval: time.Second,
		PollRate:        50,
		PollTimeout:     5 * time.Minute,
		ObjectClass:     DefaultObjectClass,
		Etcd: EtcdConfig{
			Key:         DefaultEtcdKey,
			DialTimeout: 5 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults and then applies environment
// overrides. An empty path uses REMOTE_CONFIG, and no file at all is fine.
func LoadConfig(path string) (config Config, err error) {
	config = DefaultConfig()
	if path == "" {
		path = os.Getenv("REMOTE_CONFIG")
	}
	if path != "" {
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			err = fmt.Errorf("read config %s: %w", path, err)
			return
		}
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			err = fmt.Errorf("parse config %s: %w", path, err)
			return
		}
	}
	err = config.applyEnv()
	if err != nil {
		return
	}
	err = config.Validate()
	return
}

func (c *Config) applyEnv() error {
	if url := os.Getenv("REMOTE_PROXY_URL"); url != "" {
		c.URL = url
	}
	if caching := os.Getenv("REMOTE_CACHING"); caching != "" {
		enabled, err := strconv.ParseBool(caching)
		if err != nil {
			return fmt.Errorf("REMOTE_CACHING: %w", err)
		}
		c.Caching = enabled
	}
	if endpoints := os.Getenv("REMOTE_ETCD_ENDPOINTS"); endpoints != "" {
		c.Etcd.Endpoints = strings.Split(endpoints, ",")
	}
	return nil
}

func (c Config) Validate() error {
	if c.URL == "" && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("config: either url or etcd endpoints must be set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	if c.PollMaxInterval < c.PollInterval {
		return fmt.Errorf("config: poll_max_interval must not be below poll_interval")
	}
	if c.PollRate < 0 || c.PollMaxAttempts < 0 || c.PollTimeout < 0 {
		return fmt.Errorf("config: poll limits must not be negative")
	}
	if c.PollTimeout == 0 && c.PollMaxAttempts == 0 {
		return fmt.Errorf("config: polling needs poll_timeout or poll_max_attempts")
	}
	return nil
}
