// Package config loads the settings shared by the gateway, api, messaging
// services and the chat client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Gateway struct {
		Addr        string  `yaml:"addr"`
		MetricsAddr string  `yaml:"metrics_addr"`
		NodeID      int64   `yaml:"node_id"`
		EventRate   float64 `yaml:"event_rate"`
		EventBurst  int     `yaml:"event_burst"`
	} `yaml:"gateway"`
	API struct {
		Addr string `yaml:"addr"`
	} `yaml:"api"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		GroupID string   `yaml:"group_id"`
	} `yaml:"kafka"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Scylla struct {
		Hosts    []string `yaml:"hosts"`
		Keyspace string   `yaml:"keyspace"`
	} `yaml:"scylla"`
	Auth struct {
		JWTKey   string        `yaml:"jwt_key"`
		TokenTTL time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
	Codec struct {
		Key string `yaml:"key"`
	} `yaml:"codec"`
	Media struct {
		Bucket      string        `yaml:"bucket"`
		Region      string        `yaml:"region"`
		Endpoint    string        `yaml:"endpoint"`
		AccessKeyID string        `yaml:"access_key_id"`
		SecretKey   string        `yaml:"secret_key"`
		URLExpiry   time.Duration `yaml:"url_expiry"`
	} `yaml:"media"`
	Client struct {
		GatewayURL     string        `yaml:"gateway_url"`
		APIURL         string        `yaml:"api_url"`
		SessionStore   string        `yaml:"session_store"` // file|redis
		SessionFile    string        `yaml:"session_file"`
		TypingWindow   time.Duration `yaml:"typing_window"`
		MaxSuggestions int           `yaml:"max_suggestions"`
		MediaParallel  int           `yaml:"media_parallel"`
	} `yaml:"client"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console|json
	} `yaml:"logging"`
}

// Default returns the settings used when no file or environment overrides
// are present. They match a local docker-compose deployment.
func Default() *Config {
	c := &Config{}
	c.Gateway.Addr = ":8080"
	c.Gateway.MetricsAddr = ":9090"
	c.Gateway.NodeID = 1
	c.Gateway.EventRate = 20
	c.Gateway.EventBurst = 40
	c.API.Addr = ":8081"
	c.Kafka.Brokers = []string{"localhost:19092"}
	c.Kafka.Topic = "chat-events"
	c.Kafka.GroupID = "messaging-service-group"
	c.Redis.Addr = "localhost:6379"
	c.Scylla.Hosts = []string{"localhost:9042"}
	c.Scylla.Keyspace = "chat"
	c.Auth.TokenTTL = 24 * time.Hour
	c.Media.Region = "us-east-1"
	c.Media.URLExpiry = 15 * time.Minute
	c.Client.GatewayURL = "ws://localhost:8080/ws"
	c.Client.APIURL = "http://localhost:8081"
	c.Client.SessionStore = "file"
	c.Client.SessionFile = defaultSessionFile()
	c.Client.TypingWindow = 3 * time.Second
	c.Client.MaxSuggestions = 3
	c.Client.MediaParallel = 4
	c.Logging.Level = "info"
	c.Logging.Format = "console"
	return c
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".groupchat-session.json"
	}
	return home + "/.groupchat/session.json"
}

// Load merges defaults, the optional YAML file at path, a .env file in the
// working directory and the process environment, in that order.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path == "" {
		path = os.Getenv("GROUPCHAT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config) error {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SCYLLA_HOSTS"); v != "" {
		c.Scylla.Hosts = splitList(v)
	}
	setString(&c.Auth.JWTKey, "GROUPCHAT_JWT_KEY")
	setString(&c.Codec.Key, "GROUPCHAT_CODEC_KEY")
	setString(&c.Media.Bucket, "GROUPCHAT_MEDIA_BUCKET")
	setString(&c.Media.Region, "GROUPCHAT_MEDIA_REGION")
	setString(&c.Media.Endpoint, "GROUPCHAT_MEDIA_ENDPOINT")
	setString(&c.Media.AccessKeyID, "GROUPCHAT_MEDIA_ACCESS_KEY_ID")
	setString(&c.Media.SecretKey, "GROUPCHAT_MEDIA_SECRET_KEY")
	setString(&c.Client.GatewayURL, "GROUPCHAT_GATEWAY_URL")
	setString(&c.Client.APIURL, "GROUPCHAT_API_URL")
	setString(&c.Client.SessionStore, "GROUPCHAT_SESSION_STORE")
	setString(&c.Logging.Level, "GROUPCHAT_LOG_LEVEL")
	setString(&c.Logging.Format, "GROUPCHAT_LOG_FORMAT")
	if v := os.Getenv("GROUPCHAT_NODE_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GROUPCHAT_NODE_ID: %w", err)
		}
		c.Gateway.NodeID = n
	}
	if v := os.Getenv("GROUPCHAT_TYPING_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GROUPCHAT_TYPING_WINDOW: %w", err)
		}
		c.Client.TypingWindow = d
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateServer checks the settings every backend service needs.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.Auth.JWTKey == "" {
		errs = append(errs, errors.New("auth.jwt_key is required"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}
	if len(c.Scylla.Hosts) == 0 {
		errs = append(errs, errors.New("scylla.hosts is required"))
	}
	return errors.Join(errs...)
}

// ValidateClient checks the settings the chat client needs.
func (c *Config) ValidateClient() error {
	var errs []error
	if c.Codec.Key == "" {
		errs = append(errs, errors.New("codec.key is required"))
	}
	if c.Client.GatewayURL == "" || c.Client.APIURL == "" {
		errs = append(errs, errors.New("client.gateway_url and client.api_url are required"))
	}
	switch c.Client.SessionStore {
	case "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("client.session_store must be file or redis, got %q", c.Client.SessionStore))
	}
	if c.Client.TypingWindow <= 0 {
		errs = append(errs, errors.New("client.typing_window must be positive"))
	}
	return errors.Join(errs...)
}
