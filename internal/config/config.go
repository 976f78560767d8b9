package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Push     PushConfig     `mapstructure:"push"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// ProviderRoute maps a push-service provider to the endpoint URL prefixes
// it is known to serve. Order matters: during routing the first matching
// entry wins.
type ProviderRoute struct {
	Name             string   `mapstructure:"name"`
	EndpointPrefixes []string `mapstructure:"endpoint_prefixes"`
}

type CallbackConfig struct {
	ClickURLTemplate    string `mapstructure:"click_url_template"`
	ReceivedURLTemplate string `mapstructure:"received_url_template"`
	EncryptionKey       string `mapstructure:"encryption_key"`
}

type PushConfig struct {
	// Batched delivery client (legacy device tokens)
	DeliveryEndpoint string        `mapstructure:"delivery_endpoint"`
	BatchSize        int           `mapstructure:"batch_size"`
	FatalErrorCodes  []string      `mapstructure:"fatal_error_codes"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	RateBurst        int           `mapstructure:"rate_burst"`

	// Web-push routing
	Providers    []ProviderRoute `mapstructure:"providers"`
	DefaultQueue string          `mapstructure:"default_queue"`

	// VAPID credentials for web-push delivery
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	VAPIDSubject    string `mapstructure:"vapid_subject"`

	Callback CallbackConfig `mapstructure:"callback"`
}

type WorkerConfig struct {
	// Queues this worker process consumes, e.g. ["apple.webpush.queue"].
	Queues          []string      `mapstructure:"queues"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("push.batch_size", 500)
	viper.SetDefault("push.request_timeout", 30*time.Second)
	viper.SetDefault("push.rate_per_second", 50.0)
	viper.SetDefault("push.rate_burst", 10)
	viper.SetDefault("push.default_queue", "default.webpush.queue")
	viper.SetDefault("worker.shutdown_timeout", 30*time.Second)
}
