package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Auth      AuthConfig
	Broker    BrokerConfig
	Broadcast BroadcastConfig
	Activity  ActivityConfig
	Admin     AdminConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV" envDefault:"local"`
	Port int    `env:"APP_PORT" envDefault:"8000"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// SSLMode is kept explicit for production posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`
}

type AuthConfig struct {
	JWTSecret      string        `env:"JWT_SECRET"`
	JWTIssuer      string        `env:"JWT_ISSUER"`
	JWTAudience    string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL time.Duration `env:"JWT_ACCESS_TTL" envDefault:"60m"`
}

// BrokerConfig is the configuration surface of the activity pipeline.
// Enabled=false turns publishing into a no-op and the consumer into an empty lifetime.
type BrokerConfig struct {
	Enabled      bool          `env:"BROKER_ENABLED" envDefault:"false"`
	Driver       string        `env:"BROKER_DRIVER" envDefault:"redis"`
	Addrs        []string      `env:"BROKER_ADDRS" envSeparator:"," envDefault:"localhost:6379"`
	Topic        string        `env:"BROKER_TOPIC" envDefault:"user.activity"`
	ClientID     string        `env:"BROKER_CLIENT_ID" envDefault:"activity-api"`
	GroupID      string        `env:"BROKER_GROUP_ID" envDefault:"admin-monitor-group"`
	ConnectRetry int           `env:"BROKER_CONNECT_RETRIES" envDefault:"10"`
	ConnectDelay time.Duration `env:"BROKER_CONNECT_DELAY" envDefault:"3s"`
}

type BroadcastConfig struct {
	SendTimeout time.Duration `env:"BROADCAST_SEND_TIMEOUT" envDefault:"2s"`
}

type ActivityConfig struct {
	Workers   int `env:"ACTIVITY_WORKERS" envDefault:"1"`
	QueueSize int `env:"ACTIVITY_QUEUE_SIZE" envDefault:"256"`
}

type AdminConfig struct {
	Email    string `env:"ADMIN_EMAIL"`
	Password string `env:"ADMIN_PASSWORD"`
}

type TracingConfig struct {
	Enabled        bool    `env:"TRACING_ENABLED" envDefault:"false"`
	ServiceName    string  `env:"TRACING_SERVICE_NAME" envDefault:"activity-api"`
	ServiceVersion string  `env:"TRACING_SERVICE_VERSION" envDefault:"1.0.0"`
	Endpoint       string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	SampleRate     float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

const (
	BrokerDriverRedis = "redis"
	BrokerDriverNATS  = "nats"
)

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config parse: %w", err)
	}
	c.App.Env = strings.TrimSpace(c.App.Env)
	c.DB.SSLMode = strings.TrimSpace(c.DB.SSLMode)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every configuration problem at once and fills defaults
// that depend on other values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 60 * time.Minute
	}

	errs = append(errs, c.Broker.validate()...)

	if c.Broadcast.SendTimeout <= 0 {
		c.Broadcast.SendTimeout = 2 * time.Second
	}
	if c.Activity.Workers <= 0 {
		c.Activity.Workers = 1
	}
	if c.Activity.QueueSize <= 0 {
		c.Activity.QueueSize = 256
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("TRACING_ENDPOINT is required when tracing is enabled"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("TRACING_SAMPLE_RATE must be within [0,1], got %v", c.Tracing.SampleRate))
	}

	return joinErrors(errs)
}

func (b *BrokerConfig) validate() []error {
	if b.ConnectRetry <= 0 {
		b.ConnectRetry = 10
	}
	if b.ConnectDelay < 0 {
		b.ConnectDelay = 3 * time.Second
	}
	if !b.Enabled {
		return nil
	}

	var errs []error
	switch b.Driver {
	case BrokerDriverRedis, BrokerDriverNATS:
	default:
		errs = append(errs, fmt.Errorf("BROKER_DRIVER must be one of redis, nats, got %q", b.Driver))
	}
	if len(b.Addrs) == 0 || strings.TrimSpace(b.Addrs[0]) == "" {
		errs = append(errs, errors.New("BROKER_ADDRS is required when the broker is enabled"))
	}
	if strings.TrimSpace(b.Topic) == "" {
		errs = append(errs, errors.New("BROKER_TOPIC is required when the broker is enabled"))
	}
	if strings.TrimSpace(b.GroupID) == "" {
		errs = append(errs, errors.New("BROKER_GROUP_ID is required when the broker is enabled"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
