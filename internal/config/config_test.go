package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8000},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "activity"},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Broker.ConnectRetry != 10 {
		t.Fatalf("expected 10 connect retries, got %d", c.Broker.ConnectRetry)
	}
	if c.Broadcast.SendTimeout != 2*time.Second {
		t.Fatalf("expected 2s send timeout, got %v", c.Broadcast.SendTimeout)
	}
	if c.Activity.Workers != 1 {
		t.Fatalf("expected a single activity worker, got %d", c.Activity.Workers)
	}
}

func TestValidate_BrokerDisabledSkipsBrokerChecks(t *testing.T) {
	c := validConfig()
	c.Broker = BrokerConfig{Enabled: false, Driver: "kafka"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error for disabled broker, got %v", err)
	}
}

func TestValidate_BrokerEnabledRequiresSurface(t *testing.T) {
	c := validConfig()
	c.Broker = BrokerConfig{Enabled: true, Driver: "kafka"}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected broker validation error")
	}
	for _, want := range []string{"BROKER_DRIVER", "BROKER_ADDRS", "BROKER_TOPIC", "BROKER_GROUP_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestLoad_ParsesEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("BROKER_ENABLED", "true")
	t.Setenv("BROKER_DRIVER", "nats")
	t.Setenv("BROKER_ADDRS", "nats://a:4222,nats://b:4222")
	t.Setenv("BROKER_CONNECT_DELAY", "500ms")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9000 || c.HTTPAddr() != ":9000" {
		t.Fatalf("unexpected port %d", c.App.Port)
	}
	if len(c.Broker.Addrs) != 2 || c.Broker.Addrs[1] != "nats://b:4222" {
		t.Fatalf("unexpected addrs %v", c.Broker.Addrs)
	}
	if c.Broker.Topic != "user.activity" || c.Broker.GroupID != "admin-monitor-group" {
		t.Fatalf("unexpected broker defaults %+v", c.Broker)
	}
	if c.Broker.ConnectDelay != 500*time.Millisecond {
		t.Fatalf("unexpected delay %v", c.Broker.ConnectDelay)
	}
}
