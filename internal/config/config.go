package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:":8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	AWS    AWSConfig
	Tables TableConfig
	Redis  RedisConfig
	Auth   AuthConfig
}

type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`

	// Endpoint points at DynamoDB Local during development; empty in
	// production.
	Endpoint string `envconfig:"DYNAMODB_ENDPOINT"`
}

type TableConfig struct {
	UserData    string `envconfig:"USER_DATA_TABLE" default:"UserData"`
	EmailSet    string `envconfig:"EMAIL_SET_TABLE" default:"EmailSet"`
	ChatData    string `envconfig:"CHAT_DATA_TABLE" default:"ChatData"`
	UserChat    string `envconfig:"USER_CHAT_TABLE" default:"UserChat"`
	ChatHistory string `envconfig:"CHAT_HISTORY_TABLE" default:"ChatHistory"`
}

type RedisConfig struct {
	Address  string `envconfig:"REDIS_ADDRESS" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET" default:"dev-secret-do-not-use-in-prod"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"15m"`
}

// Load reads configuration from the environment, seeded from a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}
