package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Port       int    `env:"PORT" envDefault:"8080"`
	Dsn        string `env:"DSN" envDefault:"postgres://localhost:5432/civic_patrol?sslmode=disable"`
	JwtSecret  string `env:"JWT_SECRET"`
	JwtExpires string `env:"JWT_EXPIRES" envDefault:"24h"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"civic_patrol:changes"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`

	// client side of the sync engine
	APIBaseURL   string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	WebSocketURL string        `env:"WEBSOCKET_URL" envDefault:"ws://localhost:8080/ws"`
	APIToken     string        `env:"API_TOKEN"`
	RetryCount   int           `env:"CREATE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoff time.Duration `env:"CREATE_RETRY_BACKOFF" envDefault:"1s"`
	QueueSize    int           `env:"EVENT_QUEUE_SIZE" envDefault:"256"`
}

// CloudinaryEnabled reports whether upload credentials are configured.
func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func New() *Config {
	if loadErr := godotenv.Load(".env"); loadErr != nil {
		log.Printf("[Env]: unable to load .env file %v", loadErr)
	}

	var cfg Config

	if parseErr := env.Parse(&cfg); parseErr != nil {
		log.Printf("[Env]: failed to parse environment variables: %v", parseErr)
	}

	return &cfg
}
