package config

// Config holds all application configuration loaded from environment
// variables, parsed with github.com/caarlos0/env.
type Config struct {
	// Server configuration
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"InAppMessagingEngine"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Application identity (REQUIRED). Missing values are a config
	// error: the engine never becomes ready, the host keeps running.
	AppID      string `env:"APP_ID,required"`
	AppVersion string `env:"APP_VERSION,required"`
	SDKVersion string `env:"SDK_VERSION" envDefault:"1.0.0"`
	Locale     string `env:"APP_LOCALE" envDefault:"en"`

	// Backend configuration
	ConfigURL       string `env:"CONFIG_URL,required"`
	SubscriptionKey string `env:"SUBSCRIPTION_KEY"`

	// Redis configuration (campaign cache persistence)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Delivery policy file
	DeliveryConfigPath string `env:"DELIVERY_CONFIG_PATH" envDefault:"config/delivery.yaml"`

	// Telemetry configuration
	OtelEnabled bool `env:"OTEL_ENABLED" envDefault:"true"`
}
