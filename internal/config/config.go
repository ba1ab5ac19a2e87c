package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// The services run as pods with their settings injected as environment variables.
// A local .env file is honoured for development but never required.

type Config struct {
	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	ServerPort string `mapstructure:"SERVER_PORT"`
	IsLocalDev bool   `mapstructure:"IS_LOCAL_DEV"`

	AWSRegion               string `mapstructure:"AWS_REGION"`
	AWSEndpoint             string `mapstructure:"AWS_ENDPOINT"`
	MirrorRepairSQSQueueURL string `mapstructure:"MIRROR_REPAIR_SQS_QUEUE_URL"`
	AlertEmailFrom          string `mapstructure:"ALERT_EMAIL_FROM"`
	AlertEmailTo            string `mapstructure:"ALERT_EMAIL_TO"`

	MirrorBackend    string `mapstructure:"MIRROR_BACKEND"`
	MongoURI         string `mapstructure:"MONGO_URI"`
	MongoDatabase    string `mapstructure:"MONGO_DATABASE"`
	MirrorMaxRetries int    `mapstructure:"MIRROR_MAX_RETRIES"`

	OrgTimezone       string        `mapstructure:"ORG_TIMEZONE"`
	ScheduleFile      string        `mapstructure:"SCHEDULE_FILE"`
	ScheduleCacheTTL  time.Duration `mapstructure:"SCHEDULE_CACHE_TTL"`
	LockTimeout       time.Duration `mapstructure:"LOCK_TIMEOUT"`
	ValidatorInterval time.Duration `mapstructure:"VALIDATOR_INTERVAL"`

	OTELEndpoint string `mapstructure:"OTEL_ENDPOINT"`
}

// LoadConfig reads configuration from an optional .env file and environment variables.
func LoadConfig() (config Config, err error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "db")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "attendance_db")
	viper.SetDefault("SQLITE_PATH", "attendance.db")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("IS_LOCAL_DEV", false)
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("AWS_ENDPOINT", "http://localstack:4566")
	viper.SetDefault("MIRROR_REPAIR_SQS_QUEUE_URL", "http://localstack:4566/000000000000/mirror-repair-queue")
	viper.SetDefault("ALERT_EMAIL_FROM", "attendance-alerts@attendance-service.com")
	viper.SetDefault("ALERT_EMAIL_TO", "")
	viper.SetDefault("MIRROR_BACKEND", "mongo")
	viper.SetDefault("MONGO_URI", "mongodb://mongo:27017")
	viper.SetDefault("MONGO_DATABASE", "attendance_live")
	viper.SetDefault("MIRROR_MAX_RETRIES", 5)
	viper.SetDefault("ORG_TIMEZONE", "UTC")
	viper.SetDefault("SCHEDULE_FILE", "")
	viper.SetDefault("SCHEDULE_CACHE_TTL", "5m")
	viper.SetDefault("LOCK_TIMEOUT", "5s")
	viper.SetDefault("VALIDATOR_INTERVAL", "15m")
	viper.SetDefault("OTEL_ENDPOINT", "jaeger:4317")

	// Read in environment variables that match the keys.
	viper.AutomaticEnv()

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if _, err = config.Location(); err != nil {
		return config, err
	}
	for name, d := range map[string]time.Duration{
		"LOCK_TIMEOUT":       config.LockTimeout,
		"SCHEDULE_CACHE_TTL": config.ScheduleCacheTTL,
		"VALIDATOR_INTERVAL": config.ValidatorInterval,
	} {
		if d <= 0 {
			return config, fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return config, nil
}

// Location resolves ORG_TIMEZONE.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.OrgTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ORG_TIMEZONE %q: %w", c.OrgTimezone, err)
	}
	return loc, nil
}

// AlertRecipients splits ALERT_EMAIL_TO on commas.
func (c Config) AlertRecipients() []string {
	var out []string
	for _, addr := range strings.Split(c.AlertEmailTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
