package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	GuardDuty GuardDutyConfig
	Mail      MailConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GuardDutyConfig tunes the substitute assignment runs and their side effects.
type GuardDutyConfig struct {
	RunTimeout             time.Duration
	StatsCacheTTL          time.Duration
	NotificationWorkers    int
	NotificationRetries    int
	NotificationRatePerSec int
	EventChannel           string
	ReminderEnabled        bool
	ReminderCron           string
	Timezone               string
}

// MailConfig configures escalation e-mails. Sending is skipped when APIKey is empty.
type MailConfig struct {
	SendGridAPIKey   string
	From             string
	AppName          string
	EscalationEmails []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.GuardDuty = GuardDutyConfig{
		RunTimeout:             parseDuration(v.GetString("GUARD_RUN_TIMEOUT"), 2*time.Minute),
		StatsCacheTTL:          parseDuration(v.GetString("GUARD_STATS_CACHE_TTL"), 5*time.Minute),
		NotificationWorkers:    v.GetInt("GUARD_NOTIFICATION_WORKERS"),
		NotificationRetries:    v.GetInt("GUARD_NOTIFICATION_RETRIES"),
		NotificationRatePerSec: v.GetInt("GUARD_NOTIFICATION_RATE_PER_SEC"),
		EventChannel:           v.GetString("GUARD_EVENT_CHANNEL"),
		ReminderEnabled:        v.GetBool("ENABLE_GUARD_REMINDER"),
		ReminderCron:           v.GetString("GUARD_REMINDER_CRON"),
		Timezone:               v.GetString("GUARD_TIMEZONE"),
	}

	cfg.Mail = MailConfig{
		SendGridAPIKey:   v.GetString("SENDGRID_API_KEY"),
		From:             v.GetString("MAIL_FROM"),
		AppName:          v.GetString("APP_NAME"),
		EscalationEmails: splitAndTrim(v.GetString("GUARD_ESCALATION_EMAILS")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_guard_duty")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GUARD_RUN_TIMEOUT", "2m")
	v.SetDefault("GUARD_STATS_CACHE_TTL", "5m")
	v.SetDefault("GUARD_NOTIFICATION_WORKERS", 2)
	v.SetDefault("GUARD_NOTIFICATION_RETRIES", 3)
	v.SetDefault("GUARD_NOTIFICATION_RATE_PER_SEC", 5)
	v.SetDefault("GUARD_EVENT_CHANNEL", "guard_duty.events")
	v.SetDefault("ENABLE_GUARD_REMINDER", false)
	v.SetDefault("GUARD_REMINDER_CRON", "0 7 * * 1-5")
	v.SetDefault("GUARD_TIMEZONE", "Asia/Jakarta")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM", "no-reply@sma.local")
	v.SetDefault("APP_NAME", "SMA Guard Duty")
	v.SetDefault("GUARD_ESCALATION_EMAILS", "")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
