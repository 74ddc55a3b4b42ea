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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	KRS           KRSConfig
	GPA           GPAConfig
	Export        ExportConfig
	Notifications NotificationsConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// KRSConfig tunes the enrollment engine.
type KRSConfig struct {
	// CreditCap is the per-student, per-semester SKS limit.
	CreditCap int
	// DuplicatePolicy is "reject" (resubmitting an enrolled schedule fails
	// the whole batch) or "skip" (the item is dropped as a no-op).
	DuplicatePolicy string
	// RetryAttempts bounds automatic retries of transient ledger failures.
	RetryAttempts int
	RetryBackoff  time.Duration
	// TxTimeout bounds a single Register/Withdraw transaction.
	TxTimeout time.Duration
}

// GPAConfig governs transcript aggregation caching.
type GPAConfig struct {
	CacheTTL time.Duration
}

// ExportConfig locates the issued-document archive and bounds share links.
type ExportConfig struct {
	Dir string
	// ShareTTL bounds both share-token validity and archive retention.
	ShareTTL time.Duration
}

// NotificationsConfig sizes the rejected-enrollment dispatch queue.
type NotificationsConfig struct {
	Workers    int
	MaxRetries int
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
		if !errors.As(err, &notFound) {
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.KRS = KRSConfig{
		CreditCap:       v.GetInt("KRS_CREDIT_CAP"),
		DuplicatePolicy: strings.ToLower(v.GetString("KRS_DUPLICATE_POLICY")),
		RetryAttempts:   v.GetInt("KRS_RETRY_ATTEMPTS"),
		RetryBackoff:    parseDuration(v.GetString("KRS_RETRY_BACKOFF"), 100*time.Millisecond),
		TxTimeout:       parseDuration(v.GetString("KRS_TX_TIMEOUT"), 5*time.Second),
	}

	cfg.GPA = GPAConfig{
		CacheTTL: parseDuration(v.GetString("GPA_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Export = ExportConfig{
		Dir:      v.GetString("EXPORT_DIR"),
		ShareTTL: parseDuration(v.GetString("EXPORT_SHARE_TTL"), 24*time.Hour),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    v.GetInt("NOTIFICATIONS_WORKERS"),
		MaxRetries: v.GetInt("NOTIFICATIONS_MAX_RETRIES"),
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
	v.SetDefault("DB_NAME", "sister")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("KRS_CREDIT_CAP", 24)
	v.SetDefault("KRS_DUPLICATE_POLICY", "reject")
	v.SetDefault("KRS_RETRY_ATTEMPTS", 3)
	v.SetDefault("KRS_RETRY_BACKOFF", "100ms")
	v.SetDefault("KRS_TX_TIMEOUT", "5s")

	v.SetDefault("GPA_CACHE_TTL", "10m")

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_SHARE_TTL", "24h")

	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_MAX_RETRIES", 3)
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
