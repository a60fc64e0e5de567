// Package config loads the service configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
)

// Config holds the authsyncd configuration. Defaults suit local development.
type Config struct {
	AppName  string `json:"app_name"`
	Env      string `json:"env"`
	Port     string `json:"port"`
	LogLevel string `json:"log_level"`

	// Database
	DBDriver string `json:"db_driver"`
	DBDSN    string `json:"-"`

	// Redis, empty address keeps live notifications in process
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`

	// JWT
	JWTSecret   string        `json:"-"`
	JWTIssuer   string        `json:"jwt_issuer"`
	JWTAudience string        `json:"jwt_audience"`
	AccessTTL   time.Duration `json:"access_ttl"`
	// ProducerSubjects are the token subjects allowed to publish
	// notifications. Empty leaves the producer route unguarded.
	ProducerSubjects []string `json:"producer_subjects"`

	// Session engine
	MaxRetries  int           `json:"max_retries"`
	RetryStep   time.Duration `json:"retry_step"`
	CallTimeout time.Duration `json:"call_timeout"`

	// Notifications
	NotificationLimit int `json:"notification_limit"`

	PhoneRegion      string `json:"phone_region"`
	MetricsNamespace string `json:"metrics_namespace"`
	MetricsEnabled   bool   `json:"metrics_enabled"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("invalid boolean for %s: %v, using default %v", key, err, def)
			return def
		}
		return b
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid int for %s: %v, using default %d", key, err, def)
			return def
		}
		return i
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using default %v", key, err, def)
			return def
		}
		return d
	}
	return def
}

func getlist(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load reads the optional dotenv files and then the environment.
func Load(files ...string) *Config {
	// a missing .env is fine, variables may come from the environment
	_ = godotenv.Load(files...)

	return &Config{
		AppName:  getenv("APP_NAME", "authsyncd"),
		Env:      getenv("APP_ENV", "development"),
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		DBDriver: getenv("DB_DRIVER", "sqlite"),
		DBDSN:    getenv("DB_DSN", "file:authsync.db?cache=shared"),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getint("REDIS_DB", 0),
		RedisPrefix:   getenv("REDIS_NOTIFICATION_PREFIX", "notifications:"),

		JWTSecret:   getenv("JWT_SECRET", "devaccesssecret"),
		JWTIssuer:   getenv("JWT_ISSUER", ""),
		JWTAudience: getenv("JWT_AUDIENCE", ""),
		AccessTTL:   getdur("JWT_ACCESS_TTL", time.Hour),

		ProducerSubjects: getlist("NOTIFICATION_PRODUCERS"),

		MaxRetries:  getint("SESSION_MAX_RETRIES", 3),
		RetryStep:   getdur("SESSION_RETRY_STEP", time.Second),
		CallTimeout: getdur("SESSION_CALL_TIMEOUT", 15*time.Second),

		NotificationLimit: getint("NOTIFICATION_LIMIT", 50),

		PhoneRegion:      getenv("PHONE_REGION", "US"),
		MetricsNamespace: getenv("METRICS_NAMESPACE", "authsync"),
		MetricsEnabled:   getbool("METRICS_ENABLED", true),
	}
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.DBDriver, validation.Required, validation.In("sqlite")),
		validation.Field(&c.DBDSN, validation.Required),
		validation.Field(&c.RedisAddr, is.DialString),
		validation.Field(&c.JWTSecret, validation.Required, validation.Length(8, 0)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.RetryStep, validation.Min(time.Millisecond)),
		validation.Field(&c.NotificationLimit, validation.Min(1), validation.Max(50)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "warning", "error", "fatal", "panic")),
	)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
