// Package config loads service settings from the environment (and an
// optional .env file) using viper.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"shortsgen/db"
	"shortsgen/errors"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	defaultJWTSecret = "supersecretkey"
)

type Config struct {
	AppEnv  string `mapstructure:"app_env"`
	Port    string `mapstructure:"port"`
	LogJSON bool   `mapstructure:"log_json"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`
	MongoURI string `mapstructure:"mongodb_uri"`
	MongoDB  string `mapstructure:"mongodb_db"`
	RedisURL string `mapstructure:"redis_url"`

	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`

	JWTSecret            string        `mapstructure:"jwt_secret"`
	JWTTTL               time.Duration `mapstructure:"jwt_ttl"`
	OperatorUser         string        `mapstructure:"operator_user"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
	AdminUsers           []string      `mapstructure:"admin_users"`
	WorkerSecret         string        `mapstructure:"worker_secret"`
	CORSOrigins          []string      `mapstructure:"cors_origins"`

	SourcesFile     string        `mapstructure:"sources_file"`
	IngestInterval  time.Duration `mapstructure:"ingest_interval"`
	ScrapeTimeout   time.Duration `mapstructure:"scrape_timeout"`
	ScrapeRate      float64       `mapstructure:"scrape_rate"`
	ScrapeBurst     int           `mapstructure:"scrape_burst"`
	ReservationTTL  time.Duration `mapstructure:"reservation_ttl"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	MaxTextLength   int           `mapstructure:"max_text_length"`

	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// SetDefaults registers every key so AutomaticEnv can bind it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log_json", false)

	v.SetDefault("db_driver", DriverSQLite)
	v.SetDefault("db_dsn", "shortsgen.db")
	v.SetDefault("mongodb_uri", "")
	v.SetDefault("mongodb_db", "shortsgen")
	v.SetDefault("redis_url", "")

	// Archive is off unless an endpoint is configured.
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "shortsgen")
	v.SetDefault("minio_secret_key", "changeme123")
	v.SetDefault("minio_bucket", "shortsgen-raw")
	v.SetDefault("minio_use_ssl", false)

	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("jwt_ttl", 24*time.Hour)
	v.SetDefault("operator_user", "admin")
	v.SetDefault("operator_password_hash", "")
	v.SetDefault("admin_users", []string{"admin"})
	v.SetDefault("worker_secret", "")
	v.SetDefault("cors_origins", []string{"*"})

	v.SetDefault("sources_file", "")
	v.SetDefault("ingest_interval", time.Duration(0))
	v.SetDefault("scrape_timeout", 10*time.Second)
	v.SetDefault("scrape_rate", 1.0)
	v.SetDefault("scrape_burst", 2)
	v.SetDefault("reservation_ttl", time.Duration(0))
	v.SetDefault("reclaim_interval", time.Minute)
	v.SetDefault("max_text_length", 600)

	v.SetDefault("rate_limit_rps", 10.0)
	v.SetDefault("rate_limit_burst", 20)
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates settings from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	c.AdminUsers = splitList(c.AdminUsers)
	c.CORSOrigins = splitList(c.CORSOrigins)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

// SQLDialect maps DBDriver to a SQL dialect. Mongo has none.
func (c *Config) SQLDialect() (db.Dialect, bool) {
	switch c.DBDriver {
	case DriverSQLite:
		return db.DialectSQLite, true
	case DriverPostgres:
		return db.DialectPostgres, true
	}
	return "", false
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
		if c.DBDSN == "" {
			return errors.Newf("DB_DSN is required for driver %s", c.DBDriver)
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required for driver mongo")
		}
	default:
		return errors.Newf("DB_DRIVER must be sqlite, postgres or mongo, got %q", c.DBDriver)
	}
	if c.MaxTextLength <= 0 {
		return errors.New("MAX_TEXT_LENGTH must be positive")
	}
	if c.ReservationTTL < 0 || c.IngestInterval < 0 {
		return errors.New("RESERVATION_TTL and INGEST_INTERVAL must not be negative")
	}
	if c.ReservationTTL > 0 && c.ReclaimInterval <= 0 {
		return errors.New("RECLAIM_INTERVAL must be positive when RESERVATION_TTL is set")
	}
	if c.IsProduction() {
		if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be set in production")
		}
		if c.OperatorPasswordHash == "" {
			return errors.New("OPERATOR_PASSWORD_HASH must be set in production")
		}
	}
	return nil
}

// splitList accepts both repeated values and one comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
