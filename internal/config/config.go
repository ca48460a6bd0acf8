// Package config loads the process configuration once at startup. The
// resulting Config is treated as read-only and handed to constructors.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"

	AssetStoreCloudinary = "cloudinary"
	AssetStoreS3         = "s3"
)

type Config struct {
	Port        string `env:"PORT" env-default:"8000"`
	Env         string `env:"APP_ENV" env-default:"development"`
	StoreDriver string `env:"STORE_DRIVER" env-default:"postgres"`
	CORSOrigin  string `env:"CORS_ORIGIN"`
	SentryDSN   string `env:"SENTRY_DSN"`
	CronSecret  string `env:"CRON_SECRET"`

	RunMigrations bool `env:"RUN_MIGRATIONS_ON_STARTUP" env-default:"true"`

	Postgres PostgresConfig
	Mongo    MongoConfig
	Tokens   TokenConfig
	Password PasswordConfig
	Cookies  CookieConfig
	Media    MediaConfig
	Limits   LimitsConfig
}

type PostgresConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" env-default:"10m"`
}

type MongoConfig struct {
	URL      string `env:"MONGO_URL"`
	Database string `env:"MONGO_DATABASE" env-default:"vidtube"`
}

// TokenConfig holds the two signing secrets and lifetimes. Access and refresh
// tokens never share a secret.
type TokenConfig struct {
	AccessSecret  string        `env:"ACCESS_TOKEN_SECRET"`
	AccessTTL     time.Duration `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshSecret string        `env:"REFRESH_TOKEN_SECRET"`
	RefreshTTL    time.Duration `env:"REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	Issuer        string        `env:"TOKEN_ISSUER" env-default:"vidtube-users"`
}

type PasswordConfig struct {
	BcryptCost int `env:"BCRYPT_COST" env-default:"10"`
}

type CookieConfig struct {
	Secure bool   `env:"COOKIE_SECURE" env-default:"true"`
	Domain string `env:"COOKIE_DOMAIN"`
}

type MediaConfig struct {
	AssetStore       string        `env:"ASSET_STORE" env-default:"cloudinary"`
	CloudinaryURL    string        `env:"CLOUDINARY_URL"`
	TempDir          string        `env:"UPLOAD_TEMP_DIR" env-default:"./public/temp"`
	StagingRetention time.Duration `env:"STAGING_RETENTION" env-default:"1h"`
	UploadTimeout    time.Duration `env:"UPLOAD_TIMEOUT" env-default:"20s"`

	S3Bucket        string `env:"S3_BUCKET"`
	S3Region        string `env:"S3_REGION" env-default:"us-east-1"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3AccessKey     string `env:"S3_ACCESS_KEY"`
	S3SecretKey     string `env:"S3_SECRET_KEY"`
	S3PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`
	S3KeyPrefix     string `env:"S3_KEY_PREFIX" env-default:"media"`
}

type LimitsConfig struct {
	BodyBytes   int64 `env:"BODY_LIMIT_BYTES" env-default:"16384"`
	UploadBytes int64 `env:"UPLOAD_MAX_BYTES" env-default:"10485760"`
}

// Load reads .env (when loadDotEnv is set) and the process environment.
func Load(loadDotEnv bool) (*Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.Media.AssetStore = strings.ToLower(strings.TrimSpace(c.Media.AssetStore))
	c.Tokens.AccessSecret = strings.TrimSpace(c.Tokens.AccessSecret)
	c.Tokens.RefreshSecret = strings.TrimSpace(c.Tokens.RefreshSecret)
	c.CronSecret = strings.TrimSpace(c.CronSecret)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Tokens.AccessSecret == "" {
		errs = append(errs, errors.New("missing required env: ACCESS_TOKEN_SECRET"))
	}
	if c.Tokens.RefreshSecret == "" {
		errs = append(errs, errors.New("missing required env: REFRESH_TOKEN_SECRET"))
	}
	if c.Tokens.AccessSecret != "" && c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token expiry must be positive"))
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("missing required env: DATABASE_URL"))
		}
	case StoreDriverMongo:
		if c.Mongo.URL == "" {
			errs = append(errs, errors.New("missing required env: MONGO_URL"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.Media.AssetStore {
	case AssetStoreCloudinary:
		if c.Media.CloudinaryURL == "" {
			errs = append(errs, errors.New("missing required env: CLOUDINARY_URL"))
		}
	case AssetStoreS3:
		if c.Media.S3Bucket == "" || c.Media.S3PublicBaseURL == "" {
			errs = append(errs, errors.New("S3_BUCKET and S3_PUBLIC_BASE_URL are required for the s3 asset store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ASSET_STORE %q", c.Media.AssetStore))
	}

	if c.Limits.BodyBytes <= 0 || c.Limits.UploadBytes <= 0 {
		errs = append(errs, errors.New("body limits must be positive"))
	}

	return errors.Join(errs...)
}
