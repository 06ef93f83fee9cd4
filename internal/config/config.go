package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	StorageBackendS3  = "s3"
	StorageBackendGCS = "gcs"
)

type Config struct {
	HTTP       HTTPConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Classifier ClassifierConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Sweep      SweepConfig
	LogLevel   string
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

type RedisConfig struct {
	Addr      string
	RecordTTL time.Duration
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

type ClassifierConfig struct {
	Addr        string
	DialTimeout time.Duration
}

type StorageConfig struct {
	Backend      string
	KeyPrefix    string
	SignedURLTTL time.Duration
	S3           S3Config
	GCS          GCSConfig
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
}

type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	SigningEmail    string
	SigningKey      string
}

type UploadConfig struct {
	MaxBytes int64
}

// SweepConfig drives the orphaned blob reconciliation job.
type SweepConfig struct {
	Schedule    string
	GracePeriod time.Duration
	Delete      bool
}

// Load reads configuration from the environment, falling back to defaults
// suited to the docker-compose setup.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("HTTP_ADDR"),
			ShutdownTimeout: v.GetDuration("HTTP_SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			DSN:          v.GetString("DATABASE_DSN"),
			MaxIdleConns: v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			MaxOpenConns: v.GetInt("DATABASE_MAX_OPEN_CONNS"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("REDIS_ADDR"),
			RecordTTL: v.GetDuration("REDIS_RECORD_TTL"),
		},
		Auth: AuthConfig{
			JWTSecret:   v.GetString("JWT_SECRET"),
			JWTAudience: v.GetString("JWT_AUDIENCE"),
		},
		Classifier: ClassifierConfig{
			Addr:        v.GetString("CLASSIFIER_ADDR"),
			DialTimeout: v.GetDuration("CLASSIFIER_DIAL_TIMEOUT"),
		},
		Storage: StorageConfig{
			Backend:      strings.ToLower(v.GetString("STORAGE_BACKEND")),
			KeyPrefix:    v.GetString("STORAGE_KEY_PREFIX"),
			SignedURLTTL: v.GetDuration("STORAGE_SIGNED_URL_TTL"),
			S3: S3Config{
				Endpoint:        v.GetString("S3_ENDPOINT"),
				AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
				SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
				BucketName:      v.GetString("S3_BUCKET_NAME"),
				Region:          v.GetString("S3_REGION"),
			},
			GCS: GCSConfig{
				Bucket:          v.GetString("GCS_BUCKET"),
				CredentialsFile: v.GetString("GCS_CREDENTIALS_FILE"),
				SigningEmail:    v.GetString("GCS_SIGNING_EMAIL"),
				SigningKey:      v.GetString("GCS_SIGNING_PRIVATE_KEY"),
			},
		},
		Upload: UploadConfig{
			MaxBytes: v.GetInt64("UPLOAD_MAX_BYTES"),
		},
		Sweep: SweepConfig{
			Schedule:    v.GetString("SWEEP_SCHEDULE"),
			GracePeriod: v.GetDuration("SWEEP_GRACE_PERIOD"),
			Delete:      v.GetBool("SWEEP_DELETE"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=lesions port=5432 sslmode=disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_RECORD_TTL", 10*time.Minute)
	v.SetDefault("JWT_SECRET", "dev-secret")
	v.SetDefault("CLASSIFIER_ADDR", "model-server:50051")
	v.SetDefault("CLASSIFIER_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("STORAGE_BACKEND", StorageBackendS3)
	v.SetDefault("STORAGE_KEY_PREFIX", "lesions/")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", 15*time.Minute)
	v.SetDefault("S3_ENDPOINT", "http://minio:9000")
	v.SetDefault("S3_ACCESS_KEY_ID", "minioadmin")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "minioadmin")
	v.SetDefault("S3_BUCKET_NAME", "lesion-images")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("SWEEP_SCHEDULE", "@every 1h")
	v.SetDefault("SWEEP_GRACE_PERIOD", time.Hour)
	v.SetDefault("SWEEP_DELETE", false)
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate checks cross-field rules that defaults cannot guarantee.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.Upload.MaxBytes))
	}
	switch c.Storage.Backend {
	case StorageBackendS3:
		if c.Storage.S3.BucketName == "" {
			errs = append(errs, errors.New("S3_BUCKET_NAME must be set for the s3 backend"))
		}
	case StorageBackendGCS:
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET must be set for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Storage.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("STORAGE_SIGNED_URL_TTL must be positive"))
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("SWEEP_SCHEDULE %q: %w", c.Sweep.Schedule, err))
	}
	if c.Sweep.GracePeriod < 0 {
		errs = append(errs, errors.New("SWEEP_GRACE_PERIOD must not be negative"))
	}
	return errors.Join(errs...)
}
