// Package config loads creature-ledger settings from the environment; the
// command lets flags override them.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"creatureledger/internal/blob"
	"creatureledger/internal/core"
	"creatureledger/pkg/domain"
)

// S3 configures the S3-compatible archive backend.
type S3 struct {
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"ENDPOINT"`
	PathStyle       bool   `env:"PATH_STYLE"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
}

// Config holds every tunable of the ledger process.
type Config struct {
	StorageDriver string `env:"CREATURELEDGER_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"CREATURELEDGER_SQLITE_PATH" envDefault:"creatureledger.db"`
	PostgresDSN   string `env:"CREATURELEDGER_POSTGRES_DSN"`

	MaxOwned        uint32        `env:"CREATURELEDGER_MAX_OWNED" envDefault:"3"`
	ReservePerAsset uint64        `env:"CREATURELEDGER_RESERVE_PER_ASSET" envDefault:"1000"`
	IDBits          uint8         `env:"CREATURELEDGER_ID_BITS" envDefault:"32"`
	EntropyRefresh  time.Duration `env:"CREATURELEDGER_ENTROPY_REFRESH" envDefault:"6s"`

	// BlobDriver selects the notification journal backend; empty disables
	// the journal.
	BlobDriver string `env:"CREATURELEDGER_BLOB_DRIVER"`
	BlobFSRoot string `env:"CREATURELEDGER_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3         S3     `envPrefix:"CREATURELEDGER_BLOB_S3_"`

	JournalBatch int           `env:"CREATURELEDGER_JOURNAL_BATCH" envDefault:"64"`
	JournalFlush time.Duration `env:"CREATURELEDGER_JOURNAL_FLUSH" envDefault:"5s"`

	HTTPAddr     string `env:"CREATURELEDGER_HTTP_ADDR" envDefault:":8080"`
	JWTPublicKey string `env:"CREATURELEDGER_JWT_PUBLIC_KEY"`
	JWTIssuer    string `env:"CREATURELEDGER_JWT_ISSUER"`

	LogLevel string `env:"CREATURELEDGER_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// BindFlags registers overrides for the settings shared by every command.
// Defaults are the values already loaded, so flags win over the environment.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.StorageDriver, "storage", c.StorageDriver, "storage driver: memory, sqlite or postgres (env CREATURELEDGER_STORAGE_DRIVER)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", c.SQLitePath, "sqlite database file (env CREATURELEDGER_SQLITE_PATH)")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "postgres connection string (env CREATURELEDGER_POSTGRES_DSN)")
	fs.StringVar(&c.BlobDriver, "blob-driver", c.BlobDriver, "journal backend: fs, s3 or memory; empty disables (env CREATURELEDGER_BLOB_DRIVER)")
	fs.StringVar(&c.BlobFSRoot, "blob-root", c.BlobFSRoot, "journal directory for the fs backend (env CREATURELEDGER_BLOB_FS_ROOT)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error (env CREATURELEDGER_LOG_LEVEL)")
}

// Validate reports settings the ledger cannot start with.
func (c Config) Validate() error {
	var errs []error
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch core.StorageDriver(c.StorageDriver) {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch blob.Driver(c.BlobDriver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if strings.TrimSpace(c.S3.Bucket) == "" {
			errs = append(errs, errors.New("CREATURELEDGER_BLOB_S3_BUCKET is required for the s3 journal"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.BlobDriver))
	}
	if c.JournalBatch <= 0 {
		errs = append(errs, fmt.Errorf("journal batch must be positive, got %d", c.JournalBatch))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Params returns the ledger constants.
func (c Config) Params() domain.Params {
	return domain.Params{
		MaxOwnedPerAccount: c.MaxOwned,
		ReservePerAsset:    domain.Amount(c.ReservePerAsset),
		IDBits:             c.IDBits,
	}
}

// Storage returns the persistent store selection.
func (c Config) Storage() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.StorageDriver),
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
	}
}

// JournalEnabled reports whether notifications are archived.
func (c Config) JournalEnabled() bool { return c.BlobDriver != "" }

// Blob returns the journal backend selection.
func (c Config) Blob() blob.Options {
	return blob.Options{
		Driver: blob.Driver(c.BlobDriver),
		FSRoot: c.BlobFSRoot,
		S3: blob.S3Config{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			PathStyle:       c.S3.PathStyle,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
		},
	}
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}
