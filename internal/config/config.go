// Package config builds the explicit configuration passed into every stage.
// Nothing below cmd/ reads the process environment directly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Object store providers.
const (
	ProviderS3  = "s3"
	ProviderGCS = "gcs"
)

// Config holds everything a pipeline run needs from its environment.
type Config struct {
	Store     StoreConfig
	Warehouse WarehouseConfig
	Ledger    LedgerConfig

	StagingDir string
	FilePrefix string
	FileSuffix string
	LogLevel   string
}

// StoreConfig selects and authenticates the object store.
type StoreConfig struct {
	Provider string
	Bucket   string

	// S3
	Region    string
	AccessKey string
	SecretKey string

	// GCS; empty means Application Default Credentials.
	CredentialsFile string
}

// WarehouseConfig describes the Redshift/PostgreSQL warehouse.
type WarehouseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	Schema   string
}

// LedgerConfig points at the optional BigQuery run ledger.
type LedgerConfig struct {
	Project string
	Dataset string
}

// Enabled reports whether runs should be recorded in BigQuery.
func (l LedgerConfig) Enabled() bool {
	return l.Project != ""
}

// DSN renders a pgx connection string.
func (w WarehouseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(w.User, w.Password),
		Host:   net.JoinHostPort(w.Host, w.Port),
		Path:   "/" + w.Name,
	}
	return u.String()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STORE_PROVIDER", ProviderS3)
	v.SetDefault("AWS_REGION", "eu-west-2")
	v.SetDefault("DB_PORT", "5439")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("STAGING_DIR", "staging")
	v.SetDefault("FILE_PREFIX", "orders_")
	v.SetDefault("FILE_SUFFIX", ".csv")
	v.SetDefault("BQ_DATASET", "pos_ingest")
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from the environment, layered over an optional dotenv
// file. An empty envFile skips the file; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config.Load: reading %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Store: StoreConfig{
			Provider:        strings.ToLower(v.GetString("STORE_PROVIDER")),
			Bucket:          v.GetString("BUCKET_NAME"),
			Region:          v.GetString("AWS_REGION"),
			AccessKey:       v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey:       v.GetString("AWS_SECRET_ACCESS_KEY"),
			CredentialsFile: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		Warehouse: WarehouseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USERNAME"),
			Password: v.GetString("DB_PASSWORD"),
			Schema:   v.GetString("DB_SCHEMA"),
		},
		Ledger: LedgerConfig{
			Project: v.GetString("BQ_PROJECT"),
			Dataset: v.GetString("BQ_DATASET"),
		},
		StagingDir: v.GetString("STAGING_DIR"),
		FilePrefix: v.GetString("FILE_PREFIX"),
		FileSuffix: v.GetString("FILE_SUFFIX"),
		LogLevel:   v.GetString("LOG_LEVEL"),
	}
}

// ValidateStore reports missing settings needed to reach the object store.
func (c *Config) ValidateStore() error {
	var missing []string
	if c.Store.Bucket == "" {
		missing = append(missing, "BUCKET_NAME")
	}
	switch c.Store.Provider {
	case ProviderS3, ProviderGCS:
	default:
		return fmt.Errorf("unsupported STORE_PROVIDER %q (want %s or %s)", c.Store.Provider, ProviderS3, ProviderGCS)
	}
	return missingErr(missing)
}

// ValidateWarehouse reports missing settings needed to reach the warehouse.
func (c *Config) ValidateWarehouse() error {
	var missing []string
	for key, val := range map[string]string{
		"DB_HOST":     c.Warehouse.Host,
		"DB_NAME":     c.Warehouse.Name,
		"DB_USERNAME": c.Warehouse.User,
		"DB_PORT":     c.Warehouse.Port,
		"DB_SCHEMA":   c.Warehouse.Schema,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	return missingErr(missing)
}

// Validate checks everything a full run needs.
func (c *Config) Validate() error {
	return errors.Join(c.ValidateStore(), c.ValidateWarehouse())
}

func missingErr(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return fmt.Errorf("missing required configuration: %s", strings.Join(keys, ", "))
}
