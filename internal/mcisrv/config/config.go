package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type DatabaseConfig struct {
	// Type selects the metadata backend: "postgres" or "sqlite".
	Type string `toml:"type"`
	// DSN is the connection string. Overridden by MCI_DB_DSN when set.
	DSN string `toml:"dsn"`
}

type BlobStoreConfig struct {
	Root     string `toml:"root"`
	Compress bool   `toml:"compress"`
}

type IngestConfig struct {
	FetchTimeout  string `toml:"fetch_timeout"`
	RetryAttempts uint   `toml:"retry_attempts"`
}

type GCConfig struct {
	GracePeriod   string `toml:"grace_period"`
	SweepInterval string `toml:"sweep_interval"`
}

type ConfigParam struct {
	ServerPort       string          `toml:"server_port"`
	HandleCORS       bool            `toml:"handle_cors"`
	SecretsAPI       bool            `toml:"secrets_api"`
	Database         DatabaseConfig  `toml:"database"`
	BlobStore        BlobStoreConfig `toml:"blobstore"`
	Ingest           IngestConfig    `toml:"ingest"`
	GarbageCollector GCConfig        `toml:"gc"`
}

var cfg *ConfigParam

func Config() *ConfigParam {
	return cfg
}

func LoadConfig(filename string) error {
	cp := defaults()
	if filename != "" {
		content, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("error reading config file: %v", err)
		}
		if _, err := toml.Decode(string(content), cp); err != nil {
			return fmt.Errorf("error parsing config file: %v", err)
		}
	}
	if dsn := os.Getenv("MCI_DB_DSN"); dsn != "" {
		cp.Database.DSN = dsn
	}
	cfg = cp
	return nil
}

func defaults() *ConfigParam {
	return &ConfigParam{
		ServerPort: "7687",
		HandleCORS: true,
		Database: DatabaseConfig{
			Type: "postgres",
			DSN:  "host=localhost port=5432 user=mci dbname=mci sslmode=disable",
		},
		BlobStore: BlobStoreConfig{
			Root:     "/var/lib/mci/blobs",
			Compress: true,
		},
		Ingest: IngestConfig{
			FetchTimeout:  "30s",
			RetryAttempts: 4,
		},
		GarbageCollector: GCConfig{
			GracePeriod:   "1h",
			SweepInterval: "10m",
		},
	}
}

// FetchTimeout returns the parsed ingest fetch timeout.
func (c *ConfigParam) FetchTimeout() time.Duration {
	return parseDurationOr(c.Ingest.FetchTimeout, 30*time.Second)
}

// GracePeriod returns the parsed GC grace period. It must exceed the
// maximum plausible ingestion duration; see the gc package.
func (c *ConfigParam) GracePeriod() time.Duration {
	return parseDurationOr(c.GarbageCollector.GracePeriod, time.Hour)
}

// SweepInterval returns the parsed GC sweep interval.
func (c *ConfigParam) SweepInterval() time.Duration {
	return parseDurationOr(c.GarbageCollector.SweepInterval, 10*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func init() {
	if err := LoadConfig(""); err != nil {
		panic(err)
	}
}
