package core

import (
	"fmt"
	"os"
	"path/filepath"

	env "github.com/jhunt/go-envirotron"
	"gopkg.in/yaml.v2"

	"github.com/shieldproject/relstore/blobstore"
	"github.com/shieldproject/relstore/core/lock"
)

type Config struct {
	Debug   bool   `yaml:"debug"    env:"RELSTORE_DEBUG"`
	DataDir string `yaml:"data-dir" env:"RELSTORE_DATA_DIR"`

	Database struct {
		Type string `yaml:"type" env:"RELSTORE_DB_TYPE"`
		DSN  string `yaml:"dsn"  env:"RELSTORE_DB_DSN"`
	} `yaml:"database"`

	Blobstore struct {
		Provider   string                 `yaml:"provider" env:"RELSTORE_BLOBSTORE_PROVIDER"`
		Properties map[string]interface{} `yaml:"properties"`
	} `yaml:"blobstore"`

	Lock lock.Config `yaml:"lock"`

	Ingest struct {
		Workers    int    `yaml:"workers"     env:"RELSTORE_INGEST_WORKERS"`
		TempDir    string `yaml:"temp-dir"    env:"RELSTORE_TEMP_DIR"`
		ShareBlobs bool   `yaml:"share-blobs" env:"RELSTORE_SHARE_BLOBS"`
	} `yaml:"ingest"`

	Scheduler struct {
		Threads int `yaml:"threads" env:"RELSTORE_SCHEDULER_THREADS"`
	} `yaml:"scheduler"`

	Metrics struct {
		Listen    string `yaml:"listen"    env:"RELSTORE_METRICS_LISTEN"`
		Username  string `yaml:"username"  env:"RELSTORE_METRICS_USERNAME"`
		Password  string `yaml:"password"  env:"RELSTORE_METRICS_PASSWORD"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`
}

// DefaultConfig keeps everything (catalog, blobs, scratch space) under
// a single data directory, and needs no outside services.
func DefaultConfig() Config {
	var c Config
	c.DataDir = "relstore"
	c.Database.Type = "sqlite3"
	c.Blobstore.Provider = "local"
	c.Lock.Backend = "local"
	c.Lock.Timeout = lock.DefaultTimeout
	c.Lock.TTL = lock.DefaultTTL
	c.Ingest.Workers = 4
	c.Ingest.ShareBlobs = true
	c.Scheduler.Threads = 2
	c.Metrics.Namespace = "relstore"
	return c
}

func ReadConfig(file string) (Config, error) {
	config := DefaultConfig()

	/* optionally read configuration from a file */
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return config, err
		}

		if err = yaml.Unmarshal(b, &config); err != nil {
			return config, fmt.Errorf("unable to parse %s: %s", file, err)
		}
	}

	env.Override(&config)

	if err := config.fill(); err != nil {
		return config, err
	}
	return config, config.Validate()
}

// fill derives the paths that default to living under the data dir.
func (c *Config) fill() error {
	if c.DataDir == "" {
		return fmt.Errorf("data-dir must be set")
	}

	if c.Database.Type == "sqlite3" && c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Ingest.TempDir == "" {
		c.Ingest.TempDir = filepath.Join(c.DataDir, "tmp")
	}
	if c.Blobstore.Provider == "local" {
		if c.Blobstore.Properties == nil {
			c.Blobstore.Properties = make(map[string]interface{})
		}
		if _, ok := c.Blobstore.Properties["path"]; !ok {
			c.Blobstore.Properties["path"] = filepath.Join(c.DataDir, "blobs")
		}
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Database.Type {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("database type '%s' is invalid (must be one of sqlite3, postgres or mysql)", c.Database.Type)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn must be set for %s databases", c.Database.Type)
	}

	switch c.Blobstore.Provider {
	case "local", "s3", "swift", "b2", "gcs":
	default:
		return fmt.Errorf("blobstore provider '%s' is invalid (must be one of local, s3, swift, b2 or gcs)", c.Blobstore.Provider)
	}

	switch c.Lock.Backend {
	case "local", "database", "db", "etcd", "consul", "redis":
	default:
		return fmt.Errorf("lock backend '%s' is invalid (must be one of local, database, etcd, consul or redis)", c.Lock.Backend)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock timeout value '%d' is invalid (must be greater than zero)", c.Lock.Timeout)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock ttl value '%d' is invalid (must be greater than zero)", c.Lock.TTL)
	}

	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest workers value '%d' is invalid (must be greater than zero)", c.Ingest.Workers)
	}
	if c.Scheduler.Threads <= 0 {
		return fmt.Errorf("scheduler threads value '%d' is invalid (must be greater than zero)", c.Scheduler.Threads)
	}
	return nil
}

func (c Config) BlobstoreConfig() blobstore.Config {
	return blobstore.Config{
		Provider:   c.Blobstore.Provider,
		Properties: c.Blobstore.Properties,
	}
}
