package core

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jhunt/go-log"

	"github.com/shieldproject/relstore/blobstore"
	"github.com/shieldproject/relstore/core/bus"
	"github.com/shieldproject/relstore/core/ingest"
	"github.com/shieldproject/relstore/core/lock"
	"github.com/shieldproject/relstore/core/metrics"
	"github.com/shieldproject/relstore/core/scheduler"
	"github.com/shieldproject/relstore/db"
)

var Version = "(development)"

const (
	UploadPriority = 50
	ElevateEvery   = 30 * time.Second
)

type Core struct {
	Config Config

	DB        *db.DB
	Bus       *bus.Bus
	Blobstore blobstore.Blobstore
	Locker    lock.Locker
	Ingester  *ingest.Ingester
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Exporter
}

// New connects to (and if need be, sets up) the catalog, and builds
// everything that ingestion needs from the configuration.
func New(config Config) (*Core, error) {
	if err := config.fill(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create data directory %s: %s", config.DataDir, err)
	}

	c := &Core{
		Config: config,
		Bus:    bus.New(64, 2048),
	}

	var err error
	log.Debugf("connecting to %s database at %s", config.Database.Type, config.Database.DSN)
	c.DB, err = db.Connect(config.Database.Type, config.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database at %s: %s", config.Database.Type, config.Database.DSN, err)
	}
	if err := c.DB.Setup(); err != nil {
		c.DB.Disconnect()
		return nil, fmt.Errorf("failed to set up the catalog schema: %s", err)
	}
	c.DB.Inform(c.Bus)

	c.Blobstore, err = blobstore.New(config.BlobstoreConfig())
	if err != nil {
		c.DB.Disconnect()
		return nil, fmt.Errorf("failed to configure the %s blobstore: %s", config.Blobstore.Provider, err)
	}

	c.Locker, err = lock.New(config.Lock, c.DB)
	if err != nil {
		c.DB.Disconnect()
		return nil, fmt.Errorf("failed to configure the %s lock backend: %s", config.Lock.Backend, err)
	}

	c.Scheduler = scheduler.New(config.Scheduler.Threads)
	c.Ingester = &ingest.Ingester{
		DB:          c.DB,
		Blobstore:   c.Blobstore,
		Locker:      c.Locker,
		Bus:         c.Bus,
		Workers:     config.Ingest.Workers,
		LockTimeout: time.Duration(config.Lock.Timeout) * time.Second,
		TempDir:     config.Ingest.TempDir,
		ShareBlobs:  config.Ingest.ShareBlobs,
	}

	c.startMetrics()
	return c, nil
}

func (c *Core) count(table string) int {
	n, err := c.DB.Count(`SELECT uuid FROM ` + table)
	if err != nil {
		log.Warnf("unable to count %s for the metrics exporter: %s", table, err)
	}
	return int(n)
}

func (c *Core) startMetrics() {
	c.Metrics = metrics.New(&metrics.Exporter{
		Namespace: c.Config.Metrics.Namespace,
		Username:  c.Config.Metrics.Username,
		Password:  c.Config.Metrics.Password,

		ReleaseCount:         c.count("releases"),
		ReleaseVersionCount:  c.count("release_versions"),
		PackageCount:         c.count("packages"),
		TemplateCount:        c.count("templates"),
		CompiledPackageCount: c.count("compiled_packages"),
		StemcellCount:        c.count("stemcells"),

		Backlog: func() float64 {
			return float64(len(c.Scheduler.Status().Backlog))
		},
	})
	c.Metrics.Inform(c.Bus)
	go c.Metrics.Watch("*")
}

// ServeMetrics serves the Prometheus exporter on the configured listen
// address until ctx is cancelled.  It does nothing if metrics.listen is
// not set.
func (c *Core) ServeMetrics(ctx context.Context) error {
	if c.Config.Metrics.Listen == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics.Handler())
	server := &http.Server{
		Addr:    c.Config.Metrics.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdown)
	}()

	log.Infof("serving prometheus metrics on %s/metrics", c.Config.Metrics.Listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics listener on %s failed: %s", c.Config.Metrics.Listen, err)
	}
	return nil
}

type Upload struct {
	Archive string
	Summary *ingest.Summary
	Err     error
}

// UploadReleases ingests each archive as its own scheduler chore.  Chores
// for different releases run side by side (up to the configured thread
// count); the release lock keeps uploads of the same release in line.
// If ctx is cancelled, archives that have not started yet are reported
// as Canceled without being touched.
func (c *Core) UploadReleases(ctx context.Context, archives []string, opts ingest.Options) []Upload {
	uploads := make([]Upload, len(archives))
	chores := make([]scheduler.Chore, len(archives))
	scheduled := make([]bool, len(archives))

	for i, archive := range archives {
		i, archive := i, archive
		uploads[i].Archive = archive

		chores[i] = scheduler.NewChore(fmt.Sprintf("upload %s", filepath.Base(archive)), func(chore scheduler.Chore) error {
			s, err := c.Ingester.Ingest(ctx, archive, opts)
			uploads[i].Summary = s
			uploads[i].Err = err
			if err == nil {
				chore.Infof("stored %s/%s", s.Release, s.Version)
			}
			return err
		})
		if err := c.Scheduler.Schedule(UploadPriority, chores[i]); err != nil {
			uploads[i].Err = err
			continue
		}
		scheduled[i] = true
	}

	running, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Scheduler.Start(running, ElevateEvery)

	for i, chore := range chores {
		if !scheduled[i] {
			continue
		}
		if err := chore.Wait(); err != nil && uploads[i].Err == nil && uploads[i].Summary == nil {
			uploads[i].Err = &ingest.Error{Kind: ingest.Canceled, Stage: ingest.Queued, Err: err}
		}
	}
	return uploads
}

// RegisterStemcell records a stemcell so that compiled releases built
// against it can be uploaded.
func (c *Core) RegisterStemcell(name, operatingSystem, version, cpi string) (*db.Stemcell, error) {
	return c.DB.CreateStemcell(&db.Stemcell{
		Name:            name,
		OperatingSystem: operatingSystem,
		Version:         version,
		CPI:             cpi,
	})
}

func (c *Core) Close() error {
	c.Scheduler.Drain()
	return c.DB.Disconnect()
}
