package lock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jhunt/go-log"

	"github.com/shieldproject/relstore/db"
)

const (
	DefaultTimeout = 300 /* seconds */
	DefaultTTL     = 60  /* seconds */
	DefaultPrefix  = "relstore/locks/"
)

// A Lock is a held, named lock.  Release is safe to call more than once.
type Lock interface {
	Name() string
	Release() error
}

// A Locker hands out named locks, waiting at most timeout for one to
// become free.
type Locker interface {
	Acquire(name string, timeout time.Duration) (Lock, error)
}

type ErrTimeout struct {
	Name   string
	Waited time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock '%s'", e.Waited, e.Name)
}

type Config struct {
	Backend string `yaml:"backend" env:"RELSTORE_LOCK_BACKEND"`
	Timeout int    `yaml:"timeout" env:"RELSTORE_LOCK_TIMEOUT"`
	TTL     int    `yaml:"ttl"`
	Prefix  string `yaml:"prefix"`

	/* etcd */
	Endpoints []string `yaml:"endpoints"`

	/* consul and redis */
	Address string `yaml:"address" env:"RELSTORE_LOCK_ADDRESS"`
	Token   string `yaml:"token"   env:"RELSTORE_LOCK_TOKEN"`
	DB      int    `yaml:"db"`

	Username string `yaml:"username"`
	Password string `yaml:"password" env:"RELSTORE_LOCK_PASSWORD"`

	CACert            string `yaml:"ca_cert"`
	ClientCert        string `yaml:"client_cert"`
	ClientKey         string `yaml:"client_key"`
	SkipSSLValidation bool   `yaml:"skip_ssl_validation"`
}

func (c Config) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultTTL * time.Second
	}
	return time.Duration(c.TTL) * time.Second
}

func (c Config) prefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(c.Prefix, "/") + "/"
}

// New builds the Locker for the configured backend.  The database
// backend keeps its locks in the catalog, and needs a connected db.
func New(c Config, catalog *db.DB) (Locker, error) {
	switch strings.ToLower(c.Backend) {
	case "local", "":
		return NewLocal(), nil

	case "database", "db":
		if catalog == nil {
			return nil, fmt.Errorf("the database lock backend requires a catalog database")
		}
		return NewDatabase(catalog, c.ttl()), nil

	case "etcd":
		return NewEtcd(c)

	case "consul":
		return NewConsul(c)

	case "redis":
		return NewRedis(c)
	}
	return nil, fmt.Errorf("unrecognized lock backend '%s'", c.Backend)
}

// keepalive calls refresh every so often, until the returned func is
// called.  Backends with expiring locks use this to hold on to them.
func keepalive(name string, every time.Duration, refresh func() (bool, error)) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()

		for {
			select {
			case <-done:
				return
			case <-t.C:
				ok, err := refresh()
				if err != nil {
					log.Errorf("unable to refresh lock '%s': %s", name, err)
				} else if !ok {
					log.Errorf("lock '%s' was lost before it was released", name)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
