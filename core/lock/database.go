package lock

import (
	"sync"
	"time"

	"github.com/jhunt/go-log"

	"github.com/shieldproject/relstore/db"
)

const databasePoll = 250 * time.Millisecond

// Database locks live in the catalog's locks table, so every relstore
// sharing a catalog sees them.  Abandoned locks expire after their ttl.
type Database struct {
	db  *db.DB
	ttl time.Duration
}

type databaseLock struct {
	name  string
	owner string
	db    *db.DB

	once sync.Once
	stop func()
}

func NewDatabase(catalog *db.DB, ttl time.Duration) *Database {
	return &Database{db: catalog, ttl: ttl}
}

func (d *Database) Acquire(name string, timeout time.Duration) (Lock, error) {
	owner := db.RandomID()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := d.db.AcquireLock(name, owner, d.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debugf("acquired database lock '%s' as %s", name, owner)
			k := &databaseLock{name: name, owner: owner, db: d.db}
			k.stop = keepalive(name, d.ttl/3, func() (bool, error) {
				return d.db.RefreshLock(name, owner, d.ttl)
			})
			return k, nil
		}

		if !time.Now().Before(deadline) {
			return nil, &ErrTimeout{Name: name, Waited: timeout}
		}
		time.Sleep(databasePoll)
	}
}

func (k *databaseLock) Name() string {
	return k.name
}

func (k *databaseLock) Release() error {
	var err error
	k.once.Do(func() {
		k.stop()
		err = k.db.ReleaseLock(k.name, k.owner)
		log.Debugf("released database lock '%s'", k.name)
	})
	return err
}
