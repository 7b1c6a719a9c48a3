package db

import (
	"time"

	"github.com/jhunt/go-log"
)

// AcquireLock tries, once, to take the named lock for owner.  Locks that
// have outlived their ttl are considered abandoned and are taken over.
func (db *DB) AcquireLock(name, owner string, ttl time.Duration) (bool, error) {
	acquired := false
	err := db.Transactionally(func(tx *Tx) error {
		now := time.Now()
		if err := tx.Exec(`DELETE FROM locks WHERE name = ? AND expires_at <= ?`, name, now.Unix()); err != nil {
			return err
		}

		var holder string
		held, err := tx.get(&holder, `SELECT owner FROM locks WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if held {
			acquired = holder == owner
			return nil
		}

		if err := tx.Exec(`INSERT INTO locks (name, owner, expires_at) VALUES (?, ?, ?)`, name, owner, now.Add(ttl).Unix()); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		/* another process may have inserted the lock first */
		if held, _ := db.Exists(`SELECT owner FROM locks WHERE name = ?`, name); held {
			log.Debugf("lost the race for lock '%s': %s", name, err)
			return false, nil
		}
		return false, err
	}
	return acquired, nil
}

func (db *DB) ReleaseLock(name, owner string) error {
	return db.Exec(`DELETE FROM locks WHERE name = ? AND owner = ?`, name, owner)
}

// RefreshLock pushes the expiry of a held lock out by ttl.  It reports
// false if owner no longer holds the lock.
func (db *DB) RefreshLock(name, owner string, ttl time.Duration) (bool, error) {
	err := db.Exec(`UPDATE locks SET expires_at = ? WHERE name = ? AND owner = ?`,
		time.Now().Add(ttl).Unix(), name, owner)
	if err != nil {
		return false, err
	}
	return db.Exists(`SELECT owner FROM locks WHERE name = ? AND owner = ?`, name, owner)
}
