package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jhunt/go-log"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pborman/uuid"

	"github.com/shieldproject/relstore/core/bus"
)

type DB struct {
	connection *sqlx.DB
	Driver     string
	DSN        string

	exclusive sync.Mutex
	bus       *bus.Bus
}

// Connect to the catalog database.  The driver is one of sqlite3,
// postgres or mysql.
func Connect(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database type '%s'", driver)
	}

	connection, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite3" {
		/* every new connection to :memory: is a new database */
		connection.SetMaxOpenConns(1)
	}

	return &DB{
		connection: connection,
		Driver:     driver,
		DSN:        dsn,
	}, nil
}

// Are we connected?
func (db *DB) Connected() bool {
	return db.connection != nil
}

// Disconnect from the backend database
func (db *DB) Disconnect() error {
	if db.connection != nil {
		if err := db.connection.Close(); err != nil {
			return err
		}
		db.connection = nil
	}
	return nil
}

// Inform the database of the message bus, so that it can announce
// catalog changes.
func (db *DB) Inform(mbus *bus.Bus) {
	db.bus = mbus
}

// Execute a non-data query (INSERT, UPDATE, DELETE, etc.)
func (db *DB) Exec(query string, args ...interface{}) error {
	if db.connection == nil {
		return fmt.Errorf("Not connected to database")
	}
	return exec(db.connection, query, args...)
}

// Execute a data query (SELECT)
func (db *DB) Query(query string, args ...interface{}) (*sqlx.Rows, error) {
	if db.connection == nil {
		return nil, fmt.Errorf("Not connected to database")
	}
	log.Debugf("Executing SQL: %s", query)
	log.Debugf("Parameters: %v", args)
	return db.connection.Queryx(db.connection.Rebind(query), args...)
}

// Execute a data query (SELECT) and return how many rows were returned
func (db *DB) Count(query string, args ...interface{}) (uint, error) {
	r, err := db.Query(query, args...)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var n uint = 0
	for r.Next() {
		n++
	}
	return n, r.Err()
}

// Execute a data query (SELECT) and report whether it returned anything.
func (db *DB) Exists(query string, args ...interface{}) (bool, error) {
	n, err := db.Count(query, args...)
	return n > 0, err
}

func (db *DB) get(dest interface{}, query string, args ...interface{}) (bool, error) {
	if db.connection == nil {
		return false, fmt.Errorf("Not connected to database")
	}
	return get(db.connection, dest, query, args...)
}

func (db *DB) all(dest interface{}, query string, args ...interface{}) error {
	if db.connection == nil {
		return fmt.Errorf("Not connected to database")
	}
	return all(db.connection, dest, query, args...)
}

func (db *DB) exclusively(fn func() error) error {
	db.exclusive.Lock()
	defer db.exclusive.Unlock()
	return fn()
}

// Tx is a catalog transaction.  Objects created inside of it are only
// announced on the message bus once the transaction commits.
type Tx struct {
	tx     *sqlx.Tx
	db     *DB
	events []func()
}

func (tx *Tx) Exec(query string, args ...interface{}) error {
	return exec(tx.tx, query, args...)
}

func (tx *Tx) get(dest interface{}, query string, args ...interface{}) (bool, error) {
	return get(tx.tx, dest, query, args...)
}

func (tx *Tx) all(dest interface{}, query string, args ...interface{}) error {
	return all(tx.tx, dest, query, args...)
}

func (tx *Tx) announce(fn func()) {
	tx.events = append(tx.events, fn)
}

// Transactionally runs fn inside of a single database transaction,
// committing if it returns nil and rolling back otherwise.  Only one
// transaction runs at a time per DB.
func (db *DB) Transactionally(fn func(*Tx) error) error {
	if db.connection == nil {
		return fmt.Errorf("Not connected to database")
	}

	var committed *Tx
	err := db.exclusively(func() error {
		t, err := db.connection.Beginx()
		if err != nil {
			return fmt.Errorf("unable to start a database transaction: %s", err)
		}

		tx := &Tx{tx: t, db: db}
		if err := fn(tx); err != nil {
			if rerr := t.Rollback(); rerr != nil {
				log.Errorf("unable to roll back database transaction: %s", rerr)
			}
			return err
		}

		if err := t.Commit(); err != nil {
			return fmt.Errorf("unable to commit database transaction: %s", err)
		}
		committed = tx
		return nil
	})
	if err != nil {
		return err
	}

	for _, fn := range committed.events {
		fn()
	}
	return nil
}

type handle interface {
	Rebind(string) string
	Get(interface{}, string, ...interface{}) error
	Select(interface{}, string, ...interface{}) error
	Exec(string, ...interface{}) (sql.Result, error)
}

func exec(h handle, query string, args ...interface{}) error {
	log.Debugf("Executing SQL: %s", query)
	log.Debugf("Parameters: %v", args)
	_, err := h.Exec(h.Rebind(query), args...)
	return err
}

func get(h handle, dest interface{}, query string, args ...interface{}) (bool, error) {
	log.Debugf("Executing SQL: %s", query)
	log.Debugf("Parameters: %v", args)
	err := h.Get(dest, h.Rebind(query), args...)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func all(h handle, dest interface{}, query string, args ...interface{}) error {
	log.Debugf("Executing SQL: %s", query)
	log.Debugf("Parameters: %v", args)
	return h.Select(dest, h.Rebind(query), args...)
}

func RandomID() string {
	return uuid.NewRandom().String()
}
