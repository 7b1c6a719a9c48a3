package db

import (
	"fmt"
	"sort"
	"strings"
)

var CurrentSchema int = currentSchema()

var Schemas = map[int]Schema{
	1: v1Schema{},
	2: v2Schema{},
}

type Schema interface {
	Deploy(*DB) error
}

// Setup deploys every schema version newer than the one the database is
// currently at.
func (db *DB) Setup() error {
	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	if current > CurrentSchema {
		return fmt.Errorf("Schema version %d is newer than this version of relstore (%d)", current, CurrentSchema)
	}

	for _, version := range schemaVersions() {
		if current < version {
			if err := Schemas[version].Deploy(db); err != nil {
				return fmt.Errorf("failed to deploy schema version %d: %s", version, err)
			}
		}
	}

	return nil
}

func schemaVersions() []int {
	var versions []int
	for k := range Schemas {
		versions = append(versions, k)
	}
	sort.Ints(versions)
	return versions
}

func currentSchema() int {
	versions := schemaVersions()
	return versions[len(versions)-1]
}

func missingTable(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "no such table:") || /* sqlite3 */
		strings.Contains(msg, "does not exist") || /* postgres */
		strings.Contains(msg, "doesn't exist") /* mysql */
}

func (db *DB) SchemaVersion() (int, error) {
	var versions []int
	if err := db.all(&versions, `SELECT version FROM schema_info LIMIT 1`); err != nil {
		if missingTable(err) {
			return 0, nil
		}
		return 0, err
	}

	// no records = no schema
	if len(versions) == 0 {
		return 0, nil
	}

	// invalid (negative) schema version is an actual error
	if versions[0] < 0 {
		return 0, fmt.Errorf("Invalid schema version %d found", versions[0])
	}

	return versions[0], nil
}

func (db *DB) CheckCurrentSchema() error {
	v, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	if v != CurrentSchema {
		return fmt.Errorf("wrong schema version (%d, but want to be at %d)", v, CurrentSchema)
	}
	return nil
}
