package db

import (
	"fmt"
	"strings"

	"github.com/shieldproject/relstore/timestamp"
)

type Stemcell struct {
	UUID            string              `db:"uuid"             json:"uuid"`
	Name            string              `db:"name"             json:"name"`
	OperatingSystem string              `db:"operating_system" json:"operating_system"`
	Version         string              `db:"version"          json:"version"`
	CPI             string              `db:"cpi"              json:"cpi,omitempty"`
	CreatedAt       timestamp.Timestamp `db:"created_at"       json:"created_at"`
}

// ParseStemcell splits an "os/version" stemcell reference.
func ParseStemcell(s string) (string, string, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid stemcell '%s' (expected os/version)", s)
	}
	return parts[0], parts[1], nil
}

const stemcellColumns = `uuid, name, operating_system, version, cpi, created_at`

// FindStemcells returns every registered stemcell for an operating
// system and version; there is one per CPI.
func (db *DB) FindStemcells(os, version string) ([]*Stemcell, error) {
	l := []*Stemcell{}
	return l, db.all(&l, `
	   SELECT `+stemcellColumns+`
	     FROM stemcells
	    WHERE operating_system = ? AND version = ?
	 ORDER BY name, cpi`, os, version)
}

func (db *DB) GetAllStemcells() ([]*Stemcell, error) {
	l := []*Stemcell{}
	return l, db.all(&l, `
	   SELECT `+stemcellColumns+`
	     FROM stemcells
	 ORDER BY operating_system, version, name, cpi`)
}

func (db *DB) CreateStemcell(s *Stemcell) (*Stemcell, error) {
	if s.Name == "" || s.OperatingSystem == "" || s.Version == "" {
		return nil, fmt.Errorf("stemcells need a name, an operating system and a version")
	}

	err := db.exclusively(func() error {
		exists, err := db.Exists(`SELECT uuid FROM stemcells WHERE name = ? AND version = ? AND cpi = ?`, s.Name, s.Version, s.CPI)
		if err != nil {
			return err
		}
		if exists {
			return NewErrExists("stemcell %s/%s is already registered", s.Name, s.Version)
		}

		s.UUID = RandomID()
		if s.CreatedAt.IsZero() {
			s.CreatedAt = timestamp.Now()
		}
		return db.Exec(`
		   INSERT INTO stemcells (uuid, name, operating_system, version, cpi, created_at)
		                  VALUES (?,    ?,    ?,                ?,       ?,   ?)`,
			s.UUID, s.Name, s.OperatingSystem, s.Version, s.CPI, s.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	db.sendCreateObjectEvent(s, CatalogQueue)
	return s, nil
}
