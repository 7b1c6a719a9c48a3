package db

import (
	"fmt"

	"github.com/shieldproject/relstore/timestamp"
)

type Release struct {
	UUID string `db:"uuid" json:"uuid"`
	Name string `db:"name" json:"name"`
}

type ReleaseVersion struct {
	UUID               string              `db:"uuid"                json:"uuid"`
	ReleaseUUID        string              `db:"release_uuid"        json:"release_uuid"`
	Version            string              `db:"version"             json:"version"`
	CommitHash         string              `db:"commit_hash"         json:"commit_hash"`
	UncommittedChanges bool                `db:"uncommitted_changes" json:"uncommitted_changes"`
	CreatedAt          timestamp.Timestamp `db:"created_at"          json:"created_at"`
}

func (db *DB) GetRelease(name string) (*Release, error) {
	r := &Release{}
	found, err := db.get(r, `SELECT uuid, name FROM releases WHERE name = ?`, name)
	if !found {
		return nil, err
	}
	return r, nil
}

func (db *DB) GetAllReleases() ([]*Release, error) {
	l := []*Release{}
	return l, db.all(&l, `SELECT uuid, name FROM releases ORDER BY name`)
}

const releaseVersionColumns = `uuid, release_uuid, version, commit_hash, uncommitted_changes, created_at`

func (db *DB) GetReleaseVersion(release, version string) (*ReleaseVersion, error) {
	rv := &ReleaseVersion{}
	found, err := db.get(rv, `
	   SELECT `+releaseVersionColumns+`
	     FROM release_versions
	    WHERE release_uuid = ? AND version = ?`, release, version)
	if !found {
		return nil, err
	}
	return rv, nil
}

// GetReleaseVersions lists every known version of a release, oldest first.
func (db *DB) GetReleaseVersions(release string) ([]*ReleaseVersion, error) {
	l := []*ReleaseVersion{}
	return l, db.all(&l, `
	   SELECT `+releaseVersionColumns+`
	     FROM release_versions
	    WHERE release_uuid = ?
	 ORDER BY created_at, uuid`, release)
}

// EnsureRelease finds the named release, creating it if this is the first
// time it has been seen.
func (tx *Tx) EnsureRelease(name string) (*Release, error) {
	r := &Release{}
	found, err := tx.get(r, `SELECT uuid, name FROM releases WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	if found {
		return r, nil
	}

	r = &Release{UUID: RandomID(), Name: name}
	if err := tx.Exec(`INSERT INTO releases (uuid, name) VALUES (?, ?)`, r.UUID, r.Name); err != nil {
		return nil, fmt.Errorf("unable to create release '%s': %s", name, err)
	}
	tx.sendCreateObjectEvent(r)
	return r, nil
}

func (tx *Tx) CreateReleaseVersion(rv *ReleaseVersion) (*ReleaseVersion, error) {
	var id string
	exists, err := tx.get(&id, `SELECT uuid FROM release_versions WHERE release_uuid = ? AND version = ?`, rv.ReleaseUUID, rv.Version)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, NewErrExists("version '%s' of release %s already exists", rv.Version, rv.ReleaseUUID)
	}

	rv.UUID = RandomID()
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = timestamp.Now()
	}
	err = tx.Exec(`
	   INSERT INTO release_versions (uuid, release_uuid, version, commit_hash, uncommitted_changes, created_at)
	                         VALUES (?,    ?,            ?,       ?,           ?,                   ?)`,
		rv.UUID, rv.ReleaseUUID, rv.Version, rv.CommitHash, rv.UncommittedChanges, rv.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.sendCreateObjectEvent(rv)
	return rv, nil
}
