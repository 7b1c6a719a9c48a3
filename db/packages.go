package db

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Package struct {
	UUID         string   `db:"uuid"                json:"uuid"`
	ReleaseUUID  string   `db:"release_uuid"        json:"release_uuid"`
	Name         string   `db:"name"                json:"name"`
	Version      string   `db:"version"             json:"version"`
	Fingerprint  string   `db:"fingerprint"         json:"fingerprint"`
	SHA1         string   `db:"sha1"                json:"sha1,omitempty"`
	BlobstoreID  string   `db:"blobstore_id"        json:"blobstore_id,omitempty"`
	RawDeps      string   `db:"dependency_set_json" json:"-"`
	Dependencies []string `db:"-"                   json:"dependencies"`
}

// HasSource is false for packages that were only ever uploaded as part of
// a compiled release.
func (p *Package) HasSource() bool {
	return p.BlobstoreID != ""
}

func (p *Package) decode() error {
	p.Dependencies = []string{}
	if p.RawDeps == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(p.RawDeps), &p.Dependencies); err != nil {
		return fmt.Errorf("package %s/%s has a malformed dependency set: %s", p.Name, p.Version, err)
	}
	return nil
}

type PackageFilter struct {
	ForRelease        string
	ForReleaseVersion string
	Name              string
	Version           string
	Fingerprint       string
}

func (f *PackageFilter) Query() (string, []interface{}) {
	wheres := []string{"p.uuid = p.uuid"}
	args := []interface{}{}
	join := ""

	if f.ForRelease != "" {
		wheres = append(wheres, "p.release_uuid = ?")
		args = append(args, f.ForRelease)
	}
	if f.ForReleaseVersion != "" {
		join = `INNER JOIN packages_release_versions prv ON prv.package_uuid = p.uuid`
		wheres = append(wheres, "prv.release_version_uuid = ?")
		args = append(args, f.ForReleaseVersion)
	}
	if f.Name != "" {
		wheres = append(wheres, "p.name = ?")
		args = append(args, f.Name)
	}
	if f.Version != "" {
		wheres = append(wheres, "p.version = ?")
		args = append(args, f.Version)
	}
	if f.Fingerprint != "" {
		wheres = append(wheres, "p.fingerprint = ?")
		args = append(args, f.Fingerprint)
	}

	return `
	   SELECT p.uuid, p.release_uuid, p.name, p.version, p.fingerprint,
	          p.sha1, p.blobstore_id, p.dependency_set_json
	     FROM packages p ` + join + `
	    WHERE ` + strings.Join(wheres, " AND ") + `
	 ORDER BY p.name, p.version, p.uuid`, args
}

func (db *DB) GetAllPackages(filter *PackageFilter) ([]*Package, error) {
	if filter == nil {
		filter = &PackageFilter{}
	}

	l := []*Package{}
	query, args := filter.Query()
	if err := db.all(&l, query, args...); err != nil {
		return l, err
	}
	for _, p := range l {
		if err := p.decode(); err != nil {
			return l, err
		}
	}
	return l, nil
}

// FindPackagesByFingerprint looks across every release for packages with
// the given fingerprint.
func (db *DB) FindPackagesByFingerprint(fingerprint string) ([]*Package, error) {
	return db.GetAllPackages(&PackageFilter{Fingerprint: fingerprint})
}

func (db *DB) GetPackage(release, name, version string) (*Package, error) {
	l, err := db.GetAllPackages(&PackageFilter{
		ForRelease: release,
		Name:       name,
		Version:    version,
	})
	if err != nil || len(l) == 0 {
		return nil, err
	}
	return l[0], nil
}

func (db *DB) GetReleaseVersionPackages(rv string) ([]*Package, error) {
	return db.GetAllPackages(&PackageFilter{ForReleaseVersion: rv})
}

func (tx *Tx) CreatePackage(p *Package) (*Package, error) {
	if p.Dependencies == nil {
		p.Dependencies = []string{}
	}
	raw, err := json.Marshal(p.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal dependencies of package %s/%s: %s", p.Name, p.Version, err)
	}

	p.UUID = RandomID()
	p.RawDeps = string(raw)
	err = tx.Exec(`
	   INSERT INTO packages (uuid, release_uuid, name, version, fingerprint, sha1, blobstore_id, dependency_set_json)
	                 VALUES (?,    ?,            ?,    ?,       ?,           ?,    ?,            ?)`,
		p.UUID, p.ReleaseUUID, p.Name, p.Version, p.Fingerprint, p.SHA1, p.BlobstoreID, p.RawDeps)
	if err != nil {
		return nil, fmt.Errorf("unable to create package %s/%s: %s", p.Name, p.Version, err)
	}
	tx.sendCreateObjectEvent(p)
	return p, nil
}

// AttachPackage associates a package with a release version.  Attaching a
// package that is already attached does nothing.
func (tx *Tx) AttachPackage(pkg, rv string) error {
	var id string
	attached, err := tx.get(&id, `
	   SELECT package_uuid FROM packages_release_versions
	    WHERE package_uuid = ? AND release_version_uuid = ?`, pkg, rv)
	if err != nil || attached {
		return err
	}

	return tx.Exec(`
	   INSERT INTO packages_release_versions (package_uuid, release_version_uuid)
	                                  VALUES (?,            ?)`, pkg, rv)
}

// UpdatePackageBlob points a package at new source bits.  Identity
// (name, version, fingerprint) never changes.
func (tx *Tx) UpdatePackageBlob(p *Package, blob, sha1 string) error {
	err := tx.Exec(`UPDATE packages SET blobstore_id = ?, sha1 = ? WHERE uuid = ?`, blob, sha1, p.UUID)
	if err != nil {
		return fmt.Errorf("unable to update blob of package %s/%s: %s", p.Name, p.Version, err)
	}
	p.BlobstoreID = blob
	p.SHA1 = sha1
	tx.sendUpdateObjectEvent(p)
	return nil
}
