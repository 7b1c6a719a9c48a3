package db

import (
	"fmt"
	"strings"

	"github.com/shieldproject/relstore/timestamp"
)

type CompiledPackage struct {
	UUID            string              `db:"uuid"             json:"uuid"`
	PackageUUID     string              `db:"package_uuid"     json:"package_uuid"`
	StemcellOS      string              `db:"stemcell_os"      json:"stemcell_os"`
	StemcellVersion string              `db:"stemcell_version" json:"stemcell_version"`
	Build           int                 `db:"build"            json:"build"`
	DependencyKey   string              `db:"dependency_key"   json:"dependency_key"`
	SHA1            string              `db:"sha1"             json:"sha1"`
	BlobstoreID     string              `db:"blobstore_id"     json:"blobstore_id"`
	CreatedAt       timestamp.Timestamp `db:"created_at"       json:"created_at"`
}

func (cp *CompiledPackage) Stemcell() string {
	return cp.StemcellOS + "/" + cp.StemcellVersion
}

type CompiledPackageFilter struct {
	ForPackage        string
	ForReleaseVersion string
	StemcellOS        string
	StemcellVersion   string
	DependencyKey     string

	/* for finding compiled packages of identical
	   packages that belong to other releases */
	PackageName        string
	PackageFingerprint string
	WithBlob           bool
}

func (f *CompiledPackageFilter) Query() (string, []interface{}) {
	wheres := []string{"c.uuid = c.uuid"}
	args := []interface{}{}
	joins := []string{}

	if f.ForPackage != "" {
		wheres = append(wheres, "c.package_uuid = ?")
		args = append(args, f.ForPackage)
	}
	if f.ForReleaseVersion != "" {
		joins = append(joins, `INNER JOIN packages_release_versions prv ON prv.package_uuid = c.package_uuid`)
		wheres = append(wheres, "prv.release_version_uuid = ?")
		args = append(args, f.ForReleaseVersion)
	}
	if f.StemcellOS != "" {
		wheres = append(wheres, "c.stemcell_os = ?")
		args = append(args, f.StemcellOS)
	}
	if f.StemcellVersion != "" {
		wheres = append(wheres, "c.stemcell_version = ?")
		args = append(args, f.StemcellVersion)
	}
	if f.DependencyKey != "" {
		wheres = append(wheres, "c.dependency_key = ?")
		args = append(args, f.DependencyKey)
	}
	if f.PackageName != "" || f.PackageFingerprint != "" {
		joins = append(joins, `INNER JOIN packages p ON p.uuid = c.package_uuid`)
		if f.PackageName != "" {
			wheres = append(wheres, "p.name = ?")
			args = append(args, f.PackageName)
		}
		if f.PackageFingerprint != "" {
			wheres = append(wheres, "p.fingerprint = ?")
			args = append(args, f.PackageFingerprint)
		}
	}
	if f.WithBlob {
		wheres = append(wheres, "c.blobstore_id <> ''")
	}

	return `
	   SELECT c.uuid, c.package_uuid, c.stemcell_os, c.stemcell_version, c.build,
	          c.dependency_key, c.sha1, c.blobstore_id, c.created_at
	     FROM compiled_packages c ` + strings.Join(joins, " ") + `
	    WHERE ` + strings.Join(wheres, " AND ") + `
	 ORDER BY c.package_uuid, c.stemcell_os, c.stemcell_version, c.build`, args
}

func (db *DB) GetAllCompiledPackages(filter *CompiledPackageFilter) ([]*CompiledPackage, error) {
	if filter == nil {
		filter = &CompiledPackageFilter{}
	}

	l := []*CompiledPackage{}
	query, args := filter.Query()
	return l, db.all(&l, query, args...)
}

// FindCompiledPackage looks up the compiled build of a package for a
// stemcell and dependency closure.
func (db *DB) FindCompiledPackage(pkg, os, version, key string) (*CompiledPackage, error) {
	l, err := db.GetAllCompiledPackages(&CompiledPackageFilter{
		ForPackage:      pkg,
		StemcellOS:      os,
		StemcellVersion: version,
		DependencyKey:   key,
	})
	if err != nil || len(l) == 0 {
		return nil, err
	}
	return l[0], nil
}

// FindSimilarCompiledPackage looks for a compiled build with the given
// stemcell and dependency closure, of any package (in any release) with
// the given name and fingerprint.
func (db *DB) FindSimilarCompiledPackage(name, fingerprint, os, version, key string) (*CompiledPackage, error) {
	l, err := db.GetAllCompiledPackages(&CompiledPackageFilter{
		PackageName:        name,
		PackageFingerprint: fingerprint,
		StemcellOS:         os,
		StemcellVersion:    version,
		DependencyKey:      key,
		WithBlob:           true,
	})
	if err != nil || len(l) == 0 {
		return nil, err
	}
	return l[0], nil
}

// NextBuildNumber hands out the next build number for a package and
// stemcell.  Numbers are never handed out twice.
func (tx *Tx) NextBuildNumber(pkg, os, version string) (int, error) {
	var last int
	found, err := tx.get(&last, `
	   SELECT last_build FROM compiled_package_builds
	    WHERE package_uuid = ? AND stemcell_os = ? AND stemcell_version = ?`, pkg, os, version)
	if err != nil {
		return 0, err
	}

	if !found {
		err = tx.Exec(`
		   INSERT INTO compiled_package_builds (package_uuid, stemcell_os, stemcell_version, last_build)
		                                VALUES (?,            ?,           ?,                1)`, pkg, os, version)
		return 1, err
	}

	err = tx.Exec(`
	   UPDATE compiled_package_builds
	      SET last_build = ?
	    WHERE package_uuid = ? AND stemcell_os = ? AND stemcell_version = ?`, last+1, pkg, os, version)
	return last + 1, err
}

// CreateCompiledPackage records a new compiled build, assigning it the
// next build number.  The package itself is not touched.
func (tx *Tx) CreateCompiledPackage(cp *CompiledPackage) (*CompiledPackage, error) {
	build, err := tx.NextBuildNumber(cp.PackageUUID, cp.StemcellOS, cp.StemcellVersion)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate a build number for compiled package on %s: %s", cp.Stemcell(), err)
	}

	cp.UUID = RandomID()
	cp.Build = build
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = timestamp.Now()
	}
	err = tx.Exec(`
	   INSERT INTO compiled_packages (uuid, package_uuid, stemcell_os, stemcell_version, build, dependency_key, sha1, blobstore_id, created_at)
	                          VALUES (?,    ?,            ?,           ?,                ?,     ?,              ?,    ?,            ?)`,
		cp.UUID, cp.PackageUUID, cp.StemcellOS, cp.StemcellVersion, cp.Build, cp.DependencyKey, cp.SHA1, cp.BlobstoreID, cp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("unable to create compiled package on %s: %s", cp.Stemcell(), err)
	}
	tx.sendCreateObjectEvent(cp)
	return cp, nil
}

func (tx *Tx) UpdateCompiledPackageBlob(cp *CompiledPackage, blob, sha1 string) error {
	err := tx.Exec(`UPDATE compiled_packages SET blobstore_id = ?, sha1 = ? WHERE uuid = ?`, blob, sha1, cp.UUID)
	if err != nil {
		return fmt.Errorf("unable to update blob of compiled package on %s: %s", cp.Stemcell(), err)
	}
	cp.BlobstoreID = blob
	cp.SHA1 = sha1
	tx.sendUpdateObjectEvent(cp)
	return nil
}
