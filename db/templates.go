package db

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Template is a job template shipped in a release.
type Template struct {
	UUID        string   `db:"uuid"               json:"uuid"`
	ReleaseUUID string   `db:"release_uuid"       json:"release_uuid"`
	Name        string   `db:"name"               json:"name"`
	Version     string   `db:"version"            json:"version"`
	Fingerprint string   `db:"fingerprint"        json:"fingerprint"`
	SHA1        string   `db:"sha1"               json:"sha1,omitempty"`
	BlobstoreID string   `db:"blobstore_id"       json:"blobstore_id,omitempty"`
	RawPackages string   `db:"package_names_json" json:"-"`
	Packages    []string `db:"-"                  json:"packages"`
}

type TemplateFilter struct {
	ForRelease        string
	ForReleaseVersion string
	Name              string
	Version           string
	Fingerprint       string
}

func (f *TemplateFilter) Query() (string, []interface{}) {
	wheres := []string{"t.uuid = t.uuid"}
	args := []interface{}{}
	join := ""

	if f.ForRelease != "" {
		wheres = append(wheres, "t.release_uuid = ?")
		args = append(args, f.ForRelease)
	}
	if f.ForReleaseVersion != "" {
		join = `INNER JOIN release_versions_templates rvt ON rvt.template_uuid = t.uuid`
		wheres = append(wheres, "rvt.release_version_uuid = ?")
		args = append(args, f.ForReleaseVersion)
	}
	if f.Name != "" {
		wheres = append(wheres, "t.name = ?")
		args = append(args, f.Name)
	}
	if f.Version != "" {
		wheres = append(wheres, "t.version = ?")
		args = append(args, f.Version)
	}
	if f.Fingerprint != "" {
		wheres = append(wheres, "t.fingerprint = ?")
		args = append(args, f.Fingerprint)
	}

	return `
	   SELECT t.uuid, t.release_uuid, t.name, t.version, t.fingerprint,
	          t.sha1, t.blobstore_id, t.package_names_json
	     FROM templates t ` + join + `
	    WHERE ` + strings.Join(wheres, " AND ") + `
	 ORDER BY t.name, t.version, t.uuid`, args
}

func (db *DB) GetAllTemplates(filter *TemplateFilter) ([]*Template, error) {
	if filter == nil {
		filter = &TemplateFilter{}
	}

	l := []*Template{}
	query, args := filter.Query()
	if err := db.all(&l, query, args...); err != nil {
		return l, err
	}
	for _, t := range l {
		t.Packages = []string{}
		if t.RawPackages != "" {
			if err := json.Unmarshal([]byte(t.RawPackages), &t.Packages); err != nil {
				return l, fmt.Errorf("job %s/%s has a malformed package list: %s", t.Name, t.Version, err)
			}
		}
	}
	return l, nil
}

func (db *DB) FindTemplatesByFingerprint(fingerprint string) ([]*Template, error) {
	return db.GetAllTemplates(&TemplateFilter{Fingerprint: fingerprint})
}

func (db *DB) GetTemplate(release, name, version string) (*Template, error) {
	l, err := db.GetAllTemplates(&TemplateFilter{
		ForRelease: release,
		Name:       name,
		Version:    version,
	})
	if err != nil || len(l) == 0 {
		return nil, err
	}
	return l[0], nil
}

func (db *DB) GetReleaseVersionTemplates(rv string) ([]*Template, error) {
	return db.GetAllTemplates(&TemplateFilter{ForReleaseVersion: rv})
}

func (tx *Tx) CreateTemplate(t *Template) (*Template, error) {
	if t.Packages == nil {
		t.Packages = []string{}
	}
	raw, err := json.Marshal(t.Packages)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal packages of job %s/%s: %s", t.Name, t.Version, err)
	}

	t.UUID = RandomID()
	t.RawPackages = string(raw)
	err = tx.Exec(`
	   INSERT INTO templates (uuid, release_uuid, name, version, fingerprint, sha1, blobstore_id, package_names_json)
	                  VALUES (?,    ?,            ?,    ?,       ?,           ?,    ?,            ?)`,
		t.UUID, t.ReleaseUUID, t.Name, t.Version, t.Fingerprint, t.SHA1, t.BlobstoreID, t.RawPackages)
	if err != nil {
		return nil, fmt.Errorf("unable to create job %s/%s: %s", t.Name, t.Version, err)
	}
	tx.sendCreateObjectEvent(t)
	return t, nil
}

func (tx *Tx) AttachTemplate(template, rv string) error {
	var id string
	attached, err := tx.get(&id, `
	   SELECT template_uuid FROM release_versions_templates
	    WHERE template_uuid = ? AND release_version_uuid = ?`, template, rv)
	if err != nil || attached {
		return err
	}

	return tx.Exec(`
	   INSERT INTO release_versions_templates (template_uuid, release_version_uuid)
	                                   VALUES (?,             ?)`, template, rv)
}

func (tx *Tx) UpdateTemplateBlob(t *Template, blob, sha1 string) error {
	err := tx.Exec(`UPDATE templates SET blobstore_id = ?, sha1 = ? WHERE uuid = ?`, blob, sha1, t.UUID)
	if err != nil {
		return fmt.Errorf("unable to update blob of job %s/%s: %s", t.Name, t.Version, err)
	}
	t.BlobstoreID = blob
	t.SHA1 = sha1
	tx.sendUpdateObjectEvent(t)
	return nil
}
