package db

type v1Schema struct{}

func (s v1Schema) Deploy(db *DB) error {
	var err error

	err = db.Exec(`CREATE TABLE schema_info (
	                 version INTEGER
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`INSERT INTO schema_info VALUES (1)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE releases (
	                 uuid  VARCHAR(36)  NOT NULL PRIMARY KEY,
	                 name  VARCHAR(255) NOT NULL
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX releases_name_idx ON releases (name)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE release_versions (
	                 uuid                 VARCHAR(36)  NOT NULL PRIMARY KEY,
	                 release_uuid         VARCHAR(36)  NOT NULL,
	                 version              VARCHAR(255) NOT NULL,
	                 commit_hash          VARCHAR(255) NOT NULL DEFAULT '',
	                 uncommitted_changes  BOOLEAN      NOT NULL DEFAULT FALSE,
	                 created_at           BIGINT       NOT NULL DEFAULT 0
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX release_versions_idx ON release_versions (release_uuid, version)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE packages (
	                 uuid                 VARCHAR(36)  NOT NULL PRIMARY KEY,
	                 release_uuid         VARCHAR(36)  NOT NULL,
	                 name                 VARCHAR(255) NOT NULL,
	                 version              VARCHAR(255) NOT NULL,
	                 fingerprint          VARCHAR(255) NOT NULL,
	                 sha1                 VARCHAR(255) NOT NULL DEFAULT '',
	                 blobstore_id         VARCHAR(255) NOT NULL DEFAULT '',
	                 dependency_set_json  TEXT         NOT NULL
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX packages_release_name_version_idx ON packages (release_uuid, name, version)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE INDEX packages_fingerprint_idx ON packages (fingerprint)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE packages_release_versions (
	                 package_uuid          VARCHAR(36) NOT NULL,
	                 release_version_uuid  VARCHAR(36) NOT NULL
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX packages_release_versions_idx ON packages_release_versions (package_uuid, release_version_uuid)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE templates (
	                 uuid                VARCHAR(36)  NOT NULL PRIMARY KEY,
	                 release_uuid        VARCHAR(36)  NOT NULL,
	                 name                VARCHAR(255) NOT NULL,
	                 version             VARCHAR(255) NOT NULL,
	                 fingerprint         VARCHAR(255) NOT NULL,
	                 sha1                VARCHAR(255) NOT NULL DEFAULT '',
	                 blobstore_id        VARCHAR(255) NOT NULL DEFAULT '',
	                 package_names_json  TEXT         NOT NULL
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX templates_release_name_version_idx ON templates (release_uuid, name, version)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE INDEX templates_fingerprint_idx ON templates (fingerprint)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE release_versions_templates (
	                 template_uuid         VARCHAR(36) NOT NULL,
	                 release_version_uuid  VARCHAR(36) NOT NULL
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX release_versions_templates_idx ON release_versions_templates (template_uuid, release_version_uuid)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE stemcells (
	                 uuid              VARCHAR(36)  NOT NULL PRIMARY KEY,
	                 name              VARCHAR(255) NOT NULL,
	                 operating_system  VARCHAR(128) NOT NULL,
	                 version           VARCHAR(128) NOT NULL,
	                 cpi               VARCHAR(128) NOT NULL DEFAULT '',
	                 created_at        BIGINT       NOT NULL DEFAULT 0
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX stemcells_name_version_cpi_idx ON stemcells (name, version, cpi)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE INDEX stemcells_os_version_idx ON stemcells (operating_system, version)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE compiled_packages (
	                 uuid              VARCHAR(36)  NOT NULL PRIMARY KEY,
	                 package_uuid      VARCHAR(36)  NOT NULL,
	                 stemcell_os       VARCHAR(128) NOT NULL,
	                 stemcell_version  VARCHAR(128) NOT NULL,
	                 build             INTEGER      NOT NULL,
	                 dependency_key    VARCHAR(128) NOT NULL,
	                 sha1              VARCHAR(255) NOT NULL DEFAULT '',
	                 blobstore_id      VARCHAR(255) NOT NULL DEFAULT '',
	                 created_at        BIGINT       NOT NULL DEFAULT 0
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX compiled_packages_build_idx ON compiled_packages (package_uuid, stemcell_os, stemcell_version, build)`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX compiled_packages_dependency_key_idx ON compiled_packages (package_uuid, stemcell_os, stemcell_version, dependency_key)`)
	if err != nil {
		return err
	}

	return nil
}
