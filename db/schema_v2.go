package db

type v2Schema struct{}

func (s v2Schema) Deploy(db *DB) error {
	var err error

	/* build numbers are handed out from a counter, so that a
	   build removed by the deletion subsystem is never reused */
	err = db.Exec(`CREATE TABLE compiled_package_builds (
	                 package_uuid      VARCHAR(36)  NOT NULL,
	                 stemcell_os       VARCHAR(128) NOT NULL,
	                 stemcell_version  VARCHAR(128) NOT NULL,
	                 last_build        INTEGER      NOT NULL
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE UNIQUE INDEX compiled_package_builds_idx ON compiled_package_builds (package_uuid, stemcell_os, stemcell_version)`)
	if err != nil {
		return err
	}

	err = db.Exec(`INSERT INTO compiled_package_builds (package_uuid, stemcell_os, stemcell_version, last_build)
	                 SELECT package_uuid, stemcell_os, stemcell_version, MAX(build)
	                   FROM compiled_packages
	               GROUP BY package_uuid, stemcell_os, stemcell_version`)
	if err != nil {
		return err
	}

	err = db.Exec(`CREATE TABLE locks (
	                 name        VARCHAR(255) NOT NULL PRIMARY KEY,
	                 owner       VARCHAR(36)  NOT NULL,
	                 expires_at  BIGINT       NOT NULL
	               )`)
	if err != nil {
		return err
	}

	err = db.Exec(`UPDATE schema_info set version = 2`)
	if err != nil {
		return err
	}

	return nil
}
