package ingest

import (
	"fmt"

	"github.com/jhunt/go-log"

	"github.com/shieldproject/relstore/db"
	"github.com/shieldproject/relstore/fingerprint"
)

type compiledPlan struct {
	pkg     *packagePlan
	os      string
	version string
	key     string

	existing *db.CompiledPackage
	reused   bool
	fixed    bool

	blob  string
	sum   string
	write *blobWrite
}

func (c *compiledPlan) blobID() string {
	if c.write != nil {
		return c.write.blob
	}
	return c.blob
}

func (c *compiledPlan) action() string {
	switch {
	case c.fixed:
		return "fixed"
	case c.reused:
		return "reused"
	}
	return "created"
}

// matchCompiled works out, for each compiled package in the archive,
// which stemcell and dependency closure it was built for, and whether
// the catalog already has that exact build.
func (r *run) matchCompiled() error {
	if err := r.enter(CompilingMatch); err != nil {
		return err
	}

	versions := make(map[string]string)
	for _, p := range r.packages {
		versions[p.meta.Name] = p.meta.Version
	}

	known := make(map[string]bool)
	for _, p := range r.packages {
		name := p.meta.Name

		ref := p.meta.Stemcell
		if ref == "" {
			ref = r.opts.StemcellHint
		}
		if ref == "" {
			return r.fail(ArchiveInvalid, name, fmt.Errorf("compiled package %s/%s does not say which stemcell it was compiled for", name, p.meta.Version))
		}
		os, ver, err := db.ParseStemcell(ref)
		if err != nil {
			return r.fail(ArchiveInvalid, name, err)
		}

		if !known[os+"/"+ver] {
			l, err := r.DB.FindStemcells(os, ver)
			if err != nil {
				return r.fail(CatalogFailure, name, err)
			}
			if len(l) == 0 {
				return r.fail(UnknownStemcell, name, &UnknownStemcellError{OS: os, Version: ver})
			}
			known[os+"/"+ver] = true
		}

		closure := make([]fingerprint.Dependency, 0, len(r.closure[name]))
		for _, dep := range r.closure[name] {
			closure = append(closure, fingerprint.Dependency{Name: dep, Version: versions[dep]})
		}

		c := &compiledPlan{
			pkg:     p,
			os:      os,
			version: ver,
			key:     fingerprint.DependencyKey(closure),
		}
		if err := r.planCompiled(c); err != nil {
			return err
		}
		r.compiled = append(r.compiled, c)
	}
	return nil
}

func (r *run) planCompiled(c *compiledPlan) error {
	p := c.pkg
	name := p.meta.Name

	if p.row != nil {
		existing, err := r.DB.FindCompiledPackage(p.row.UUID, c.os, c.version, c.key)
		if err != nil {
			return r.fail(CatalogFailure, name, err)
		}
		if existing != nil {
			c.existing = existing
			c.reused = true

			ok, err := r.usable(existing.BlobstoreID)
			if err != nil {
				return r.fail(BlobstoreFailure, name, err)
			}
			if !ok {
				log.Infof("re-uploading missing blob of %s/%s compiled for %s", name, p.meta.Version, existing.Stemcell())
				if c.write, err = r.bits(name, p.path, p.sha1); err != nil {
					return err
				}
				c.sum = p.sha1
				c.fixed = true
			}
			return nil
		}
	}

	similar, err := r.DB.FindSimilarCompiledPackage(name, p.fingerprint, c.os, c.version, c.key)
	if err != nil {
		return r.fail(CatalogFailure, name, err)
	}
	if similar != nil {
		ok, err := r.usable(similar.BlobstoreID)
		if err != nil {
			return r.fail(BlobstoreFailure, name, err)
		}
		if ok {
			log.Debugf("%s/%s compiled for %s/%s already exists in another release", name, p.meta.Version, c.os, c.version)
			c.blob, c.write = r.share(name, similar.BlobstoreID)
			c.sum = similar.SHA1
			return nil
		}
	}

	if c.write, err = r.bits(name, p.path, p.sha1); err != nil {
		return err
	}
	c.sum = p.sha1
	return nil
}

func (c *compiledPlan) commit(tx *db.Tx, summary *Summary) error {
	if c.reused {
		if c.fixed {
			if err := tx.UpdateCompiledPackageBlob(c.existing, c.blobID(), c.sum); err != nil {
				return err
			}
		}
		summary.Compiled.Reused++
		return nil
	}

	_, err := tx.CreateCompiledPackage(&db.CompiledPackage{
		PackageUUID:     c.pkg.row.UUID,
		StemcellOS:      c.os,
		StemcellVersion: c.version,
		DependencyKey:   c.key,
		SHA1:            c.sum,
		BlobstoreID:     c.blobID(),
	})
	if err != nil {
		return err
	}
	summary.Compiled.Created++
	return nil
}
