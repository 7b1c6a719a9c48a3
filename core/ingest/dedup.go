package ingest

import (
	"fmt"

	"github.com/jhunt/go-log"

	"github.com/shieldproject/relstore/db"
	"github.com/shieldproject/relstore/release"
)

// blobWrite is one Put (of bits from the archive) or Copy (of an
// existing blob) that has to happen before the catalog commit.
type blobWrite struct {
	artifact string
	path     string
	copyOf   string

	blob string
}

type packagePlan struct {
	meta        release.PackageMeta
	fingerprint string
	sha1        string
	path        string /* bits in the archive; empty if absent */

	row      *db.Package /* the release's own row, once known */
	reused   bool
	backfill bool
	fixed    bool

	blob  string /* blob to record on a new row */
	sum   string
	write *blobWrite

	siblings []*db.Package /* sourceless rows elsewhere with the same content */
}

type jobPlan struct {
	meta        release.JobMeta
	fingerprint string
	sha1        string
	path        string

	row    *db.Template
	reused bool
	fixed  bool

	blob  string
	sum   string
	write *blobWrite
}

func (p *packagePlan) blobID() string {
	if p.write != nil {
		return p.write.blob
	}
	return p.blob
}

func (j *jobPlan) blobID() string {
	if j.write != nil {
		return j.write.blob
	}
	return j.blob
}

func (p *packagePlan) action() string {
	switch {
	case p.backfill:
		return "backfilled"
	case p.fixed:
		return "fixed"
	case p.reused:
		return "reused"
	}
	return "created"
}

func (j *jobPlan) action() string {
	switch {
	case j.fixed:
		return "fixed"
	case j.reused:
		return "reused"
	}
	return "created"
}

// deduplicate decides, for every package and job in the archive, whether
// the catalog already has it, has identical content elsewhere that can be
// shared, or needs new bits from the archive.
func (r *run) deduplicate() error {
	if err := r.enter(Deduplicating); err != nil {
		return err
	}

	attachedPackages := map[string]*db.Package{}
	attachedJobs := map[string]*db.Template{}
	if r.existing != nil {
		pkgs, err := r.DB.GetReleaseVersionPackages(r.existing.UUID)
		if err != nil {
			return r.fail(CatalogFailure, "", err)
		}
		for _, p := range pkgs {
			attachedPackages[p.Name] = p
		}

		jobs, err := r.DB.GetReleaseVersionTemplates(r.existing.UUID)
		if err != nil {
			return r.fail(CatalogFailure, "", err)
		}
		for _, j := range jobs {
			attachedJobs[j.Name] = j
		}
	}

	for _, p := range r.packages {
		if old, ok := attachedPackages[p.meta.Name]; ok && old.Fingerprint != p.fingerprint {
			return r.fail(FingerprintMismatch, p.meta.Name, &FingerprintMismatchError{
				Name: p.meta.Name,
				Old:  old.Fingerprint,
				New:  p.fingerprint,
			})
		}
		if err := r.planPackage(p); err != nil {
			return err
		}
	}

	for _, j := range r.jobs {
		if old, ok := attachedJobs[j.meta.Name]; ok && old.Fingerprint != j.fingerprint {
			return r.fail(FingerprintMismatch, j.meta.Name, &FingerprintMismatchError{
				Name: j.meta.Name,
				Old:  old.Fingerprint,
				New:  j.fingerprint,
			})
		}
		if err := r.planJob(j); err != nil {
			return err
		}
	}

	return nil
}

// bits schedules a Put of the artifact's bits from the archive, after
// checking them against the checksum from the manifest.
func (r *run) bits(name, path, sum string) (*blobWrite, error) {
	if path == "" {
		return nil, r.fail(ArchiveInvalid, name, fmt.Errorf("the bits for '%s' are not in the release archive", name))
	}
	if sum != "" {
		if err := release.VerifyDigest(path, "sha1:"+sum); err != nil {
			return nil, r.fail(ArchiveInvalid, name, err)
		}
	}
	return &blobWrite{artifact: name, path: path}, nil
}

// share points new catalog rows at an existing blob, or schedules a copy
// of it when blobs are not to be shared across releases.
func (r *run) share(name, blob string) (string, *blobWrite) {
	if r.ShareBlobs {
		return blob, nil
	}
	return "", &blobWrite{artifact: name, copyOf: blob}
}

// usable reports whether a blob referenced by the catalog can be reused.
// Only in fix mode do we go and check that it is really there.
func (r *run) usable(blob string) (bool, error) {
	if blob == "" {
		return false, nil
	}
	if !r.opts.Fix {
		return true, nil
	}
	ok, err := r.Blobstore.Exists(blob)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warnf("blob %s is missing from the blobstore", blob)
	}
	return ok, nil
}

func (r *run) planPackage(p *packagePlan) error {
	name := p.meta.Name

	if r.release != nil {
		own, err := r.DB.GetPackage(r.release.UUID, name, p.meta.Version)
		if err != nil {
			return r.fail(CatalogFailure, name, err)
		}
		if own != nil {
			return r.reusePackage(p, own)
		}
	}

	candidates, err := r.DB.FindPackagesByFingerprint(p.fingerprint)
	if err != nil {
		return r.fail(CatalogFailure, name, err)
	}

	var similar *db.Package
	for _, c := range candidates {
		if !c.HasSource() {
			p.siblings = append(p.siblings, c)
			continue
		}
		if similar != nil {
			continue
		}
		ok, err := r.usable(c.BlobstoreID)
		if err != nil {
			return r.fail(BlobstoreFailure, name, err)
		}
		if ok {
			similar = c
		}
	}

	if similar != nil {
		log.Debugf("package %s/%s has the same content as %s/%s in release %s", name, p.meta.Version, similar.Name, similar.Version, similar.ReleaseUUID)
		p.blob, p.write = r.share(name, similar.BlobstoreID)
		p.sum = similar.SHA1
		p.siblings = nil
		return nil
	}

	if r.manifest.IsCompiled() {
		/* compiled releases carry no package sources */
		p.siblings = nil
		return nil
	}

	p.write, err = r.bits(name, p.path, p.sha1)
	if err != nil {
		return err
	}
	p.sum = p.sha1
	if !r.ShareBlobs {
		p.siblings = nil
	}
	return nil
}

func (r *run) reusePackage(p *packagePlan, own *db.Package) error {
	name := p.meta.Name
	if own.Fingerprint != p.fingerprint {
		return r.fail(FingerprintMismatch, name, &FingerprintMismatchError{
			Name: name,
			Old:  own.Fingerprint,
			New:  p.fingerprint,
		})
	}
	if !sameDependencies(own.Dependencies, p.meta.Dependencies) {
		return r.fail(ArchiveInvalid, name, fmt.Errorf("dependency mismatch for package %s/%s: catalog has %v, manifest has %v",
			name, p.meta.Version, own.Dependencies, p.meta.Dependencies))
	}

	p.row = own
	p.reused = true

	if !own.HasSource() {
		if r.manifest.IsCompiled() {
			return nil
		}
		return r.backfillSource(own, p)
	}

	ok, err := r.usable(own.BlobstoreID)
	if err != nil {
		return r.fail(BlobstoreFailure, name, err)
	}
	if !ok {
		if r.manifest.IsCompiled() {
			log.Warnf("source blob of package %s/%s is missing, and this compiled release cannot replace it", name, p.meta.Version)
			return nil
		}
		log.Infof("re-uploading missing source blob of package %s/%s", name, p.meta.Version)
		if p.write, err = r.bits(name, p.path, p.sha1); err != nil {
			return err
		}
		p.sum = p.sha1
		p.fixed = true
	}
	return nil
}

// backfillSource plans attaching source bits to a package that has only
// ever been seen in compiled releases.  The existing row keeps its
// fingerprint and version; it just gains a blob.
func (r *run) backfillSource(existing *db.Package, p *packagePlan) error {
	if p.path == "" {
		return r.fail(ArchiveInvalid, p.meta.Name, fmt.Errorf("package %s/%s has no source bits in the catalog or in the release archive", existing.Name, existing.Version))
	}

	var err error
	if p.write, err = r.bits(p.meta.Name, p.path, p.sha1); err != nil {
		return err
	}
	p.sum = p.sha1
	p.backfill = true
	log.Infof("backfilling source bits of package %s/%s", existing.Name, existing.Version)
	return nil
}

func (r *run) planJob(j *jobPlan) error {
	name := j.meta.Name

	if r.release != nil {
		own, err := r.DB.GetTemplate(r.release.UUID, name, j.meta.Version)
		if err != nil {
			return r.fail(CatalogFailure, name, err)
		}
		if own != nil {
			if own.Fingerprint != j.fingerprint {
				return r.fail(FingerprintMismatch, name, &FingerprintMismatchError{
					Name: name,
					Old:  own.Fingerprint,
					New:  j.fingerprint,
				})
			}

			j.row = own
			j.reused = true

			ok, err := r.usable(own.BlobstoreID)
			if err != nil {
				return r.fail(BlobstoreFailure, name, err)
			}
			if !ok {
				log.Infof("re-uploading missing blob of job %s/%s", name, j.meta.Version)
				if j.write, err = r.bits(name, j.path, j.sha1); err != nil {
					return err
				}
				j.sum = j.sha1
				j.fixed = true
			}
			return nil
		}
	}

	candidates, err := r.DB.FindTemplatesByFingerprint(j.fingerprint)
	if err != nil {
		return r.fail(CatalogFailure, name, err)
	}
	for _, c := range candidates {
		ok, err := r.usable(c.BlobstoreID)
		if err != nil {
			return r.fail(BlobstoreFailure, name, err)
		}
		if ok {
			log.Debugf("job %s/%s has the same content as %s/%s in release %s", name, j.meta.Version, c.Name, c.Version, c.ReleaseUUID)
			j.blob, j.write = r.share(name, c.BlobstoreID)
			j.sum = c.SHA1
			return nil
		}
	}

	if j.write, err = r.bits(name, j.path, j.sha1); err != nil {
		return err
	}
	j.sum = j.sha1
	return nil
}

func (p *packagePlan) commit(tx *db.Tx, rel *db.Release, rv *db.ReleaseVersion, summary *Summary) error {
	if p.reused {
		if p.backfill || p.fixed {
			if err := tx.UpdatePackageBlob(p.row, p.blobID(), p.sum); err != nil {
				return err
			}
		}
		summary.Packages.Reused++
		return tx.AttachPackage(p.row.UUID, rv.UUID)
	}

	row, err := tx.CreatePackage(&db.Package{
		ReleaseUUID:  rel.UUID,
		Name:         p.meta.Name,
		Version:      p.meta.Version,
		Fingerprint:  p.fingerprint,
		SHA1:         p.sum,
		BlobstoreID:  p.blobID(),
		Dependencies: p.meta.Dependencies,
	})
	if err != nil {
		return err
	}
	p.row = row
	summary.Packages.Created++

	/* the same content, recorded elsewhere without
	   source bits, gets to share the new blob. */
	if row.HasSource() {
		for _, sibling := range p.siblings {
			if err := tx.UpdatePackageBlob(sibling, row.BlobstoreID, row.SHA1); err != nil {
				return err
			}
		}
	}
	return tx.AttachPackage(row.UUID, rv.UUID)
}

func (j *jobPlan) commit(tx *db.Tx, rel *db.Release, rv *db.ReleaseVersion, summary *Summary) error {
	if j.reused {
		if j.fixed {
			if err := tx.UpdateTemplateBlob(j.row, j.blobID(), j.sum); err != nil {
				return err
			}
		}
		summary.Jobs.Reused++
		return tx.AttachTemplate(j.row.UUID, rv.UUID)
	}

	row, err := tx.CreateTemplate(&db.Template{
		ReleaseUUID: rel.UUID,
		Name:        j.meta.Name,
		Version:     j.meta.Version,
		Fingerprint: j.fingerprint,
		SHA1:        j.sum,
		BlobstoreID: j.blobID(),
		Packages:    j.meta.Packages,
	})
	if err != nil {
		return err
	}
	j.row = row
	summary.Jobs.Created++
	return tx.AttachTemplate(row.UUID, rv.UUID)
}
