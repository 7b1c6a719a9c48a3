package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jhunt/go-log"

	"github.com/shieldproject/relstore/blobstore"
	"github.com/shieldproject/relstore/core/bus"
	"github.com/shieldproject/relstore/core/lock"
	"github.com/shieldproject/relstore/db"
	"github.com/shieldproject/relstore/fingerprint"
	"github.com/shieldproject/relstore/graph"
	"github.com/shieldproject/relstore/release"
	"github.com/shieldproject/relstore/version"
)

const (
	DefaultWorkers     = 4
	DefaultLockTimeout = 5 * time.Minute
)

// An Ingester records release archives into the catalog, storing the
// bits of every package and job it has not seen before in the blobstore.
type Ingester struct {
	DB        *db.DB
	Blobstore blobstore.Blobstore
	Locker    lock.Locker
	Bus       *bus.Bus

	Workers     int
	LockTimeout time.Duration
	TempDir     string

	/* point catalog rows for identical content at the
	   same blob; otherwise each release gets a copy. */
	ShareBlobs bool
}

func LockName(release string) string {
	return "lock:release:" + release
}

func Queue(release string) string {
	return "ingest:" + release
}

type run struct {
	*Ingester

	ctx      context.Context
	opts     Options
	stage    State
	queue    string
	archive  *release.Archive
	manifest *release.Manifest

	release  *db.Release        /* nil the first time we see a release */
	version  string             /* what we'll store it as */
	existing *db.ReleaseVersion /* non-nil when re-ingesting a version */

	closure  map[string][]string
	packages []*packagePlan
	jobs     []*jobPlan
	compiled []*compiledPlan

	lock    sync.Mutex
	written []string

	summary *Summary
}

// Ingest records the release archive at location.  Either the whole
// release version makes it into the catalog, or none of it does.
func (i *Ingester) Ingest(ctx context.Context, location string, opts Options) (*Summary, error) {
	started := time.Now()
	r := &run{
		Ingester: i,
		ctx:      ctx,
		opts:     opts,
		stage:    Validating,
		summary:  &Summary{State: Validating},
	}

	err := r.ingest(location)
	r.summary.Duration = time.Since(started)
	if err != nil {
		r.abort(err)
		return r.summary, err
	}

	r.summary.State = Committed
	log.Infof("committed %s/%s: %d package(s) created, %d reused; %d job(s) created, %d reused; %d compiled package(s) created, %d reused; %d blob write(s) in %s",
		r.summary.Release, r.summary.Version,
		r.summary.Packages.Created, r.summary.Packages.Reused,
		r.summary.Jobs.Created, r.summary.Jobs.Reused,
		r.summary.Compiled.Created, r.summary.Compiled.Reused,
		r.summary.BlobWrites, r.summary.Duration)
	r.Bus.Send(bus.IngestCompletedEvent, "", r.summary, r.queue)
	return r.summary, nil
}

func (r *run) ingest(location string) error {
	if err := r.ctx.Err(); err != nil {
		return r.fail(Canceled, "", err)
	}
	if err := release.VerifyDigest(location, r.opts.SHA1); err != nil {
		return r.fail(ArchiveInvalid, "", err)
	}

	archive, err := release.Extract(location, r.TempDir)
	if err != nil {
		return r.fail(ArchiveInvalid, "", err)
	}
	defer archive.Cleanup()

	r.archive = archive
	r.manifest = archive.Manifest
	if err := r.manifest.Validate(); err != nil {
		return r.fail(ArchiveInvalid, "", err)
	}

	r.version = r.manifest.Version
	r.summary.Release = r.manifest.Name
	r.summary.Version = r.version
	r.queue = Queue(r.manifest.Name)
	r.Bus.Send(bus.IngestStartedEvent, "", map[string]interface{}{
		"release":  r.manifest.Name,
		"version":  r.manifest.Version,
		"location": location,
	}, r.queue)

	timeout := r.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	log.Debugf("acquiring %s (waiting up to %s)", LockName(r.manifest.Name), timeout)
	held, err := r.Locker.Acquire(LockName(r.manifest.Name), timeout)
	if err != nil {
		var expired *lock.ErrTimeout
		if errors.As(err, &expired) {
			return r.fail(LockTimeout, "", err)
		}
		return r.fail(CatalogFailure, "", fmt.Errorf("unable to acquire the release lock: %w", err))
	}
	defer held.Release()

	if err := r.validate(); err != nil {
		return err
	}
	if err := r.resolve(); err != nil {
		return err
	}
	if err := r.deduplicate(); err != nil {
		return err
	}
	if r.opts.Compiled {
		if err := r.matchCompiled(); err != nil {
			return err
		}
	}
	if err := r.upload(); err != nil {
		return err
	}
	return r.commit()
}

func (r *run) fail(kind Kind, artifact string, err error) error {
	return &Error{
		Kind:     kind,
		Stage:    r.stage,
		Artifact: artifact,
		Err:      err,
	}
}

func (r *run) enter(stage State) error {
	if err := r.ctx.Err(); err != nil {
		return r.fail(Canceled, "", err)
	}

	log.Debugf("%s/%s: %s -> %s", r.manifest.Name, r.version, r.stage, stage)
	r.stage = stage
	r.summary.State = stage
	r.Bus.Send(bus.IngestStageEvent, "", map[string]interface{}{
		"release": r.manifest.Name,
		"version": r.version,
		"stage":   stage,
	}, r.queue)
	return nil
}

func (r *run) abort(err error) {
	stage := r.stage
	r.summary.State = Aborted

	r.lock.Lock()
	written := r.written
	r.written = nil
	r.lock.Unlock()

	for _, id := range written {
		log.Debugf("removing blob %s, written by the aborted ingestion", id)
		if err := r.Blobstore.Delete(id); err != nil {
			log.Errorf("unable to remove orphaned blob %s: %s", id, err)
		}
	}

	kind := Kind("")
	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind
	}

	log.Errorf("ingestion of %s/%s aborted while %s: %s", r.summary.Release, r.summary.Version, stage, err)
	r.Bus.Send(bus.IngestFailedEvent, "", map[string]interface{}{
		"release": r.summary.Release,
		"version": r.summary.Version,
		"stage":   stage,
		"kind":    kind,
		"error":   err.Error(),
	}, r.queue)
}

func (r *run) validate() error {
	m := r.manifest

	if m.IsCompiled() {
		r.opts.Compiled = true
	} else if r.opts.Compiled {
		return r.fail(ArchiveInvalid, "", fmt.Errorf("%s/%s was uploaded as a compiled release, but it has no compiled packages", m.Name, m.Version))
	}

	rel, err := r.DB.GetRelease(m.Name)
	if err != nil {
		return r.fail(CatalogFailure, "", err)
	}
	r.release = rel

	if r.opts.Rebase {
		if err := r.rebase(); err != nil {
			return err
		}
	}

	if r.release != nil {
		rv, err := r.DB.GetReleaseVersion(r.release.UUID, r.version)
		if err != nil {
			return r.fail(CatalogFailure, "", err)
		}
		if rv != nil {
			if rv.CommitHash != m.CommitHash || rv.UncommittedChanges != m.UncommittedChanges {
				return r.fail(VersionProvenanceMismatch, "", &ProvenanceMismatchError{
					Release:                    m.Name,
					Version:                    r.version,
					CommitHash:                 m.CommitHash,
					UncommittedChanges:         m.UncommittedChanges,
					ExpectedCommitHash:         rv.CommitHash,
					ExpectedUncommittedChanges: rv.UncommittedChanges,
				})
			}
			log.Infof("%s/%s is already in the catalog; checking its contents", m.Name, r.version)
			r.existing = rv
		}
	}

	for _, meta := range m.AllPackages() {
		p := &packagePlan{meta: meta, path: r.archive.PackagePath(meta.Name)}
		if !r.archive.HasFile(p.path) {
			p.path = ""
		}

		fp, sum, err := identify(meta.Name, meta.Version, meta.Dependencies, meta.SHA1, meta.Fingerprint, p.path)
		if err != nil {
			return r.fail(InvalidArtifactMetadata, meta.Name, err)
		}
		p.fingerprint, p.sha1 = fp, sum
		r.packages = append(r.packages, p)
	}

	for _, meta := range m.Jobs {
		j := &jobPlan{meta: meta, path: r.archive.JobPath(meta.Name)}
		if !r.archive.HasFile(j.path) {
			j.path = ""
		}

		fp, sum, err := identify(meta.Name, meta.Version, meta.Packages, meta.SHA1, meta.Fingerprint, j.path)
		if err != nil {
			return r.fail(InvalidArtifactMetadata, meta.Name, err)
		}
		j.fingerprint, j.sha1 = fp, sum
		r.jobs = append(r.jobs, j)
	}

	return nil
}

// identify works out the fingerprint and checksum of an artifact.  The
// fingerprint from the manifest wins, if there is one; the name and
// version are checked either way.
func identify(name, version string, deps []string, sum, given, path string) (string, string, error) {
	if sum == "" && path != "" {
		var err error
		if sum, err = release.Checksum(path, "sha1"); err != nil {
			return "", "", err
		}
	}
	if sum == "" && given == "" {
		return "", "", &fingerprint.InvalidMetadataError{Artifact: name, Field: "sha1"}
	}

	fp, err := fingerprint.Fingerprint(name, version, deps, sum)
	if err != nil {
		return "", "", err
	}
	if given != "" {
		fp = given
	}
	return fp, sum, nil
}

func (r *run) rebase() error {
	var existing []string
	if r.release != nil {
		l, err := r.DB.GetReleaseVersions(r.release.UUID)
		if err != nil {
			return r.fail(CatalogFailure, "", err)
		}
		for _, rv := range l {
			if _, err := version.Parse(rv.Version); err != nil {
				log.Warnf("ignoring unparseable version '%s' of release %s while rebasing", rv.Version, r.manifest.Name)
				continue
			}
			existing = append(existing, rv.Version)
		}
	}

	v, err := version.Rebase(existing, r.manifest.Version)
	if err != nil {
		return r.fail(ArchiveInvalid, "", err)
	}

	log.Infof("rebasing %s/%s as version %s", r.manifest.Name, r.manifest.Version, v)
	r.version = v.String()
	r.summary.Version = r.version
	return nil
}

func (r *run) resolve() error {
	if err := r.enter(ResolvingDependencies); err != nil {
		return err
	}

	g := graph.Graph{}
	for _, p := range r.packages {
		g[p.meta.Name] = p.meta.Dependencies
	}

	closure, err := graph.Resolve(g)
	if err != nil {
		var cycle *graph.CycleError
		if errors.As(err, &cycle) {
			return r.fail(DependencyCycleDetected, "", err)
		}
		var missing *graph.MissingDependencyError
		if errors.As(err, &missing) {
			return r.fail(ArchiveInvalid, missing.Package, err)
		}
		return r.fail(ArchiveInvalid, "", err)
	}
	r.closure = closure

	/* plan, upload and commit packages dependencies-first */
	order, err := graph.TopologicalOrder(g)
	if err != nil {
		return r.fail(DependencyCycleDetected, "", err)
	}
	byName := make(map[string]*packagePlan, len(r.packages))
	for _, p := range r.packages {
		byName[p.meta.Name] = p
	}
	r.packages = r.packages[:0]
	for _, name := range order {
		r.packages = append(r.packages, byName[name])
	}
	return nil
}

func (r *run) commit() error {
	err := r.DB.Transactionally(func(tx *db.Tx) error {
		rel, err := tx.EnsureRelease(r.manifest.Name)
		if err != nil {
			return err
		}

		rv := r.existing
		if rv == nil {
			rv, err = tx.CreateReleaseVersion(&db.ReleaseVersion{
				ReleaseUUID:        rel.UUID,
				Version:            r.version,
				CommitHash:         r.manifest.CommitHash,
				UncommittedChanges: r.manifest.UncommittedChanges,
			})
			if err != nil {
				return err
			}
		}

		for _, p := range r.packages {
			if err := p.commit(tx, rel, rv, r.summary); err != nil {
				return err
			}
		}
		for _, j := range r.jobs {
			if err := j.commit(tx, rel, rv, r.summary); err != nil {
				return err
			}
		}
		for _, c := range r.compiled {
			if err := c.commit(tx, r.summary); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		return r.fail(CatalogFailure, "", err)
	}

	r.announce()
	return nil
}

func (r *run) announce() {
	send := func(typ, name, version, fp, action string) {
		r.Bus.Send(bus.IngestArtifactEvent, typ, map[string]interface{}{
			"release":     r.manifest.Name,
			"version":     r.version,
			"name":        name,
			"artifact":    version,
			"fingerprint": fp,
			"action":      action,
		}, r.queue)
	}

	for _, p := range r.packages {
		send("package", p.meta.Name, p.meta.Version, p.fingerprint, p.action())
	}
	for _, j := range r.jobs {
		send("job", j.meta.Name, j.meta.Version, j.fingerprint, j.action())
	}
	for _, c := range r.compiled {
		send("compiled-package", c.pkg.meta.Name, c.pkg.meta.Version, c.pkg.fingerprint, c.action())
	}
}

func sameDependencies(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string{}, a...)
	y := append([]string{}, b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
