package ingest_test

import (
	"context"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/shieldproject/relstore/core/bus"
	. "github.com/shieldproject/relstore/core/ingest"
	"github.com/shieldproject/relstore/db"
	"github.com/shieldproject/relstore/graph"
)

var _ = Describe("Release Ingestion", func() {
	var (
		f   *fixture
		ctx context.Context
	)

	BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
	})

	AfterEach(func() {
		f.cleanup()
	})

	ingest := func(r releasedef, opts Options) (*Summary, error) {
		return f.ingester.Ingest(ctx, f.archive(r), opts)
	}

	Describe("a new release", func() {
		It("records every package and job, and stores their bits", func() {
			s, err := ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.State).Should(Equal(Committed))
			Ω(s.Release).Should(Equal("r"))
			Ω(s.Version).Should(Equal("1"))
			Ω(s.Packages).Should(Equal(Counts{Created: 2}))
			Ω(s.Jobs).Should(Equal(Counts{Created: 1}))
			Ω(s.BlobWrites).Should(Equal(3))
			Ω(f.blobCount()).Should(Equal(3))

			rel, err := f.db.GetRelease("r")
			Ω(err).ShouldNot(HaveOccurred())
			rv, err := f.db.GetReleaseVersion(rel.UUID, "1")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(rv).ShouldNot(BeNil())
			Ω(rv.CommitHash).Should(Equal("abc123"))

			b := f.pkg("r", "b", "1.0")
			Ω(b.Dependencies).Should(Equal([]string{"a"}))
			Ω(b.SHA1).Should(Equal(sha1sum("package b")))
			Ω(f.blob(b.BlobstoreID)).Should(Equal("package b"))

			attached, err := f.db.GetReleaseVersionPackages(rv.UUID)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(attached).Should(HaveLen(2))

			jobs, err := f.db.GetReleaseVersionTemplates(rv.UUID)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(jobs).Should(HaveLen(1))
			Ω(jobs[0].Packages).Should(Equal([]string{"b"}))
			Ω(f.blob(jobs[0].BlobstoreID)).Should(Equal("job server"))
		})

		It("cleans up its scratch space", func() {
			_, err := ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			entries, err := os.ReadDir(f.temp)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(entries).Should(BeEmpty())
		})

		It("reports its progress on the message bus", func() {
			ch, _, err := f.bus.Register([]string{Queue("r")})
			Ω(err).ShouldNot(HaveOccurred())

			_, err = ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			seen := []string{}
			for len(ch) > 0 {
				ev := <-ch
				seen = append(seen, ev.Event)
			}
			Ω(seen[0]).Should(Equal(bus.IngestStartedEvent))
			Ω(seen).Should(ContainElement(bus.IngestStageEvent))
			Ω(seen).Should(ContainElement(bus.IngestArtifactEvent))
			Ω(seen[len(seen)-1]).Should(Equal(bus.IngestCompletedEvent))
		})

		It("stores packages after the packages they depend on", func() {
			ch, _, err := f.bus.Register([]string{Queue("r")})
			Ω(err).ShouldNot(HaveOccurred())

			r := r1()
			r.packages[0], r.packages[1] = r.packages[1], r.packages[0]
			_, err = ingest(r, DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			order := []string{}
			for len(ch) > 0 {
				ev := <-ch
				if ev.Event != bus.IngestArtifactEvent || ev.Type != "package" {
					continue
				}
				data, ok := ev.Data.(map[string]interface{})
				Ω(ok).Should(BeTrue())
				order = append(order, data["name"].(string))
			}
			Ω(order).Should(Equal([]string{"a", "b"}))
		})

		It("checks the digest of the archive, if asked to", func() {
			opts := DefaultOptions()
			opts.SHA1 = "sha1:" + sha1sum("not the archive")
			_, err := ingest(r1(), opts)
			Ω(IsKind(err, ArchiveInvalid)).Should(BeTrue())
			Ω(f.blobCount()).Should(Equal(0))
		})

		It("checks package bits against the manifest", func() {
			r := r1()
			r.packages[0].sha1 = sha1sum("something else")
			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, ArchiveInvalid)).Should(BeTrue())

			var e *Error
			Ω(errors.As(err, &e)).Should(BeTrue())
			Ω(e.Artifact).Should(Equal("a"))
			Ω(f.blobCount()).Should(Equal(0))
		})

		It("insists on the bits of packages it has never seen", func() {
			r := r1()
			r.packages[1].omit = true
			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, ArchiveInvalid)).Should(BeTrue())
		})

		It("refuses to treat a source release as compiled", func() {
			opts := DefaultOptions()
			opts.Compiled = true
			_, err := ingest(r1(), opts)
			Ω(IsKind(err, ArchiveInvalid)).Should(BeTrue())
		})

		It("rejects artifacts without a version", func() {
			r := r1()
			r.packages[0].version = ""
			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, InvalidArtifactMetadata)).Should(BeTrue())
		})
	})

	Describe("dependency problems", func() {
		It("rejects dependency cycles without writing anything", func() {
			r := r1()
			r.packages[0].deps = []string{"b"}
			s, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, DependencyCycleDetected)).Should(BeTrue())
			Ω(s.State).Should(Equal(Aborted))

			var cycle *graph.CycleError
			Ω(errors.As(err, &cycle)).Should(BeTrue())
			Ω(cycle.Names).Should(ConsistOf("a", "b"))

			entries, err := os.ReadDir(f.temp)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(entries).Should(BeEmpty())

			Ω(f.blobCount()).Should(Equal(0))
			rel, err := f.db.GetRelease("r")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(rel).Should(BeNil())
		})

		It("rejects dependencies on packages outside of the release", func() {
			r := r1()
			r.packages[1].deps = []string{"a", "glibc"}
			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, ArchiveInvalid)).Should(BeTrue())
		})
	})

	Describe("re-ingesting a release", func() {
		BeforeEach(func() {
			_, err := ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
		})

		It("is idempotent", func() {
			s, err := ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Packages).Should(Equal(Counts{Reused: 2}))
			Ω(s.Jobs).Should(Equal(Counts{Reused: 1}))
			Ω(s.BlobWrites).Should(Equal(0))
			Ω(f.blobCount()).Should(Equal(3))
			Ω(f.packages()).Should(HaveLen(2))
		})

		It("rejects changed content under the same version", func() {
			before := f.pkg("r", "b", "1.0")

			r := r1()
			r.packages[1].bits = "package b, but different"
			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, FingerprintMismatch)).Should(BeTrue())

			var mismatch *FingerprintMismatchError
			Ω(errors.As(err, &mismatch)).Should(BeTrue())
			Ω(mismatch.Name).Should(Equal("b"))
			Ω(mismatch.Old).Should(Equal(before.Fingerprint))
			Ω(mismatch.New).ShouldNot(Equal(before.Fingerprint))

			Ω(f.packages()).Should(HaveLen(2))
			Ω(f.pkg("r", "b", "1.0")).Should(Equal(before))
			Ω(f.blobCount()).Should(Equal(3))
		})

		It("rejects a version built from a different commit", func() {
			r := r1()
			r.commit = "def456"
			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, VersionProvenanceMismatch)).Should(BeTrue())

			var mismatch *ProvenanceMismatchError
			Ω(errors.As(err, &mismatch)).Should(BeTrue())
			Ω(mismatch.ExpectedCommitHash).Should(Equal("abc123"))
			Ω(mismatch.CommitHash).Should(Equal("def456"))
		})

		It("reuses unchanged packages in new versions", func() {
			r := r1()
			r.version = "2"
			r.packages[1].version = "1.1"
			r.packages[1].bits = "package b, improved"

			s, err := ingest(r, DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Packages).Should(Equal(Counts{Created: 1, Reused: 1}))
			Ω(s.Jobs).Should(Equal(Counts{Reused: 1}))
			Ω(s.BlobWrites).Should(Equal(1))
		})

		It("re-uploads missing blobs in fix mode", func() {
			a := f.pkg("r", "a", "1.0")
			Ω(f.store.Delete(a.BlobstoreID)).Should(Succeed())

			opts := DefaultOptions()
			opts.Fix = true
			s, err := ingest(r1(), opts)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.BlobWrites).Should(Equal(1))
			Ω(s.Packages).Should(Equal(Counts{Reused: 2}))

			fixed := f.pkg("r", "a", "1.0")
			Ω(fixed.BlobstoreID).ShouldNot(Equal(a.BlobstoreID))
			Ω(f.blob(fixed.BlobstoreID)).Should(Equal("package a"))
		})
	})

	Describe("the r/1 scenario", func() {
		It("ingests r/1, then refuses r/1 with a different b", func() {
			_, err := ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			r := r1()
			r.packages[1].bits = "b has changed"
			_, err = ingest(r, DefaultOptions())
			Ω(err).Should(HaveOccurred())

			var mismatch *FingerprintMismatchError
			Ω(errors.As(err, &mismatch)).Should(BeTrue())
			Ω(mismatch.Name).Should(Equal("b"))
		})
	})

	Describe("deduplication across releases", func() {
		s1 := func() releasedef {
			return releasedef{
				name:    "s",
				version: "1",
				packages: []pkgdef{
					{name: "a", version: "1.0", bits: "package a"},
				},
			}
		}

		BeforeEach(func() {
			_, err := ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
		})

		It("shares the blob of identical packages", func() {
			s, err := ingest(s1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Packages).Should(Equal(Counts{Created: 1}))
			Ω(s.BlobWrites).Should(Equal(0))
			Ω(f.blobCount()).Should(Equal(3))

			theirs := f.pkg("r", "a", "1.0")
			ours := f.pkg("s", "a", "1.0")
			Ω(ours.UUID).ShouldNot(Equal(theirs.UUID))
			Ω(ours.BlobstoreID).Should(Equal(theirs.BlobstoreID))
			Ω(ours.SHA1).Should(Equal(theirs.SHA1))
		})

		It("copies the blob when sharing is turned off", func() {
			f.ingester.ShareBlobs = false
			s, err := ingest(s1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.BlobWrites).Should(Equal(1))

			theirs := f.pkg("r", "a", "1.0")
			ours := f.pkg("s", "a", "1.0")
			Ω(ours.BlobstoreID).ShouldNot(Equal(theirs.BlobstoreID))
			Ω(f.blob(ours.BlobstoreID)).Should(Equal("package a"))
		})

		It("does not need the bits of content it already has", func() {
			r := s1()
			r.packages[0].omit = true
			_, err := ingest(r, DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
		})
	})

	Describe("rebasing", func() {
		BeforeEach(func() {
			_, err := ingest(r1(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
		})

		It("stores final releases after the highest existing version", func() {
			r := r1()
			r.packages[1].version = "1.1"
			r.packages[1].bits = "newer b"

			opts := DefaultOptions()
			opts.Rebase = true
			s, err := ingest(r, opts)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Version).Should(Equal("2"))

			rel, _ := f.db.GetRelease("r")
			rv, err := f.db.GetReleaseVersion(rel.UUID, "2")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(rv).ShouldNot(BeNil())
		})

		It("stores dev releases as the next dev build", func() {
			opts := DefaultOptions()
			opts.Rebase = true

			r := r1()
			r.version = "1+dev.7"
			s, err := ingest(r, opts)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Version).Should(Equal("1+dev.1"))

			s, err = ingest(r, opts)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Version).Should(Equal("1+dev.2"))
		})
	})

	Describe("compiled releases", func() {
		compiled := func() releasedef {
			return releasedef{
				name:     "r",
				version:  "1",
				compiled: true,
				packages: []pkgdef{
					{name: "a", version: "1.0", bits: "compiled a", fingerprint: "fp-a", stemcell: "ubuntu/1.0"},
					{name: "b", version: "1.0", bits: "compiled b", fingerprint: "fp-b", stemcell: "ubuntu/1.0", deps: []string{"a"}},
				},
				jobs: []jobdef{
					{name: "server", version: "j1", bits: "job server", packages: []string{"b"}},
				},
			}
		}

		BeforeEach(func() {
			f.stemcell("ubuntu", "1.0")
			f.stemcell("ubuntu", "1.1")
		})

		It("records compiled packages against their stemcell", func() {
			s, err := ingest(compiled(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Packages).Should(Equal(Counts{Created: 2}))
			Ω(s.Compiled).Should(Equal(Counts{Created: 2}))
			Ω(s.BlobWrites).Should(Equal(3))

			b := f.pkg("r", "b", "1.0")
			Ω(b.HasSource()).Should(BeFalse())

			l, err := f.db.GetAllCompiledPackages(&db.CompiledPackageFilter{ForPackage: b.UUID})
			Ω(err).ShouldNot(HaveOccurred())
			Ω(l).Should(HaveLen(1))
			Ω(l[0].Stemcell()).Should(Equal("ubuntu/1.0"))
			Ω(l[0].Build).Should(Equal(1))
			Ω(f.blob(l[0].BlobstoreID)).Should(Equal("compiled b"))
		})

		It("reuses compiled packages it already has", func() {
			_, err := ingest(compiled(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			s, err := ingest(compiled(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Compiled).Should(Equal(Counts{Reused: 2}))
			Ω(s.BlobWrites).Should(Equal(0))
		})

		It("numbers builds per package and stemcell", func() {
			_, err := ingest(compiled(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			/* same b, but built against a newer a */
			r := compiled()
			r.version = "2"
			r.packages[0].version = "1.1"
			r.packages[0].fingerprint = "fp-a-1.1"
			r.packages[0].bits = "compiled a 1.1"
			r.packages[1].bits = "compiled b, against a 1.1"
			s, err := ingest(r, DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Compiled).Should(Equal(Counts{Created: 2}))

			/* and for another stemcell */
			r = compiled()
			r.version = "3"
			for i := range r.packages {
				r.packages[i].stemcell = "ubuntu/1.1"
			}
			_, err = ingest(r, DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			b := f.pkg("r", "b", "1.0")
			builds := map[string][]int{}
			l, err := f.db.GetAllCompiledPackages(&db.CompiledPackageFilter{ForPackage: b.UUID})
			Ω(err).ShouldNot(HaveOccurred())
			for _, cp := range l {
				builds[cp.Stemcell()] = append(builds[cp.Stemcell()], cp.Build)
			}
			Ω(builds["ubuntu/1.0"]).Should(ConsistOf(1, 2))
			Ω(builds["ubuntu/1.1"]).Should(ConsistOf(1))
		})

		It("requires the stemcell to have been uploaded", func() {
			r := compiled()
			r.packages[1].stemcell = "centos/7"
			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, UnknownStemcell)).Should(BeTrue())

			var unknown *UnknownStemcellError
			Ω(errors.As(err, &unknown)).Should(BeTrue())
			Ω(unknown.OS).Should(Equal("centos"))
			Ω(unknown.Version).Should(Equal("7"))
			Ω(f.blobCount()).Should(Equal(0))
		})

		It("falls back to the stemcell hint", func() {
			r := compiled()
			for i := range r.packages {
				r.packages[i].stemcell = ""
			}

			_, err := ingest(r, DefaultOptions())
			Ω(IsKind(err, ArchiveInvalid)).Should(BeTrue())

			opts := DefaultOptions()
			opts.StemcellHint = "ubuntu/1.1"
			s, err := ingest(r, opts)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Compiled.Created).Should(Equal(2))
		})

		It("refuses reused packages whose dependencies have changed", func() {
			_, err := ingest(compiled(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			r := compiled()
			r.version = "2"
			r.packages[1].deps = nil
			_, err = ingest(r, DefaultOptions())
			Ω(IsKind(err, ArchiveInvalid)).Should(BeTrue())
			Ω(err.Error()).Should(ContainSubstring("dependency mismatch"))
		})

		It("backfills source bits when the source release shows up", func() {
			_, err := ingest(compiled(), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			r := r1()
			r.commit = ""
			r.packages[0].fingerprint = "fp-a"
			r.packages[1].fingerprint = "fp-b"
			s, err := ingest(r, DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(s.Packages).Should(Equal(Counts{Reused: 2}))
			Ω(s.BlobWrites).Should(Equal(2))

			a := f.pkg("r", "a", "1.0")
			Ω(a.HasSource()).Should(BeTrue())
			Ω(f.blob(a.BlobstoreID)).Should(Equal("package a"))
			Ω(f.packages()).Should(HaveLen(2))
		})
	})

	Describe("concurrency", func() {
		It("serializes ingestion of the same release", func() {
			gated := &gatedStore{
				Blobstore: f.store,
				entered:   make(chan struct{}, 1),
				gate:      make(chan struct{}),
			}
			f.ingester.Blobstore = gated

			first := make(chan error, 1)
			path := f.archive(r1())
			go func() {
				_, err := f.ingester.Ingest(ctx, path, DefaultOptions())
				first <- err
			}()
			Eventually(gated.entered).Should(Receive())

			impatient := *f.ingester
			impatient.Blobstore = f.store
			impatient.LockTimeout = 200 * time.Millisecond
			r := r1()
			r.version = "2"
			_, err := impatient.Ingest(ctx, f.archive(r), DefaultOptions())
			Ω(IsKind(err, LockTimeout)).Should(BeTrue())

			/* only the lock holder still has an extracted archive */
			entries, err := os.ReadDir(f.temp)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(entries).Should(HaveLen(1))

			close(gated.gate)
			Eventually(first, "5s").Should(Receive(BeNil()))

			entries, err = os.ReadDir(f.temp)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(entries).Should(BeEmpty())
		})

		It("does not make different releases wait on each other", func() {
			gated := &gatedStore{
				Blobstore: f.store,
				entered:   make(chan struct{}, 1),
				gate:      make(chan struct{}),
			}
			f.ingester.Blobstore = gated

			first := make(chan error, 1)
			path := f.archive(r1())
			go func() {
				_, err := f.ingester.Ingest(ctx, path, DefaultOptions())
				first <- err
			}()
			Eventually(gated.entered).Should(Receive())

			impatient := *f.ingester
			impatient.Blobstore = f.store
			impatient.LockTimeout = 200 * time.Millisecond
			other := r1()
			other.name = "other"
			for i := range other.packages {
				other.packages[i].bits += " (other)"
			}
			other.jobs[0].bits += " (other)"
			_, err := impatient.Ingest(ctx, f.archive(other), DefaultOptions())
			Ω(err).ShouldNot(HaveOccurred())

			close(gated.gate)
			Eventually(first, "5s").Should(Receive(BeNil()))
		})

		It("cleans up blobs it wrote when it fails part way", func() {
			f.ingester.Workers = 1
			f.ingester.Blobstore = &failingStore{Blobstore: f.store, failAt: 3}

			s, err := ingest(r1(), DefaultOptions())
			Ω(IsKind(err, BlobstoreFailure)).Should(BeTrue())
			Ω(s.State).Should(Equal(Aborted))
			Ω(f.blobCount()).Should(Equal(0))

			rel, err := f.db.GetRelease("r")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(rel).Should(BeNil())
		})

		It("gives up when its context is cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := f.ingester.Ingest(cancelled, f.archive(r1()), DefaultOptions())
			Ω(IsKind(err, Canceled)).Should(BeTrue())
			Ω(f.blobCount()).Should(Equal(0))
		})
	})
})
