package ingest

import (
	"os"

	"github.com/jhunt/go-log"
	"golang.org/x/sync/errgroup"
)

func (r *run) writes() []*blobWrite {
	l := make([]*blobWrite, 0)
	for _, p := range r.packages {
		if p.write != nil {
			l = append(l, p.write)
		}
	}
	for _, j := range r.jobs {
		if j.write != nil {
			l = append(l, j.write)
		}
	}
	for _, c := range r.compiled {
		if c.write != nil {
			l = append(l, c.write)
		}
	}
	return l
}

// upload performs every planned blob write, a bounded number at a time.
// The first failure stops the rest; whatever was written is cleaned up
// when the ingestion aborts.
func (r *run) upload() error {
	writes := r.writes()
	if len(writes) == 0 {
		log.Debugf("%s/%s: nothing new to write to the blobstore", r.manifest.Name, r.version)
		return nil
	}

	workers := r.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	log.Infof("%s/%s: writing %d blob(s), %d at a time", r.manifest.Name, r.version, len(writes), workers)

	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(workers)
	for _, w := range writes {
		w := w
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return r.fail(Canceled, w.artifact, err)
			}

			id, err := r.store(w)
			if err != nil {
				return r.fail(BlobstoreFailure, w.artifact, err)
			}

			r.lock.Lock()
			r.written = append(r.written, id)
			r.summary.BlobWrites++
			r.lock.Unlock()

			w.blob = id
			return nil
		})
	}
	return g.Wait()
}

func (r *run) store(w *blobWrite) (string, error) {
	if w.copyOf != "" {
		log.Debugf("copying blob %s for '%s'", w.copyOf, w.artifact)
		return r.Blobstore.Copy(w.copyOf)
	}

	f, err := os.Open(w.path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	log.Debugf("storing %s for '%s'", w.path, w.artifact)
	return r.Blobstore.Put(f)
}
