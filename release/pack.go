package release

import (
	"archive/tar"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v2"
)

// Pack writes a gzipped release tarball to out, containing the manifest
// and the given files (keyed by their path inside the archive, for
// example "packages/nginx.tgz").
func Pack(out string, m *Manifest, files map[string][]byte) error {
	mf, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("unable to marshal %s: %s", ManifestFile, err)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := append([]string{ManifestFile}, names...)
	for _, name := range entries {
		b := mf
		if name != ManifestFile {
			b = files[name]
		}
		hdr := &tar.Header{
			Name:     "./" + name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(b)),
			ModTime:  time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(b); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}
