package release

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhunt/go-log"
	"github.com/klauspost/compress/gzip"
)

// Archive is a release tarball unpacked into a scratch directory.
type Archive struct {
	Path     string
	Dir      string
	Manifest *Manifest
}

// Extract unpacks the release tarball at path into a fresh directory
// under tmpdir and parses its manifest.  The caller owns the directory
// and must Cleanup() the archive when done with it.
func Extract(path, tmpdir string) (*Archive, error) {
	if tmpdir != "" {
		if err := os.MkdirAll(tmpdir, 0755); err != nil {
			return nil, fmt.Errorf("unable to create temporary directory %s: %s", tmpdir, err)
		}
	}
	dir, err := os.MkdirTemp(tmpdir, "release-")
	if err != nil {
		return nil, fmt.Errorf("unable to create temporary directory: %s", err)
	}

	log.Debugf("extracting release archive %s into %s", path, dir)
	if err := untar(path, dir); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		os.RemoveAll(dir)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("release archive %s has no %s", path, ManifestFile)
		}
		return nil, err
	}

	m, err := ParseManifest(b)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &Archive{
		Path:     path,
		Dir:      dir,
		Manifest: m,
	}, nil
}

func (a *Archive) Cleanup() error {
	if a == nil || a.Dir == "" {
		return nil
	}
	log.Debugf("removing release scratch directory %s", a.Dir)
	return os.RemoveAll(a.Dir)
}

// PackagePath is where the bits of the named package live inside the
// unpacked archive, whether they are sources or compiled.
func (a *Archive) PackagePath(name string) string {
	if a.Manifest.IsCompiled() {
		return filepath.Join(a.Dir, "compiled_packages", name+".tgz")
	}
	return filepath.Join(a.Dir, "packages", name+".tgz")
}

func (a *Archive) JobPath(name string) string {
	return filepath.Join(a.Dir, "jobs", name+".tgz")
}

func (a *Archive) HasFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func untar(path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open release archive %s: %s", path, err)
	}
	defer f.Close()

	buf := bufio.NewReader(f)
	var in io.Reader = buf
	if magic, err := buf.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buf)
		if err != nil {
			return fmt.Errorf("release archive %s is not a valid gzip stream: %s", path, err)
		}
		defer gz.Close()
		in = gz
	}

	tr := tar.NewReader(in)
	n := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("release archive %s is not a valid tarball: %s", path, err)
		}
		n++

		name := filepath.Clean(filepath.FromSlash(hdr.Name))
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return fmt.Errorf("release archive %s contains unsafe path '%s'", path, hdr.Name)
		}
		target := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("unable to extract %s from %s: %s", hdr.Name, path, err)
			}
			if err := out.Close(); err != nil {
				return err
			}

		default:
			log.Debugf("skipping %s (type %c) in release archive %s", hdr.Name, hdr.Typeflag, path)
		}
	}

	if n == 0 {
		return fmt.Errorf("release archive %s is empty", path)
	}
	return nil
}
