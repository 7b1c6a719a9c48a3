package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jhunt/go-log"
)

// Local keeps blobs as files in a directory.
type Local struct {
	Root string
}

var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_.]*$`)

func NewLocal(props Properties) (*Local, error) {
	root, err := props.StringValue("path")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("unable to create local blobstore directory %s: %s", root, err)
	}
	return &Local{Root: root}, nil
}

func (l *Local) file(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", fmt.Errorf("invalid blob id '%s'", id)
	}
	return filepath.Join(l.Root, id), nil
}

func (l *Local) Put(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(l.Root, ".incoming-")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	id := newBlobID()
	file, _ := l.file(id)
	if err := os.Rename(tmp.Name(), file); err != nil {
		return "", err
	}
	log.Debugf("stored blob %s in %s", id, l.Root)
	return id, nil
}

func (l *Local) Copy(id string) (string, error) {
	return copyThrough(l, id)
}

func (l *Local) Get(id string) (io.ReadCloser, error) {
	file, err := l.file(id)
	if err != nil {
		return nil, err
	}
	return os.Open(file)
}

func (l *Local) Exists(id string) (bool, error) {
	file, err := l.file(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(file)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (l *Local) Delete(id string) error {
	file, err := l.file(id)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
