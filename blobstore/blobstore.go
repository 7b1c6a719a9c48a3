package blobstore

import (
	"fmt"
	"io"
	"strings"

	"github.com/pborman/uuid"

	"github.com/shieldproject/relstore/util"
)

// A Blobstore keeps opaque blobs of bits under ids of its own choosing.
// It does not deduplicate anything by itself.
type Blobstore interface {
	// Put stores the bits read from r under a new id.
	Put(r io.Reader) (string, error)

	// Copy duplicates an existing blob under a new id.
	Copy(id string) (string, error)

	Get(id string) (io.ReadCloser, error)
	Exists(id string) (bool, error)

	// Delete is only used to clean up after failed ingestions.
	Delete(id string) error
}

type Config struct {
	Provider   string                 `yaml:"provider"`
	Properties map[string]interface{} `yaml:"properties"`
}

// New builds the blobstore described by the configuration.
func New(c Config) (Blobstore, error) {
	props := Properties{}
	if c.Properties != nil {
		if m, ok := util.StringifyKeys(c.Properties).(map[string]interface{}); ok {
			props = Properties(m)
		}
	}

	switch strings.ToLower(c.Provider) {
	case "local", "":
		return NewLocal(props)
	case "s3":
		return NewS3(props)
	case "swift":
		return NewSwift(props)
	case "b2", "backblaze":
		return NewB2(props)
	case "gcs", "google":
		return NewGCS(props)
	}
	return nil, fmt.Errorf("unrecognized blobstore provider '%s'", c.Provider)
}

func newBlobID() string {
	return uuid.NewRandom().String()
}

// copyThrough implements Copy for backends without a server-side copy,
// by reading the blob back and storing it again.
func copyThrough(store Blobstore, id string) (string, error) {
	r, err := store.Get(id)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return store.Put(r)
}

func path(prefix, id string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return id
	}
	return prefix + "/" + id
}
