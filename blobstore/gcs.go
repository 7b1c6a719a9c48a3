package blobstore

import (
	"context"
	"io"
	"net/http"

	"github.com/jhunt/go-log"
	oauthgoogle "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/storage/v1"
)

// GCS stores blobs in a Google Cloud Storage bucket.
type GCS struct {
	Bucket string
	Prefix string

	service *storage.Service
}

func NewGCS(props Properties) (*GCS, error) {
	bucket, err := props.StringValue("bucket")
	if err != nil {
		return nil, err
	}
	prefix, err := props.StringValueDefault("prefix", "")
	if err != nil {
		return nil, err
	}
	key, err := props.StringValueDefault("json_key", "")
	if err != nil {
		return nil, err
	}

	var client *http.Client
	ctx := context.Background()
	if key != "" {
		conf, err := oauthgoogle.JWTConfigFromJSON([]byte(key), storage.DevstorageFullControlScope)
		if err != nil {
			return nil, err
		}
		client = conf.Client(ctx)
	} else {
		client, err = oauthgoogle.DefaultClient(ctx, storage.DevstorageFullControlScope)
		if err != nil {
			return nil, err
		}
	}

	service, err := storage.New(client)
	if err != nil {
		return nil, err
	}

	return &GCS{
		Bucket:  bucket,
		Prefix:  prefix,
		service: service,
	}, nil
}

func notFound(err error) bool {
	if e, ok := err.(*googleapi.Error); ok {
		return e.Code == http.StatusNotFound
	}
	return false
}

func (g *GCS) Put(r io.Reader) (string, error) {
	id := newBlobID()
	object, err := g.service.Objects.Insert(g.Bucket, &storage.Object{Name: path(g.Prefix, id)}).Media(r).Do()
	if err != nil {
		return "", err
	}
	log.Debugf("stored %d bytes in gcs blob %s", object.Size, id)
	return id, nil
}

func (g *GCS) Copy(id string) (string, error) {
	dst := newBlobID()
	_, err := g.service.Objects.Copy(g.Bucket, path(g.Prefix, id), g.Bucket, path(g.Prefix, dst), &storage.Object{}).Do()
	if err != nil {
		return "", err
	}
	return dst, nil
}

func (g *GCS) Get(id string) (io.ReadCloser, error) {
	res, err := g.service.Objects.Get(g.Bucket, path(g.Prefix, id)).Download()
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func (g *GCS) Exists(id string) (bool, error) {
	_, err := g.service.Objects.Get(g.Bucket, path(g.Prefix, id)).Do()
	if notFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (g *GCS) Delete(id string) error {
	err := g.service.Objects.Delete(g.Bucket, path(g.Prefix, id)).Do()
	if notFound(err) {
		return nil
	}
	return err
}
