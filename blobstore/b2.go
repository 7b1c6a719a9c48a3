package blobstore

import (
	"context"
	"io"

	"github.com/jhunt/go-log"
	"github.com/kurin/blazer/b2"
)

// B2 stores blobs in a Backblaze B2 bucket.
type B2 struct {
	Prefix string

	bucket *b2.Bucket
}

func NewB2(props Properties) (*B2, error) {
	key, err := props.StringValue("access_key_id")
	if err != nil {
		return nil, err
	}
	secret, err := props.StringValue("secret_access_key")
	if err != nil {
		return nil, err
	}
	name, err := props.StringValue("bucket")
	if err != nil {
		return nil, err
	}
	prefix, err := props.StringValueDefault("prefix", "")
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	client, err := b2.NewClient(ctx, key, secret)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(ctx, name)
	if err != nil {
		return nil, err
	}

	return &B2{
		Prefix: prefix,
		bucket: bucket,
	}, nil
}

func (b *B2) Put(r io.Reader) (string, error) {
	id := newBlobID()
	w := b.bucket.Object(path(b.Prefix, id)).NewWriter(context.Background())
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	log.Debugf("stored b2 blob %s", id)
	return id, nil
}

func (b *B2) Copy(id string) (string, error) {
	return copyThrough(b, id)
}

func (b *B2) Get(id string) (io.ReadCloser, error) {
	return b.bucket.Object(path(b.Prefix, id)).NewReader(context.Background()), nil
}

func (b *B2) Exists(id string) (bool, error) {
	_, err := b.bucket.Object(path(b.Prefix, id)).Attrs(context.Background())
	if b2.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *B2) Delete(id string) error {
	err := b.bucket.Object(path(b.Prefix, id)).Delete(context.Background())
	if b2.IsNotExist(err) {
		return nil
	}
	return err
}
