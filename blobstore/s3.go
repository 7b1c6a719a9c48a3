package blobstore

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/jhunt/go-log"
	"github.com/jhunt/go-s3"
)

const (
	DefaultS3Host            = "s3.amazonaws.com"
	DefaultS3Region          = "us-east-1"
	DefaultS3SigVersion      = "4"
	DefaultS3PartSize        = "5M"
	DefaultSkipSSLValidation = false
)

func parsePartSize(v string) int {
	re := regexp.MustCompile(`(?i)^(\d+)([mg])b?$`)
	m := re.FindStringSubmatch(v)
	if m == nil {
		return -1
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return -1
	}
	switch strings.ToLower(m[2]) {
	case "m":
		return int(n) * 1024 * 1024
	case "g":
		return int(n) * 1024 * 1024 * 1024
	}
	return -1
}

// S3 stores blobs in an S3 (or S3 work-alike) bucket.
type S3 struct {
	Prefix   string
	PartSize int

	client *s3.Client
}

func NewS3(props Properties) (*S3, error) {
	host, err := props.StringValueDefault("s3_host", DefaultS3Host)
	if err != nil {
		return nil, err
	}
	port, err := props.StringValueDefault("s3_port", "")
	if err != nil {
		return nil, err
	}
	if port != "" {
		host = host + ":" + port
	}

	insecure, err := props.BooleanValueDefault("skip_ssl_validation", DefaultSkipSSLValidation)
	if err != nil {
		return nil, err
	}
	key, err := props.StringValue("access_key_id")
	if err != nil {
		return nil, err
	}
	secret, err := props.StringValue("secret_access_key")
	if err != nil {
		return nil, err
	}
	bucket, err := props.StringValue("bucket")
	if err != nil {
		return nil, err
	}
	region, err := props.StringValueDefault("region", DefaultS3Region)
	if err != nil {
		return nil, err
	}
	prefix, err := props.StringValueDefault("prefix", "")
	if err != nil {
		return nil, err
	}
	proxy, err := props.StringValueDefault("socks5_proxy", "")
	if err != nil {
		return nil, err
	}

	s, err := props.StringValueDefault("signature_version", DefaultS3SigVersion)
	if err != nil {
		return nil, err
	}
	if s != "2" && s != "4" {
		return nil, fmt.Errorf("Invalid `signature_version` specified (`%s`). Expected `2` or `4`", s)
	}
	sigVer, _ := strconv.Atoi(s)

	s, err = props.StringValueDefault("part_size", DefaultS3PartSize)
	if err != nil {
		return nil, err
	}
	partSize := parsePartSize(s)
	if partSize < 5*1024*1024 {
		return nil, fmt.Errorf("Invalid `part_size` specified (`%s`); must be at least 5M.", s)
	}

	client, err := s3.NewClient(&s3.Client{
		SignatureVersion:   sigVer,
		AccessKeyID:        key,
		SecretAccessKey:    secret,
		Region:             region,
		Domain:             host,
		Bucket:             bucket,
		InsecureSkipVerify: insecure,
		SOCKS5Proxy:        proxy,
	})
	if err != nil {
		return nil, err
	}

	return &S3{
		Prefix:   prefix,
		PartSize: partSize,
		client:   client,
	}, nil
}

func (s *S3) Put(r io.Reader) (string, error) {
	id := newBlobID()
	upload, err := s.client.NewUpload(path(s.Prefix, id), nil)
	if err != nil {
		return "", err
	}

	size, err := upload.Stream(r, s.PartSize)
	if err != nil {
		return "", err
	}
	if err := upload.Done(); err != nil {
		return "", err
	}

	log.Debugf("stored %d bytes in s3 blob %s", size, id)
	return id, nil
}

func (s *S3) Copy(id string) (string, error) {
	return copyThrough(s, id)
}

func (s *S3) Get(id string) (io.ReadCloser, error) {
	r, err := s.client.Get(path(s.Prefix, id))
	if err != nil {
		return nil, err
	}
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}

func (s *S3) Exists(id string) (bool, error) {
	r, err := s.Get(id)
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, err
	}
	r.Close()
	return true, nil
}

func (s *S3) Delete(id string) error {
	return s.client.Delete(path(s.Prefix, id))
}
