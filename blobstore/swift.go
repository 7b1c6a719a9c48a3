package blobstore

import (
	"io"

	"github.com/jhunt/go-log"
	"github.com/ncw/swift"
)

// Swift stores blobs in an OpenStack Swift container.
type Swift struct {
	Container string
	Prefix    string

	conn *swift.Connection
}

func NewSwift(props Properties) (*Swift, error) {
	authURL, err := props.StringValue("auth_url")
	if err != nil {
		return nil, err
	}
	user, err := props.StringValue("username")
	if err != nil {
		return nil, err
	}
	password, err := props.StringValue("password")
	if err != nil {
		return nil, err
	}
	container, err := props.StringValue("container")
	if err != nil {
		return nil, err
	}
	domain, err := props.StringValueDefault("domain", "")
	if err != nil {
		return nil, err
	}
	tenant, err := props.StringValueDefault("project_name", "")
	if err != nil {
		return nil, err
	}
	prefix, err := props.StringValueDefault("prefix", "")
	if err != nil {
		return nil, err
	}

	conn := &swift.Connection{
		UserName: user,
		ApiKey:   password,
		AuthUrl:  authURL,
		Domain:   domain,
		Tenant:   tenant,
	}
	if err := conn.Authenticate(); err != nil {
		return nil, err
	}

	return &Swift{
		Container: container,
		Prefix:    prefix,
		conn:      conn,
	}, nil
}

func (s *Swift) Put(r io.Reader) (string, error) {
	id := newBlobID()
	if _, err := s.conn.ObjectPut(s.Container, path(s.Prefix, id), r, false, "", "", nil); err != nil {
		return "", err
	}
	log.Debugf("stored swift blob %s in %s", id, s.Container)
	return id, nil
}

func (s *Swift) Copy(id string) (string, error) {
	dst := newBlobID()
	if _, err := s.conn.ObjectCopy(s.Container, path(s.Prefix, id), s.Container, path(s.Prefix, dst), nil); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Swift) Get(id string) (io.ReadCloser, error) {
	f, _, err := s.conn.ObjectOpen(s.Container, path(s.Prefix, id), false, nil)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Swift) Exists(id string) (bool, error) {
	_, _, err := s.conn.Object(s.Container, path(s.Prefix, id))
	if err == swift.ObjectNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *Swift) Delete(id string) error {
	err := s.conn.ObjectDelete(s.Container, path(s.Prefix, id))
	if err == swift.ObjectNotFound {
		return nil
	}
	return err
}
