package lock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jhunt/go-log"
	"go.etcd.io/etcd/client/pkg/v3/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Etcd locks are etcd mutexes, held for as long as the session lease
// that backs them is kept alive.
type Etcd struct {
	client *clientv3.Client
	prefix string
	ttl    time.Duration
}

type etcdLock struct {
	name    string
	session *concurrency.Session
	mutex   *concurrency.Mutex
	once    sync.Once
}

func NewEtcd(c Config) (*Etcd, error) {
	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured for the lock manager")
	}

	var tlsConfig *tls.Config
	if c.CACert != "" || c.ClientCert != "" {
		tlsInfo := transport.TLSInfo{
			CertFile:           c.ClientCert,
			KeyFile:            c.ClientKey,
			TrustedCAFile:      c.CACert,
			InsecureSkipVerify: c.SkipSSLValidation,
		}

		var err error
		tlsConfig, err = tlsInfo.ClientConfig()
		if err != nil {
			return nil, err
		}
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: 5 * time.Second,
		Username:    c.Username,
		Password:    c.Password,
		TLS:         tlsConfig,
	})
	if err != nil {
		return nil, err
	}

	return &Etcd{
		client: client,
		prefix: "/" + c.prefix(),
		ttl:    c.ttl(),
	}, nil
}

func (e *Etcd) Acquire(name string, timeout time.Duration) (Lock, error) {
	session, err := concurrency.NewSession(e.client, concurrency.WithTTL(int(e.ttl/time.Second)))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	mutex := concurrency.NewMutex(session, e.prefix+name)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ErrTimeout{Name: name, Waited: timeout}
		}
		return nil, err
	}

	log.Debugf("acquired etcd lock '%s' (%s)", name, mutex.Key())
	return &etcdLock{name: name, session: session, mutex: mutex}, nil
}

func (k *etcdLock) Name() string {
	return k.name
}

func (k *etcdLock) Release() error {
	var err error
	k.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = k.mutex.Unlock(ctx)
		if cerr := k.session.Close(); err == nil {
			err = cerr
		}
		log.Debugf("released etcd lock '%s'", k.name)
	})
	return err
}
