package lock

import (
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/jhunt/go-log"
)

/* consul refuses session ttls shorter than this */
const consulMinTTL = 10 * time.Second

// Consul locks are consul KV locks, tied to a session that the consul
// client renews in the background.
type Consul struct {
	client *api.Client
	prefix string
	ttl    time.Duration
}

type consulLock struct {
	name string
	lock *api.Lock
	once sync.Once
}

func NewConsul(c Config) (*Consul, error) {
	config := api.DefaultConfig()
	if c.Address != "" {
		config.Address = c.Address
	}
	config.Token = c.Token
	if c.Username != "" && c.Password != "" {
		config.HttpAuth = &api.HttpBasicAuth{
			Username: c.Username,
			Password: c.Password,
		}
	}
	config.TLSConfig = api.TLSConfig{
		CAFile:             c.CACert,
		CertFile:           c.ClientCert,
		KeyFile:            c.ClientKey,
		InsecureSkipVerify: c.SkipSSLValidation,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	ttl := c.ttl()
	if ttl < consulMinTTL {
		ttl = consulMinTTL
	}

	return &Consul{
		client: client,
		prefix: c.prefix(),
		ttl:    ttl,
	}, nil
}

func (c *Consul) Acquire(name string, timeout time.Duration) (Lock, error) {
	l, err := c.client.LockOpts(&api.LockOptions{
		Key:          c.prefix + name,
		SessionName:  "relstore " + name,
		SessionTTL:   c.ttl.String(),
		LockWaitTime: timeout,
		LockTryOnce:  true,
	})
	if err != nil {
		return nil, err
	}

	lost, err := l.Lock(nil)
	if err != nil {
		return nil, err
	}
	if lost == nil {
		return nil, &ErrTimeout{Name: name, Waited: timeout}
	}

	log.Debugf("acquired consul lock '%s'", name)
	return &consulLock{name: name, lock: l}, nil
}

func (k *consulLock) Name() string {
	return k.name
}

func (k *consulLock) Release() error {
	var err error
	k.once.Do(func() {
		err = k.lock.Unlock()
		log.Debugf("released consul lock '%s'", k.name)
	})
	return err
}
