package lock

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jhunt/go-log"
	"github.com/pborman/uuid"
	"github.com/redis/go-redis/v9"
)

const redisPoll = 100 * time.Millisecond

/* only the owner may extend or remove a lock */
var (
	redisRefresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	redisRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis locks are keys set with NX and a ttl, owned by a random token.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type redisLock struct {
	name   string
	key    string
	token  string
	client *redis.Client

	once sync.Once
	stop func()
}

func NewRedis(c Config) (*Redis, error) {
	if c.Address == "" {
		return nil, fmt.Errorf("no redis address configured for the lock manager")
	}

	opts := &redis.Options{
		Addr:     c.Address,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.SkipSSLValidation || c.CACert != "" {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: c.SkipSSLValidation}
		if c.CACert != "" {
			pem, err := os.ReadFile(c.CACert)
			if err != nil {
				return nil, err
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", c.CACert)
			}
			opts.TLSConfig.RootCAs = pool
		}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", c.Address, err)
	}

	return &Redis{
		client: client,
		prefix: c.prefix(),
		ttl:    c.ttl(),
	}, nil
}

func (r *Redis) Acquire(name string, timeout time.Duration) (Lock, error) {
	key := r.prefix + name
	token := uuid.NewRandom().String()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := r.client.SetNX(context.Background(), key, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debugf("acquired redis lock '%s'", name)
			k := &redisLock{name: name, key: key, token: token, client: r.client}
			k.stop = keepalive(name, r.ttl/3, func() (bool, error) {
				n, err := redisRefresh.Run(context.Background(), r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
				return n == 1, err
			})
			return k, nil
		}

		if !time.Now().Before(deadline) {
			return nil, &ErrTimeout{Name: name, Waited: timeout}
		}
		time.Sleep(redisPoll)
	}
}

func (k *redisLock) Name() string {
	return k.name
}

func (k *redisLock) Release() error {
	var err error
	k.once.Do(func() {
		k.stop()
		err = redisRelease.Run(context.Background(), k.client, []string{k.key}, k.token).Err()
		log.Debugf("released redis lock '%s'", k.name)
	})
	return err
}
