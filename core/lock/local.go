package lock

import (
	"sync"
	"time"

	"github.com/jhunt/go-log"
)

// Local locks only exclude other goroutines in this process.
type Local struct {
	lock sync.Mutex
	held map[string]chan struct{}
}

type localLock struct {
	name   string
	locker *Local
	once   sync.Once
}

func NewLocal() *Local {
	return &Local{
		held: make(map[string]chan struct{}),
	}
}

func (l *Local) Acquire(name string, timeout time.Duration) (Lock, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		l.lock.Lock()
		freed, busy := l.held[name]
		if !busy {
			l.held[name] = make(chan struct{})
			l.lock.Unlock()

			log.Debugf("acquired local lock '%s'", name)
			return &localLock{name: name, locker: l}, nil
		}
		l.lock.Unlock()

		log.Debugf("waiting for local lock '%s'", name)
		select {
		case <-freed:
		case <-deadline.C:
			return nil, &ErrTimeout{Name: name, Waited: timeout}
		}
	}
}

func (k *localLock) Name() string {
	return k.name
}

func (k *localLock) Release() error {
	k.once.Do(func() {
		k.locker.lock.Lock()
		defer k.locker.lock.Unlock()

		if freed, ok := k.locker.held[k.name]; ok {
			delete(k.locker.held, k.name)
			close(freed)
		}
		log.Debugf("released local lock '%s'", k.name)
	})
	return nil
}
