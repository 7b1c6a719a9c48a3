package scheduler

import (
	"fmt"
	"sync"

	"github.com/jhunt/go-log"
)

var (
	serial     = 0
	serialLock sync.Mutex
)

type Worker struct {
	lock      sync.Mutex
	id        int
	available bool
	chore     string
	done      func()
}

func NewWorker(done func()) *Worker {
	serialLock.Lock()
	defer serialLock.Unlock()

	serial += 1
	return &Worker{
		id:        serial,
		available: true,
		done:      done,
	}
}

func (t *Worker) String() string {
	return fmt.Sprintf("worker t#%03d", t.id)
}

func (t *Worker) Available() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.available
}

func (t *Worker) Reserve(chore Chore) {
	log.Debugf("reserving %s for %s...", t, chore.ID)

	t.lock.Lock()
	t.available = false
	t.chore = chore.ID
	t.lock.Unlock()
}

func (t *Worker) Release() {
	log.Debugf("releasing %s...", t)

	t.lock.Lock()
	t.available = true
	t.chore = ""
	t.lock.Unlock()

	if t.done != nil {
		t.done()
	}
}
