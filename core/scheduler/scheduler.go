package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhunt/go-log"
)

const MaxPriority = 100

/* prioritization discipline

   10 - explicitly requested uploads (command-line)
   50 - uploads discovered by directory scans
   90 - fix-mode re-uploads of missing blobs
*/

type Scheduler struct {
	lock    sync.Mutex
	workers []*Worker
	chores  [][]Chore

	wake    chan struct{}
	pending sync.WaitGroup
}

func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}

	s := &Scheduler{
		chores: make([][]Chore, MaxPriority),
		wake:   make(chan struct{}, 1),
	}

	s.workers = make([]*Worker, workers)
	for i := range s.workers {
		s.workers[i] = NewWorker(s.poke)
	}
	return s
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Schedule(priority int, chore Chore) error {
	if priority < 1 || priority > MaxPriority {
		return fmt.Errorf("invalid chore priority '%d'; must be between 1 (highest) and %d (lowest)", priority, MaxPriority)
	}
	if chore.done == nil {
		return fmt.Errorf("chore '%s' was not created via NewChore()", chore.ID)
	}

	s.lock.Lock()
	s.chores[priority-1] = append(s.chores[priority-1], chore)
	s.pending.Add(1)
	s.lock.Unlock()

	s.poke()
	return nil
}

// Run hands as many queued chores as it can to idle workers, highest
// priority first.  It does not block.
func (s *Scheduler) Run() {
	prio := 0

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, worker := range s.workers {
		if !worker.Available() {
			continue
		}

		for len(s.chores[prio]) == 0 {
			prio += 1
			if prio == MaxPriority {
				return
			}
		}

		chore := s.chores[prio][0]
		s.chores[prio] = s.chores[prio][1:]

		worker.Reserve(chore)
		go func(w *Worker, c Chore) {
			defer s.pending.Done()
			w.Execute(c)
		}(worker, chore)
	}
}

// Start dispatches chores until the context is cancelled.  If elevate
// is non-zero, queued chores are bumped up in priority that often so
// that low-priority work is not starved forever.
func (s *Scheduler) Start(ctx context.Context, elevate time.Duration) {
	var tick <-chan time.Time
	if elevate > 0 {
		t := time.NewTicker(elevate)
		defer t.Stop()
		tick = t.C
	}

	log.Infof("scheduler starting with %d worker(s)", len(s.workers))
	for {
		s.Run()
		select {
		case <-ctx.Done():
			log.Infof("scheduler shutting down")
			s.Cancel(ctx.Err())
			return
		case <-s.wake:
		case <-tick:
			s.Elevate()
		}
	}
}

// Drain waits for every scheduled chore to finish.
func (s *Scheduler) Drain() {
	s.pending.Wait()
}

// Cancel fails every chore still waiting in the queues with err, without
// running it.  Chores already handed to a worker are left to finish.
func (s *Scheduler) Cancel(err error) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	n := 0
	for prio := range s.chores {
		for _, chore := range s.chores[prio] {
			chore.Errorf("canceled before it could run: %s", err)
			chore.done <- err
			s.pending.Done()
			n++
		}
		s.chores[prio] = nil
	}
	return n
}
