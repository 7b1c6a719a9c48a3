package scheduler

import (
	"fmt"

	"github.com/jhunt/go-log"
)

// A Chore is one unit of work handed to the scheduler; for relstore,
// that's usually one release archive to ingest.
type Chore struct {
	ID string
	Do func(chore Chore) error

	done chan error
}

func NewChore(id string, do func(Chore) error) Chore {
	return Chore{
		ID: id,
		Do: do,

		done: make(chan error, 1),
	}
}

func (chore Chore) Infof(msg string, args ...interface{}) {
	log.Infof("[%s] %s", chore.ID, fmt.Sprintf(msg, args...))
}

func (chore Chore) Errorf(msg string, args ...interface{}) {
	log.Errorf("[%s] %s", chore.ID, fmt.Sprintf(msg, args...))
}

// Wait blocks until the chore has been executed, and returns whatever
// error its Do function returned.
func (chore Chore) Wait() error {
	err := <-chore.done
	chore.done <- err
	return err
}

func (w *Worker) Execute(chore Chore) {
	defer w.Release()

	chore.Infof("starting on %s", w)
	err := chore.Do(chore)
	if err != nil {
		chore.Errorf("failed: %s", err)
	} else {
		chore.Infof("completed")
	}
	chore.done <- err
}
