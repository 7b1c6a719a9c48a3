package scheduler

type BacklogStatus struct {
	Priority int    `json:"priority"`
	Position int    `json:"position"`
	Chore    string `json:"chore"`
}

type WorkerStatus struct {
	ID    int    `json:"id"`
	Idle  bool   `json:"idle"`
	Chore string `json:"chore"`
}

type Status struct {
	Backlog []BacklogStatus `json:"backlog"`
	Workers []WorkerStatus  `json:"workers"`
}

func (s *Scheduler) Status() Status {
	status := Status{
		Workers: make([]WorkerStatus, len(s.workers)),
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for i, w := range s.workers {
		w.lock.Lock()
		status.Workers[i].ID = w.id
		status.Workers[i].Idle = w.available
		status.Workers[i].Chore = w.chore
		w.lock.Unlock()
	}

	for prio, lst := range s.chores {
		for i, chore := range lst {
			status.Backlog = append(status.Backlog, BacklogStatus{
				Priority: prio + 1,
				Position: i,
				Chore:    chore.ID,
			})
		}
	}

	return status
}
