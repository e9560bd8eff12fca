package scheduler

import (
	"fmt"

	"agentsched/internal/domain"
)

// AddListener registers a callback for scheduler lifecycle events and
// returns an id for later removal.
func (s *Scheduler) AddListener(fn domain.Listener) int {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return id
}

// RemoveListener drops the listener registered under id. Unknown ids are a
// no-op.
func (s *Scheduler) RemoveListener(id int) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	delete(s.listeners, id)
}

// notify delivers ev to every registered listener. Each listener runs under
// its own recover so one bad listener cannot break delivery to the rest or
// fail the operation that emitted the event. Delivery order is unspecified.
func (s *Scheduler) notify(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.timer.Now()
	}

	s.lmu.Lock()
	snapshot := make([]domain.Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		snapshot = append(snapshot, fn)
	}
	s.lmu.Unlock()

	for _, fn := range snapshot {
		s.invoke(fn, ev)
	}
}

func (s *Scheduler) invoke(fn domain.Listener, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler listener panicked",
				"event", string(ev.Type), "task_id", ev.TaskID, "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}
