package board

import (
	"sync"

	"taskboard/domain"
)

// Store is the single source of truth for the tasks shown on a board. It
// keeps the order tasks were first seen in, which the CREATED sort and
// every tie in the view rely on. Mutations are synchronous and visible to
// the next derivation.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]domain.Task
	order   []string
	version uint64
}

func NewStore() *Store {
	return &Store{tasks: make(map[string]domain.Task)}
}

// Load replaces the whole collection. Duplicate ids keep the first position
// and the last value.
func (s *Store) Load(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]domain.Task, len(tasks))
	s.order = make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := s.tasks[t.ID]; !ok {
			s.order = append(s.order, t.ID)
		}
		s.tasks[t.ID] = t
	}
	s.version++
}

// Upsert inserts a new task at the end or replaces an existing one in place.
func (s *Store) Upsert(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t
	s.version++
}

// Remove deletes a task and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.version++
	return true
}

func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// All returns a copy of the tasks in board order.
func (s *Store) All() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Version increases on every mutation so readers can skip re-deriving an
// unchanged board.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetStatus writes only the status field and returns the previous value.
func (s *Store) SetStatus(id string, status domain.Status) (domain.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	prev := t.Status
	t.Status = status
	s.tasks[id] = t
	s.version++
	return prev, true
}
