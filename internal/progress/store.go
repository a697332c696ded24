package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/grading"
)

// Store is the single write path for learner state. Every write is a
// monotonic merge, so concurrent writers never lose progress.
type Store interface {
	Component(ctx context.Context, learner, component string) (ComponentProgress, error)
	Components(ctx context.Context, learner string, ids []string) (map[string]ComponentProgress, error)
	MergeComponent(ctx context.Context, learner, component string, p ComponentPatch) (ComponentProgress, error)
	// IncrementAttempts bumps the counter only while it is below max and
	// returns the new value, or ErrAttemptsExhausted.
	IncrementAttempts(ctx context.Context, learner, component string, max int) (int, error)
	AddTimeSpent(ctx context.Context, learner, component string, seconds int64) (ComponentProgress, error)

	MergeMaterial(ctx context.Context, learner, component, material string, p MaterialPatch) (MaterialProgress, error)
	Materials(ctx context.Context, learner, component string) ([]MaterialProgress, error)

	AppendAttempt(ctx context.Context, learner string, a grading.Attempt) error
	ListAttempts(ctx context.Context, learner, component string) ([]grading.Attempt, error)

	PutSession(ctx context.Context, s AttemptSession) error
	Session(ctx context.Context, id string) (AttemptSession, error)
	// OpenSession returns the learner's open session for a component, if any.
	OpenSession(ctx context.Context, learner, component string) (AttemptSession, bool, error)
	// CloseSession moves an open session to status. It reports false if the
	// session was already closed.
	CloseSession(ctx context.Context, id string, status SessionStatus, at time.Time) (bool, error)
	// ReopenSession undoes a CloseSession to from, for a submit that could not
	// be recorded.
	ReopenSession(ctx context.Context, id string, from SessionStatus) error
	ExpiredSessions(ctx context.Context, now time.Time) ([]AttemptSession, error)
}

type pkey struct{ learner, component string }

type mkey struct{ learner, component, material string }

type memoryStore struct {
	mu         sync.RWMutex
	now        func() time.Time
	components map[pkey]ComponentProgress
	materials  map[mkey]MaterialProgress
	attempts   map[pkey][]grading.Attempt
	sessions   map[string]AttemptSession
}

// NewMemoryStore keeps everything in process memory.
func NewMemoryStore() Store {
	return &memoryStore{
		now:        time.Now,
		components: map[pkey]ComponentProgress{},
		materials:  map[mkey]MaterialProgress{},
		attempts:   map[pkey][]grading.Attempt{},
		sessions:   map[string]AttemptSession{},
	}
}

func (m *memoryStore) component(learner, component string) ComponentProgress {
	cp, ok := m.components[pkey{learner, component}]
	if !ok {
		return newComponentProgress(learner, component)
	}
	return cp
}

func (m *memoryStore) Component(_ context.Context, learner, component string) (ComponentProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.component(learner, component), nil
}

func (m *memoryStore) Components(_ context.Context, learner string, ids []string) (map[string]ComponentProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ComponentProgress, len(ids))
	for _, id := range ids {
		out[id] = m.component(learner, id)
	}
	return out, nil
}

func (m *memoryStore) MergeComponent(_ context.Context, learner, component string, p ComponentPatch) (ComponentProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.component(learner, component).Merge(p, m.now())
	m.components[pkey{learner, component}] = cp
	return cp, nil
}

func (m *memoryStore) IncrementAttempts(_ context.Context, learner, component string, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.component(learner, component)
	if cp.Attempts >= max {
		return cp.Attempts, ErrAttemptsExhausted
	}
	cp.Attempts++
	cp.UpdatedAt = m.now()
	m.components[pkey{learner, component}] = cp
	return cp.Attempts, nil
}

func (m *memoryStore) AddTimeSpent(_ context.Context, learner, component string, seconds int64) (ComponentProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.component(learner, component)
	cp.TimeSpentSeconds += seconds
	cp.UpdatedAt = m.now()
	m.components[pkey{learner, component}] = cp
	return cp, nil
}

func (m *memoryStore) MergeMaterial(_ context.Context, learner, component, material string, p MaterialPatch) (MaterialProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := mkey{learner, component, material}
	mp, ok := m.materials[k]
	if !ok {
		mp = MaterialProgress{LearnerID: learner, ComponentID: component, MaterialID: material}
	}
	mp = mp.Merge(p, m.now())
	m.materials[k] = mp
	return mp, nil
}

func (m *memoryStore) Materials(_ context.Context, learner, component string) ([]MaterialProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MaterialProgress
	for k, mp := range m.materials {
		if k.learner == learner && k.component == component {
			out = append(out, mp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	return out, nil
}

func (m *memoryStore) AppendAttempt(_ context.Context, learner string, a grading.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pkey{learner, a.ComponentID}
	m.attempts[k] = append(m.attempts[k], a)
	return nil
}

func (m *memoryStore) ListAttempts(_ context.Context, learner, component string) ([]grading.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.attempts[pkey{learner, component}]
	out := make([]grading.Attempt, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memoryStore) PutSession(_ context.Context, s AttemptSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Answers = cloneAnswers(s.Answers)
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryStore) Session(_ context.Context, id string) (AttemptSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return AttemptSession{}, ErrNotFound
	}
	s.Answers = cloneAnswers(s.Answers)
	return s, nil
}

func (m *memoryStore) OpenSession(_ context.Context, learner, component string) (AttemptSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  AttemptSession
		found bool
	)
	for _, s := range m.sessions {
		if s.LearnerID != learner || s.ComponentID != component || s.Status != SessionOpen {
			continue
		}
		if !found || s.StartedAt.After(best.StartedAt) {
			best, found = s, true
		}
	}
	best.Answers = cloneAnswers(best.Answers)
	return best, found, nil
}

func (m *memoryStore) CloseSession(_ context.Context, id string, status SessionStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != SessionOpen {
		return false, nil
	}
	s.Status = status
	s.ClosedAt = &at
	m.sessions[id] = s
	return true, nil
}

func (m *memoryStore) ReopenSession(_ context.Context, id string, from SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status == from {
		s.Status = SessionOpen
		s.ClosedAt = nil
		m.sessions[id] = s
	}
	return nil
}

func (m *memoryStore) ExpiredSessions(_ context.Context, now time.Time) ([]AttemptSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AttemptSession
	for _, s := range m.sessions {
		if s.Status == SessionOpen && s.PastDeadline(now) {
			s.Answers = cloneAnswers(s.Answers)
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(*out[j].Deadline) })
	return out, nil
}

func cloneAnswers(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
