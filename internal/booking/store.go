package booking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store manages booking sessions.
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	timeout  time.Duration
	deps     Deps
	fsm      *FSM
}

// NewStore creates a new session store. Sessions idle longer than timeout
// are dropped.
func NewStore(deps Deps, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		deps:     deps.withDefaults(),
		fsm:      NewFSM(),
	}
}

// Create starts a session for a signed-in student.
func (st *Store) Create(studentID string) (*Session, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, &ValidationError{Code: CodeMissingField, Field: "student_id"}
	}
	session := newSession(uuid.NewString(), studentID, st.deps, st.fsm)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[session.ID] = session
	return session, nil
}

// Get returns a live session.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	session, ok := st.sessions[id]
	st.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired(st.timeout) {
		st.Delete(id)
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes a session and cancels its in-flight load.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	session, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if ok {
		session.close()
	}
	return ok
}

// Len returns the number of sessions held.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Cleanup removes expired sessions.
func (st *Store) Cleanup() int {
	st.mu.Lock()
	var expired []*Session
	for id, session := range st.sessions {
		if session.IsExpired(st.timeout) {
			delete(st.sessions, id)
			expired = append(expired, session)
		}
	}
	st.mu.Unlock()

	for _, session := range expired {
		session.close()
	}
	return len(expired)
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (st *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Cleanup(); n > 0 {
				st.deps.Logger.Debug().Int("removed", n).Int("active", st.Len()).Msg("expired booking sessions removed")
			}
		}
	}
}
