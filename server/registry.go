package server

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"
)

// Registry maps authenticated user ids to their live sessions. A missing
// entry always means "peer offline", never an error; broadcasts simply skip
// absent users.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	names    map[int64]string
	online   mapset.Set
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]*Session),
		names:    make(map[int64]string),
		online:   mapset.NewSet(),
	}
}

// Register binds a user id to its session and marks the user online. A
// previous session for the same id is displaced, not closed; its handler
// loop notices on its next read.
func (r *Registry) Register(userID int64, name string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = sess
	r.names[userID] = name
	r.online.Add(userID)
}

// Deregister removes the binding, but only if it still points at sess. A
// stale handler cleaning up after a displacing re-login must not evict the
// new session.
func (r *Registry) Deregister(userID int64, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[userID]; ok && current == sess {
		delete(r.sessions, userID)
		delete(r.names, userID)
		r.online.Remove(userID)
	}
}

func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

func (r *Registry) NameOf(userID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[userID]
}

func (r *Registry) IsOnline(userID int64) bool {
	return r.online.Contains(userID)
}

// OnlineIDs returns the ids of all online users, ascending.
func (r *Registry) OnlineIDs() []int64 {
	slice := r.online.ToSlice()
	ids := make([]int64, 0, len(slice))
	for _, v := range slice {
		ids = append(ids, v.(int64))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// All snapshots every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
