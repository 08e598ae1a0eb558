package memory

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is one voice session record backing the summary endpoint.
type Session struct {
	ID        string
	CreatedAt time.Time
	Locale    string
	Voice     string

	Frames        atomic.Int64
	ToolCalls     atomic.Int64
	Interruptions atomic.Int64
}

type SessionRepo struct {
	m sync.Map
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{}
}

func (r *SessionRepo) Save(s *Session) {
	r.m.Store(s.ID, s)
}

func (r *SessionRepo) Get(id string) (*Session, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (r *SessionRepo) IncFrames(id string) {
	if s, ok := r.Get(id); ok {
		s.Frames.Add(1)
	}
}

func (r *SessionRepo) IncToolCalls(id string) {
	if s, ok := r.Get(id); ok {
		s.ToolCalls.Add(1)
	}
}

func (r *SessionRepo) IncInterruptions(id string) {
	if s, ok := r.Get(id); ok {
		s.Interruptions.Add(1)
	}
}
