package handlers

import (
	"sync"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/feedback"
	"golang.org/x/time/rate"
)

// session is the server-side state of one browser tab: its conversation, the assembler filling it and
// the feedback submitter rating it.
type session struct {
	id         string
	controller *chat.Controller
	feedback   *feedback.Submitter
	limiter    *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *session) topic() string {
	return "session-" + s.id
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *session) close() {
	s.controller.Close()
}

type sessionStore struct {
	ttl time.Duration

	mu   sync.Mutex
	byID map[string]*session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:  ttl,
		byID: make(map[string]*session),
	}
}

func (s *sessionStore) add(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sess.id] = sess
}

// get returns the session with the given id and marks it as used.
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	s.mu.Unlock()

	if ok {
		sess.touch(time.Now())
	}
	return sess, ok
}

// sweep closes and forgets the sessions unused for longer than the TTL. Sessions with a send in flight
// are kept, since the stream itself keeps them in use.
func (s *sessionStore) sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	var expired []*session

	s.mu.Lock()
	for id, sess := range s.byID {
		if sess.idleSince(now) < s.ttl || sess.controller.Loading() {
			continue
		}
		expired = append(expired, sess)
		delete(s.byID, id)
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
	}
	return len(expired)
}

func (s *sessionStore) closeAll() {
	s.mu.Lock()
	all := make([]*session, 0, len(s.byID))
	for id, sess := range s.byID {
		all = append(all, sess)
		delete(s.byID, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.close()
	}
}
