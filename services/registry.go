package services

import (
	"context"
	"sync"
	"time"

	"invite-checkout/internal/referral"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionFactory builds a session for a new id.
type SessionFactory func(id string, rc *referral.Context) *Session

// Registry keeps the live checkout sessions and closes the ones left idle.
type Registry struct {
	factory SessionFactory
	idleTTL time.Duration
	metrics Metrics
	log     logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(factory SessionFactory, idleTTL time.Duration, metrics Metrics, log logrus.FieldLogger) *Registry {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Registry{
		factory:  factory,
		idleTTL:  idleTTL,
		metrics:  metrics,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session under a fresh id.
func (r *Registry) Create(rc *referral.Context) *Session {
	id := uuid.NewString()
	s := r.factory(id, rc)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.metrics.SessionOpened()
	r.log.WithField("session_id", id).Info("session opened")
	return s
}

// Get returns a live session and marks it active.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || s.Closed() {
		return nil, ErrSessionNotFound
	}
	s.Touch()
	return s, nil
}

// Close removes and closes a session. Unknown ids are ignored.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	r.metrics.SessionClosed()
	r.log.WithField("session_id", id).Info("session closed")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes every session idle since before now-idleTTL and reports how
// many it closed. A session still polling counts as active.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTTL)

	var stale []string
	r.mu.RLock()
	for id, s := range r.sessions {
		if s.Closed() || (s.LastActive().Before(cutoff) && !s.View().Polling) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if r.Close(id) {
			closed++
		}
	}
	if closed > 0 {
		r.log.WithField("closed", closed).Info("idle sessions swept")
	}
	return closed
}

// Run sweeps on every tick until ctx is done, then closes what is left.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.Sweep(now)
		case <-ctx.Done():
			r.CloseAll()
			return
		}
	}
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Close(id)
	}
}
