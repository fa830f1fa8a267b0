package cache

import (
	"context"
	"sync"
	"time"

	"star-notifier/internal/domain"
)

// Memory implements domain.Cache for a single process.
type Memory struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

var _ domain.Cache = (*Memory)(nil)

// NewMemory creates an in-process cache.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]time.Time), now: time.Now}
}

// Once runs fn if key is unset or expired. The key is released when fn fails.
func (m *Memory) Once(_ context.Context, key string, ttl time.Duration, fn func() error) error {
	m.mu.Lock()
	if expires, ok := m.keys[key]; ok && m.now().Before(expires) {
		m.mu.Unlock()
		return nil
	}
	m.keys[key] = m.now().Add(ttl)
	m.mu.Unlock()

	if err := fn(); err != nil {
		m.mu.Lock()
		delete(m.keys, key)
		m.mu.Unlock()
		return err
	}
	return nil
}

// MemoryJobStatus tracks digest job attempts in process.
type MemoryJobStatus struct {
	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	attempts   int
	delivered  bool
	recipients map[string]bool
}

var _ domain.DigestJobStatus = (*MemoryJobStatus)(nil)

// NewMemoryJobStatus creates an in-process tracker.
func NewMemoryJobStatus() *MemoryJobStatus {
	return &MemoryJobStatus{jobs: make(map[string]*jobState)}
}

func (s *MemoryJobStatus) state(jobID string) *jobState {
	st, ok := s.jobs[jobID]
	if !ok {
		st = &jobState{recipients: make(map[string]bool)}
		s.jobs[jobID] = st
	}
	return st
}

func (s *MemoryJobStatus) Begin(_ context.Context, jobID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(jobID)
	st.attempts++
	return st.delivered, st.attempts, nil
}

func (s *MemoryJobStatus) MarkDelivered(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(jobID).delivered = true
	return nil
}

func (s *MemoryJobStatus) RecipientDelivered(_ context.Context, jobID, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	return ok && st.recipients[to], nil
}

func (s *MemoryJobStatus) MarkRecipient(_ context.Context, jobID, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(jobID).recipients[to] = true
	return nil
}
