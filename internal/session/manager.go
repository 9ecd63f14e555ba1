package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrMissingCallSID = errors.New("call sid is required")
)

// Session is the server-side state of one phone call, keyed by the provider's CallSid.
type Session struct {
	ID             string    `json:"session_id"`
	CallSID        string    `json:"call_sid"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Status         Status    `json:"status"`
	EndReason      string    `json:"end_reason,omitempty"`
	TurnCount      int       `json:"turn_count"`
	LastTurnID     string    `json:"last_turn_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Open returns the active session of callSID, creating it when the call is new.
// created is false when Twilio re-posted the greeting webhook for a known call.
func (m *Manager) Open(callSID, from, to string) (s *Session, created bool, err error) {
	callSID = strings.TrimSpace(callSID)
	if callSID == "" {
		return nil, false, ErrMissingCallSID
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[callSID]; ok && existing.Status == StatusActive {
		existing.LastActivityAt = now
		return clone(existing), false, nil
	}
	s = &Session{
		ID:             uuid.NewString(),
		CallSID:        callSID,
		From:           from,
		To:             to,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[callSID] = s
	return clone(s), true, nil
}

func (m *Manager) Get(callSID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callSID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(callSID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = m.now()
	return nil
}

// RecordTurn counts a completed turn against the call.
func (m *Manager) RecordTurn(callSID, turnID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSID]
	if !ok {
		return nil, ErrNotFound
	}
	s.TurnCount++
	s.LastTurnID = turnID
	s.LastActivityAt = m.now()
	return clone(s), nil
}

// End marks the call finished and evicts it. Ending an unknown call returns ErrNotFound.
func (m *Manager) End(callSID, reason string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callSID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.EndReason = reason
	s.LastActivityAt = m.now()
	delete(m.sessions, callSID)
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for callSID, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.EndReason = "inactive"
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		delete(m.sessions, callSID)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
