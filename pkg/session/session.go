// Package session manages per-customer conversation history.
package session

import (
	"slices"
	"sync"
	"time"

	"bankgate/pkg/oracle"
)

// Session holds an ordered sequence of conversation messages. Implementations
// must be safe for concurrent use.
type Session interface {
	// ID returns the session identifier.
	ID() string
	// UserID returns the external user the session belongs to.
	UserID() string
	// AddMessage appends a message to the conversation history.
	AddMessage(msg oracle.Message)
	// Messages returns a defensive copy of the conversation history.
	Messages() []oracle.Message
	// Clear resets the conversation history.
	Clear()
}

type memorySession struct {
	id       string
	userID   string
	created  time.Time
	messages []oracle.Message
	mu       sync.RWMutex
}

func (s *memorySession) ID() string     { return s.id }
func (s *memorySession) UserID() string { return s.userID }

func (s *memorySession) AddMessage(msg oracle.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *memorySession) Messages() []oracle.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]oracle.Message, len(s.messages))
	for i, msg := range s.messages {
		copied[i] = msg
		copied[i].ToolCalls = slices.Clone(msg.ToolCalls)
	}
	return copied
}

func (s *memorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Manager owns all sessions for one namespace. Session IDs are derived from
// the user ID ("session_<user>") so a returning customer always lands in the
// same conversation.
type Manager struct {
	namespace string
	mu        sync.Mutex
	sessions  map[string]*memorySession
}

func NewManager(namespace string) *Manager {
	if namespace == "" {
		namespace = "banking_assistant"
	}
	return &Manager{namespace: namespace, sessions: map[string]*memorySession{}}
}

func (m *Manager) Namespace() string { return m.namespace }

// Ensure returns the user's session, creating it on first access. Creation is
// idempotent: concurrent first calls for the same user observe one session.
func (m *Manager) Ensure(userID string) Session {
	id := "session_" + userID
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &memorySession{id: id, userID: userID, created: time.Now()}
	m.sessions[id] = s
	return s
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(userID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions["session_"+userID]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
