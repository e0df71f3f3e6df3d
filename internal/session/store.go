// Package session keeps per-connection conversation history in memory.
// Sessions are created on first reference, bounded FIFO, and dropped when the
// owning connection goes away. Appends for one session are serialized so two
// rapid turns on the same WebSocket cannot interleave their history entries;
// unrelated sessions proceed in parallel.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one immutable history entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type conversation struct {
	mu        sync.Mutex
	messages  []Message
	createdAt time.Time
}

// Store maps session ids to bounded conversation histories.
type Store struct {
	maxMessages int

	mu       sync.RWMutex
	sessions map[string]*conversation
}

func NewStore(maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &Store{
		maxMessages: maxMessages,
		sessions:    make(map[string]*conversation),
	}
}

// NewSessionID mints an identifier for a fresh connection.
func NewSessionID() string {
	return "session-" + uuid.NewString()
}

func (s *Store) getOrCreate(id string) *conversation {
	s.mu.RLock()
	c, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.sessions[id]; ok {
		return c
	}
	c = &conversation{createdAt: time.Now().UTC()}
	s.sessions[id] = c
	return c
}

// GetOrCreate ensures a session exists. Idempotent.
func (s *Store) GetOrCreate(id string) {
	s.getOrCreate(id)
}

// Append adds one message, evicting the oldest entries once the hard cap is
// exceeded.
func (s *Store) Append(id string, msg Message) {
	c := s.getOrCreate(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.append(msg, s.maxMessages)
}

// AppendExchange atomically appends a user/assistant pair so a concurrent
// turn on the same session cannot interleave between them.
func (s *Store) AppendExchange(id string, user, assistant Message) {
	c := s.getOrCreate(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.append(user, s.maxMessages)
	c.append(assistant, s.maxMessages)
}

func (c *conversation) append(msg Message, max int) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.messages = append(c.messages, msg)
	if over := len(c.messages) - max; over > 0 {
		c.messages = append([]Message(nil), c.messages[over:]...)
	}
}

// Window returns the most recent n messages in chronological order without
// mutating the session.
func (s *Store) Window(id string, n int) []Message {
	s.mu.RLock()
	c, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || n <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	start := len(c.messages) - n
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), c.messages[start:]...)
}

// Len reports the stored history length for a session.
func (s *Store) Len(id string) int {
	s.mu.RLock()
	c, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Delete drops a session, typically on connection close.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Count reports the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
