package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnNotFound    = errors.New("turn not found")
	ErrInvalidSender   = errors.New("invalid sender")
	ErrEmptyText       = errors.New("text is required")
)

// Service keeps widget sessions and their append-only transcripts in memory.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	turns    map[string][]chat.Turn
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		turns:    make(map[string][]chat.Turn),
	}
}

// CreateSession provisions a session for userID talking to personaID.
// userID may be empty when identity bootstrap failed.
func (s *Service) CreateSession(_ context.Context, userID, personaID string) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		PersonaID: personaID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]chat.Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// DeleteSession drops a session and its transcript.
func (s *Service) DeleteSession(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
	s.mu.Unlock()
}

// AppendTurn assigns an id and timestamp to turn and appends it to the
// session transcript.
func (s *Service) AppendTurn(_ context.Context, turn chat.Turn) (chat.Turn, error) {
	if !turn.Sender.Valid() {
		return chat.Turn{}, ErrInvalidSender
	}
	if strings.TrimSpace(turn.Text) == "" {
		return chat.Turn{}, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[turn.SessionID]; !ok {
		return chat.Turn{}, ErrSessionNotFound
	}

	turn.ID = uuid.NewString()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript returns the turns of the session in chronological order.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

// FindTurn looks up one turn of a session.
func (s *Service) FindTurn(_ context.Context, sessionID, turnID string) (chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return chat.Turn{}, ErrSessionNotFound
	}
	for _, turn := range turns {
		if turn.ID == turnID {
			return turn, nil
		}
	}
	return chat.Turn{}, ErrTurnNotFound
}
