package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
)

// ErrNotReplayable is returned when replay targets a user turn.
var ErrNotReplayable = errors.New("only assistant turns can be replayed")

// View renders turns. Implementations scroll to the newest entry.
type View interface {
	AppendTurn(turn chat.Turn)
}

// Speaker is the speech output the log triggers for assistant turns.
type Speaker interface {
	Speak(ctx context.Context, text string)
}

// Log is the message log of one session: it stores turns, renders them and
// speaks assistant turns as they arrive or when replayed.
type Log struct {
	svc       *Service
	sessionID string
	speaker   Speaker

	mu   sync.RWMutex
	view View
}

// NewLog binds the transcript of sessionID to speaker.
func NewLog(svc *Service, sessionID string, speaker Speaker) *Log {
	return &Log{svc: svc, sessionID: sessionID, speaker: speaker}
}

// SetView swaps the renderer. A nil view renders nothing.
func (l *Log) SetView(view View) {
	l.mu.Lock()
	l.view = view
	l.mu.Unlock()
}

// Append stores and renders a turn. Assistant turns are spoken immediately.
func (l *Log) Append(ctx context.Context, sender chat.Sender, text string) (chat.Turn, error) {
	turn, err := l.svc.AppendTurn(ctx, chat.Turn{SessionID: l.sessionID, Sender: sender, Text: text})
	if err != nil {
		return chat.Turn{}, err
	}

	l.mu.RLock()
	view := l.view
	l.mu.RUnlock()
	if view != nil {
		view.AppendTurn(turn)
	}

	if turn.Sender == chat.SenderAssistant && l.speaker != nil {
		l.speaker.Speak(ctx, turn.Text)
	}
	return turn, nil
}

// Replay speaks a stored assistant turn again.
func (l *Log) Replay(ctx context.Context, turnID string) error {
	turn, err := l.svc.FindTurn(ctx, l.sessionID, turnID)
	if err != nil {
		return err
	}
	if turn.Sender != chat.SenderAssistant {
		return ErrNotReplayable
	}
	if l.speaker != nil {
		l.speaker.Speak(ctx, turn.Text)
	}
	return nil
}

// Turns returns the transcript.
func (l *Log) Turns(ctx context.Context) ([]chat.Turn, error) {
	return l.svc.LoadTranscript(ctx, l.sessionID)
}
