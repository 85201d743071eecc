// Package widget assembles the per-page-load runtime: identity, message log,
// speech adapters and the send-message flow of one widget session.
package widget

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/jervis/backend/internal/service/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/conversation"
	"github.com/zhouzirui/jervis/backend/internal/service/identity"
	"github.com/zhouzirui/jervis/backend/internal/service/speech"
)

// Client is a live renderer attached to a widget. It renders turns and the
// input affordances and fronts the platform speech engines.
type Client interface {
	chatservice.View
	speech.Voice
	speech.Recognizer
	speech.StatusView
	conversation.InputView
}

// Widget is one widget session.
type Widget struct {
	session  chat.Session
	identity identity.Identity
	persona  persona.Persona

	log      *chatservice.Log
	speaker  *speech.Speaker
	listener *speech.Listener
	orch     *conversation.Orchestrator

	cancel  context.CancelFunc
	stopped chan struct{}

	mu     sync.Mutex
	client Client

	// 无客户端连接的起始时间，连接中为零值
	idleSince time.Time
}

// ID returns the session id.
func (w *Widget) ID() string { return w.session.ID }

// Session returns the chat session backing the widget.
func (w *Widget) Session() chat.Session { return w.session }

// Identity returns the identity established at bootstrap. It is empty when
// bootstrap failed.
func (w *Widget) Identity() identity.Identity { return w.identity }

// Persona returns the assistant persona.
func (w *Widget) Persona() persona.Persona { return w.persona }

// SendMessage runs the send-message flow for text.
func (w *Widget) SendMessage(ctx context.Context, text string, origin chat.Origin) (conversation.Outcome, error) {
	return w.orch.SendMessage(ctx, text, origin)
}

// Turns returns the rendered transcript.
func (w *Widget) Turns(ctx context.Context) ([]chat.Turn, error) {
	return w.log.Turns(ctx)
}

// Replay speaks an assistant turn again.
func (w *Widget) Replay(ctx context.Context, turnID string) error {
	return w.log.Replay(ctx, turnID)
}

// ToggleMic is the microphone button.
func (w *Widget) ToggleMic(ctx context.Context) error {
	return w.listener.Dispatch(ctx, speech.Event{Kind: speech.EventToggle})
}

// Recognition feeds a recognition engine callback to the listener.
func (w *Widget) Recognition(ctx context.Context, ev speech.Event) error {
	return w.listener.Dispatch(ctx, ev)
}

// SpeechEnded reports the end of an utterance.
func (w *Widget) SpeechEnded(utteranceID string) {
	w.speaker.Finished(utteranceID)
}

// Listening reports the listening state.
func (w *Widget) Listening() bool {
	return w.listener.SessionActive()
}

// Attach plugs c in, replacing any previous client.
func (w *Widget) Attach(c Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.client = c
	w.idleSince = time.Time{}
	w.bind(c)
}

// Detach unplugs c. It is a no-op when c is no longer the attached client.
func (w *Widget) Detach(c Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != c {
		return
	}
	w.client = nil
	w.idleSince = time.Now()
	w.bind(nil)
}

// idleFor reports how long the widget has had no client at now.
func (w *Widget) idleFor(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil || w.idleSince.IsZero() {
		return 0
	}
	return now.Sub(w.idleSince)
}

func (w *Widget) bind(c Client) {
	if c == nil {
		w.log.SetView(nil)
		w.speaker.SetVoice(nil)
		w.listener.Attach(nil, nil)
		w.orch.SetInputView(nil)
		return
	}
	w.log.SetView(c)
	w.speaker.SetVoice(c)
	w.listener.Attach(c, c)
	w.orch.SetInputView(c)
}

func (w *Widget) close() {
	w.mu.Lock()
	w.client = nil
	w.bind(nil)
	w.mu.Unlock()
	w.cancel()
	<-w.stopped
}
