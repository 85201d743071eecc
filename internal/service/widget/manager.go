package widget

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/jervis/backend/internal/config"
	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/jervis/backend/internal/service/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/conversation"
	"github.com/zhouzirui/jervis/backend/internal/service/identity"
	"github.com/zhouzirui/jervis/backend/internal/service/persistence"
	"github.com/zhouzirui/jervis/backend/internal/service/speech"
)

var (
	// ErrWidgetNotFound is returned for unknown session ids.
	ErrWidgetNotFound = errors.New("widget session not found")
	// ErrModelUnavailable is what every reply fails with when no chat model
	// is configured.
	ErrModelUnavailable = errors.New("chat model unavailable")
)

type offline struct{}

func (offline) Converse(context.Context, string) (string, error) {
	return "", ErrModelUnavailable
}

// Options are the process-wide collaborators shared by every widget.
type Options struct {
	Auth     identity.Authenticator
	Chats    *chatservice.Service
	Personas persona.Store
	Sink     persistence.Sink
	AI       conversation.Conversationalist
	Config   config.WidgetConfig
}

// Manager opens and tracks widget sessions.
type Manager struct {
	opts Options

	mu      sync.RWMutex
	widgets map[string]*Widget

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager returns a Manager. Missing collaborators fall back to local
// identities, discarded records, in-memory chats and a model that always
// fails, so every reply becomes the apology.
func NewManager(opts Options) *Manager {
	if opts.AI == nil {
		opts.AI = offline{}
	}
	if opts.Auth == nil {
		opts.Auth = identity.LocalAuthenticator{}
	}
	if opts.Sink == nil {
		opts.Sink = persistence.Discard{}
	}
	if opts.Chats == nil {
		opts.Chats = chatservice.NewService()
	}
	if opts.Personas == nil {
		opts.Personas = persona.NewMemoryStore(persona.Seed())
	}
	m := &Manager{opts: opts, widgets: make(map[string]*Widget), stop: make(chan struct{})}
	if opts.Config.IdleTimeout > 0 {
		go m.reapLoop(opts.Config.IdleTimeout)
	}
	return m
}

// Open bootstraps a widget session. token overrides the configured initial
// token. The session expires once it has had no attached client for the
// configured idle timeout. A failed bootstrap is logged and leaves the identity unset; the
// widget still opens.
func (m *Manager) Open(ctx context.Context, token string) (*Widget, error) {
	if token == "" {
		token = m.opts.Config.InitialToken
	}

	id, err := identity.Bootstrap(ctx, m.opts.Auth, token)
	if err != nil {
		id = identity.Identity{}
	}

	p := persona.Lookup(m.opts.Personas, m.opts.Config.PersonaID)
	if m.opts.Config.Language != "" {
		p.Language = m.opts.Config.Language
	}

	session, err := m.opts.Chats.CreateSession(ctx, id.ID, p.ID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	// 页面拿到会话后还没连上 websocket 也算空闲
	w := &Widget{
		session:   session,
		identity:  id,
		persona:   p,
		speaker:   speech.NewSpeaker(nil, p.Language),
		cancel:    cancel,
		stopped:   make(chan struct{}),
		idleSince: time.Now(),
	}
	w.log = chatservice.NewLog(m.opts.Chats, session.ID, w.speaker)
	w.orch = conversation.New(conversation.Deps{
		Log:      w.log,
		Sink:     m.opts.Sink,
		AI:       m.opts.AI,
		Speaker:  w.speaker,
		Identity: id,
		Apology:  p.Apology,
	})
	w.listener = speech.NewListener(p, w.speaker, func(ctx context.Context, transcript string) {
		if _, err := w.orch.SendMessage(ctx, transcript, chat.OriginVoice); err != nil {
			slog.Error("Voice message failed", "session", session.ID, "err", err)
		}
	})
	go func() {
		defer close(w.stopped)
		_ = w.listener.Run(runCtx)
	}()

	m.mu.Lock()
	m.widgets[session.ID] = w
	m.mu.Unlock()

	slog.Info("Widget session opened", "session", session.ID, "user", id.ID, "persona", p.ID)
	return w, nil
}

// Get returns the widget of sessionID.
func (m *Manager) Get(sessionID string) (*Widget, error) {
	m.mu.RLock()
	w, ok := m.widgets[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrWidgetNotFound
	}
	return w, nil
}

// Close ends a widget session and drops its transcript.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	w, ok := m.widgets[sessionID]
	delete(m.widgets, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrWidgetNotFound
	}

	w.close()
	m.opts.Chats.DeleteSession(ctx, sessionID)
	slog.Info("Widget session closed", "session", sessionID)
	return nil
}

// CloseAll ends every open session and stops idle expiry.
func (m *Manager) CloseAll(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.RLock()
	ids := make([]string, 0, len(m.widgets))
	for id := range m.widgets {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Close(ctx, id)
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.widgets)
}

func (m *Manager) reapLoop(timeout time.Duration) {
	interval := min(timeout/2, time.Minute)
	if interval <= 0 {
		interval = timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.reapIdle(now, timeout)
		}
	}
}

// reapIdle closes sessions that have had no client for at least timeout.
func (m *Manager) reapIdle(now time.Time, timeout time.Duration) {
	m.mu.RLock()
	var expired []string
	for id, w := range m.widgets {
		if w.idleFor(now) >= timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		slog.Info("Widget session idle, expiring", "session", id, "timeout", timeout)
		_ = m.Close(context.Background(), id)
	}
}
