package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zhouzirui/jervis/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/jervis/backend/internal/model/speech"
)

// Recognizer is the platform speech-to-text engine. Its lifecycle callbacks
// come back to the Listener as events.
type Recognizer interface {
	Supported() bool
	Start(ctx context.Context, cfg speechmodel.RecognitionConfig) error
	Stop(ctx context.Context) error
}

// StatusView renders the listening affordances.
type StatusView interface {
	SetListening(listening bool, status string)
	Notice(message string)
}

// TranscriptHandler receives every recognized utterance as voice input.
type TranscriptHandler func(ctx context.Context, transcript string)

// EventKind enumerates the inputs of the listening state machine.
type EventKind int

const (
	EventToggle EventKind = iota
	EventStarted
	EventResult
	EventError
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventToggle:
		return "toggle"
	case EventStarted:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnded:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one input of the state machine: a mic toggle or an engine callback.
type Event struct {
	Kind       EventKind
	Transcript string
	Err        error
}

// ErrListenerClosed is returned by Dispatch after Run has exited.
var ErrListenerClosed = errors.New("listener closed")

// Listener is the speech input adapter. Continuous listening is simulated
// by restarting a single-utterance session every time the engine ends while
// the state is still listening.
type Listener struct {
	mu           sync.Mutex
	recognizer   Recognizer
	view         StatusView
	speaker      *Speaker
	onTranscript TranscriptHandler
	persona      persona.Persona
	config       speechmodel.RecognitionConfig

	state    speechmodel.ListeningState
	starting bool

	events   chan Event
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewListener wires the state machine. recognizer and view may be nil until
// a client attaches.
func NewListener(p persona.Persona, speaker *Speaker, onTranscript TranscriptHandler) *Listener {
	return &Listener{
		speaker:      speaker,
		onTranscript: onTranscript,
		persona:      p,
		config:       speechmodel.SingleUtterance(p.Language),
		events:       make(chan Event, 16),
		done:         make(chan struct{}),
	}
}

// Attach plugs in the engine and the status view. Attaching resets the
// machine to idle.
func (l *Listener) Attach(recognizer Recognizer, view StatusView) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recognizer = recognizer
	l.view = view
	l.state = speechmodel.StateIdle
	l.starting = false
}

// State returns the current listening state.
func (l *Listener) State() speechmodel.ListeningState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SessionActive reports whether a recognition session has been requested
// and not stopped.
func (l *Listener) SessionActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starting || l.state == speechmodel.StateListening
}

// Dispatch queues ev for Run.
func (l *Listener) Dispatch(ctx context.Context, ev Event) error {
	select {
	case <-l.done:
		return ErrListenerClosed
	default:
	}
	select {
	case l.events <- ev:
		return nil
	case <-l.done:
		return ErrListenerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued events one at a time until ctx is done. It returns
// after every transcript handler it started has returned.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.inflight.Wait()
			return ctx.Err()
		case ev := <-l.events:
			l.Handle(ctx, ev)
		}
	}
}

// Handle applies a single event synchronously.
func (l *Listener) Handle(ctx context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Kind {
	case EventToggle:
		l.toggle(ctx)
	case EventStarted:
		if !l.starting {
			return
		}
		l.starting = false
		l.state = speechmodel.StateListening
		l.render()
	case EventResult:
		if l.state != speechmodel.StateListening || ev.Transcript == "" {
			return
		}
		slog.Info("Transcript", "text", ev.Transcript)
		if l.onTranscript != nil {
			l.inflight.Add(1)
			go func(text string) {
				defer l.inflight.Done()
				l.onTranscript(ctx, text)
			}(ev.Transcript)
		}
	case EventError:
		slog.Error("Speech recognition error", "err", ev.Err)
		if l.state != speechmodel.StateListening && !l.starting {
			return
		}
		l.reset()
		l.speaker.Speak(ctx, l.persona.VoiceInputApology)
	case EventEnded:
		if l.state != speechmodel.StateListening {
			// 引擎没报 start 就结束了，下一次点击应重新开始
			if l.starting {
				l.reset()
			}
			return
		}
		l.start(ctx)
	}
}

func (l *Listener) toggle(ctx context.Context) {
	if l.recognizer == nil || !l.recognizer.Supported() {
		if l.view != nil {
			l.view.Notice(l.persona.UnsupportedNotice)
		}
		return
	}

	if l.state == speechmodel.StateListening || l.starting {
		if err := l.recognizer.Stop(ctx); err != nil {
			slog.Warn("Failed to stop recognition", "err", err)
		}
		l.reset()
		l.speaker.Speak(ctx, l.persona.StopAck)
		return
	}

	l.starting = true
	l.start(ctx)
}

// start asks the engine for a new session. A refused start is treated like
// an engine error.
func (l *Listener) start(ctx context.Context) {
	if err := l.recognizer.Start(ctx, l.config); err != nil {
		slog.Error("Failed to start recognition", "err", err)
		l.reset()
		l.speaker.Speak(ctx, l.persona.VoiceInputApology)
	}
}

func (l *Listener) reset() {
	l.starting = false
	l.state = speechmodel.StateIdle
	l.render()
}

func (l *Listener) render() {
	if l.view == nil {
		return
	}
	if l.state == speechmodel.StateListening {
		l.view.SetListening(true, l.persona.ListeningStatus)
		return
	}
	l.view.SetListening(false, l.persona.IdleStatus)
}
