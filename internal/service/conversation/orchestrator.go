// Package conversation implements the send-message flow that ties the
// message log, persistence, the hosted model and speech output together.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/identity"
	"github.com/zhouzirui/jervis/backend/internal/service/persistence"
)

// Conversationalist returns the model reply for one utterance.
type Conversationalist interface {
	Converse(ctx context.Context, userText string) (string, error)
}

// MessageLog stores and renders turns; assistant turns are spoken by the log.
type MessageLog interface {
	Append(ctx context.Context, sender chat.Sender, text string) (chat.Turn, error)
}

// Speaker is speech output.
type Speaker interface {
	Speak(ctx context.Context, text string)
}

// InputView is the typed-input surface: the text field and the loading indicator.
type InputView interface {
	ClearInput()
	SetLoading(visible bool)
}

var errEmptyReply = errors.New("empty reply")

// Outcome tells which of the four exclusive results a call produced.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeRendered
	OutcomeSpoken
	OutcomeApologyRendered
	OutcomeApologySpoken
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRendered:
		return "rendered"
	case OutcomeSpoken:
		return "spoken"
	case OutcomeApologyRendered:
		return "apology_rendered"
	case OutcomeApologySpoken:
		return "apology_spoken"
	default:
		return "ignored"
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Log      MessageLog
	Sink     persistence.Sink
	AI       Conversationalist
	Speaker  Speaker
	Identity identity.Identity
	Apology  string
}

// Orchestrator runs SendMessage calls one at a time.
type Orchestrator struct {
	deps Deps
	slot chan struct{}

	mu    sync.RWMutex
	input InputView
}

// New returns an Orchestrator over deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, slot: make(chan struct{}, 1)}
}

// SetInputView swaps the typed-input surface. nil disables it.
func (o *Orchestrator) SetInputView(v InputView) {
	o.mu.Lock()
	o.input = v
	o.mu.Unlock()
}

func (o *Orchestrator) inputView() InputView {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.input
}

// SendMessage handles one utterance. Whitespace-only text is ignored.
// Concurrent calls wait for the running one to finish; ctx bounds the wait.
// The returned error is non-nil only when the flow could not run, the log
// refused a turn or ctx was canceled during the model call; other model and
// persistence failures degrade as described by the Outcome.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, origin chat.Origin) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return OutcomeIgnored, nil
	}

	select {
	case o.slot <- struct{}{}:
	case <-ctx.Done():
		return OutcomeIgnored, ctx.Err()
	}
	defer func() { <-o.slot }()

	typed := origin == chat.OriginTyped
	input := o.inputView()

	if typed {
		if _, err := o.deps.Log.Append(ctx, chat.SenderUser, text); err != nil {
			return OutcomeIgnored, fmt.Errorf("append user turn: %w", err)
		}
		if input != nil {
			input.ClearInput()
		}
	}

	o.persist(ctx, text)

	if typed && input != nil {
		input.SetLoading(true)
		defer input.SetLoading(false)
	}

	reply, err := o.deps.AI.Converse(ctx, text)
	if err == nil && reply != "" {
		if !typed {
			o.deps.Speaker.Speak(ctx, reply)
			return OutcomeSpoken, nil
		}
		if _, err := o.deps.Log.Append(ctx, chat.SenderAssistant, reply); err != nil {
			return OutcomeIgnored, fmt.Errorf("append assistant turn: %w", err)
		}
		return OutcomeRendered, nil
	}

	if errors.Is(err, context.Canceled) {
		// 调用方已放弃，没人会看到这条道歉
		slog.Info("AI response abandoned", "origin", origin)
		return OutcomeIgnored, err
	}
	if err == nil {
		err = errEmptyReply
	}
	slog.Error("Error generating AI response", "origin", origin, "err", err)
	if !typed {
		o.deps.Speaker.Speak(ctx, o.deps.Apology)
		return OutcomeApologySpoken, nil
	}
	if _, err := o.deps.Log.Append(ctx, chat.SenderAssistant, o.deps.Apology); err != nil {
		return OutcomeIgnored, fmt.Errorf("append apology turn: %w", err)
	}
	return OutcomeApologyRendered, nil
}

func (o *Orchestrator) persist(ctx context.Context, text string) {
	if o.deps.Sink == nil {
		return
	}
	id := o.deps.Identity
	if err := o.deps.Sink.Record(identity.WithIdentity(ctx, id), chat.NewRecord(text, id.ID)); err != nil {
		slog.Error("Error adding message record", "sender", id.ID, "err", err)
	}
}
