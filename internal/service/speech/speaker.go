package speech

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	speechmodel "github.com/zhouzirui/jervis/backend/internal/model/speech"
)

// Voice is the platform text-to-speech engine.
type Voice interface {
	Speak(ctx context.Context, u speechmodel.Utterance) error
	Cancel(ctx context.Context) error
}

// Speaker owns the single active utterance slot of one widget session. A
// new utterance always cancels the one in flight before it starts.
type Speaker struct {
	mu     sync.Mutex
	voice  Voice
	lang   string
	active string
}

// NewSpeaker returns a Speaker for lang. voice may be nil, in which case
// Speak is a no-op until a voice is attached.
func NewSpeaker(voice Voice, lang string) *Speaker {
	if lang == "" {
		lang = speechmodel.DefaultLanguage
	}
	return &Speaker{voice: voice, lang: lang}
}

// SetVoice swaps the engine. Any utterance of the previous engine is
// forgotten.
func (s *Speaker) SetVoice(voice Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = voice
	s.active = ""
}

// Speak cancels the active utterance, if any, and speaks text.
func (s *Speaker) Speak(ctx context.Context, text string) {
	if s == nil || text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.voice == nil {
		return
	}

	if s.active != "" {
		if err := s.voice.Cancel(ctx); err != nil {
			slog.Warn("Failed to cancel utterance", "utterance", s.active, "err", err)
		}
		s.active = ""
	}

	u := speechmodel.Utterance{ID: uuid.NewString(), Text: text, Lang: s.lang}
	if err := s.voice.Speak(ctx, u); err != nil {
		slog.Error("Failed to voice out", "err", err)
		return
	}
	s.active = u.ID
}

// Finished releases the slot when the engine reports the end of utterance id.
// Reports for anything but the active utterance are ignored.
func (s *Speaker) Finished(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && id == s.active {
		s.active = ""
	}
}

// Active returns the id of the utterance currently being spoken.
func (s *Speaker) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}
