package speech

// ListeningState 语音输入适配器的状态。
type ListeningState int

const (
	StateIdle ListeningState = iota
	StateListening
)

func (s ListeningState) String() string {
	if s == StateListening {
		return "listening"
	}
	return "idle"
}

// DefaultLanguage is the spoken language used for both recognition and synthesis.
const DefaultLanguage = "hi-IN"

// RecognitionConfig is handed to the recognition engine on every start.
type RecognitionConfig struct {
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interimResults"`
	Lang           string `json:"lang"`
}

// SingleUtterance returns the configuration used by the listener: one
// utterance per session, final results only.
func SingleUtterance(lang string) RecognitionConfig {
	if lang == "" {
		lang = DefaultLanguage
	}
	return RecognitionConfig{Continuous: false, InterimResults: false, Lang: lang}
}

// Utterance is one unit of synthesized speech.
type Utterance struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Lang string `json:"lang"`
}
