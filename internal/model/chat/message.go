package chat

import "time"

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Turn is one rendered entry of the message log. Turns are append-only.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Origin 表示一条输入来自键盘还是语音识别。
type Origin int

const (
	OriginTyped Origin = iota
	OriginVoice
)

func (o Origin) String() string {
	if o == OriginVoice {
		return "voice"
	}
	return "typed"
}
