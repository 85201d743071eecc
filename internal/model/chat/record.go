package chat

import (
	"fmt"
	"time"
)

// DefaultAppID scopes the shared collection when no app id is injected.
const DefaultAppID = "default-app-id"

// Record is the remote copy of an outgoing user utterance. It is written
// once and never read back by the conversation flow.
type Record struct {
	Text      string `json:"text"`
	SenderID  string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

// NewRecord stamps text with the sender and the current wall clock in epoch ms.
func NewRecord(text, senderID string) Record {
	return Record{
		Text:      text,
		SenderID:  senderID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// CollectionPath returns the shared message collection for appID.
func CollectionPath(appID string) string {
	if appID == "" {
		appID = DefaultAppID
	}
	return fmt.Sprintf("artifacts/%s/public/data/messages", appID)
}
