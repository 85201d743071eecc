// Package persistence appends outgoing user utterances to a shared store.
package persistence

import (
	"context"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
)

// Sink appends a record to the shared message collection. Callers treat it
// as best effort: errors are logged and never reach the user.
type Sink interface {
	Record(ctx context.Context, rec chat.Record) error
}

// Discard drops every record.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, chat.Record) error { return nil }
