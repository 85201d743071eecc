package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/jervis/backend/internal/config"
	"github.com/zhouzirui/jervis/backend/internal/model/persona"
	"github.com/zhouzirui/jervis/backend/internal/service/persistence"
)

func TestOpenStore(t *testing.T) {
	none, err := openStore(config.StoreConfig{Driver: config.StoreNone}, "app")
	if err != nil {
		t.Fatalf("openStore none: %v", err)
	}
	if _, ok := none.sink.(persistence.Discard); !ok || none.sqlite != nil {
		t.Fatalf("expected discard sink, got %T", none.sink)
	}

	sqlite, err := openStore(config.StoreConfig{
		Driver: config.StoreSQLite,
		DBPath: filepath.Join(t.TempDir(), "nested", "jervis.db"),
	}, "app")
	if err != nil {
		t.Fatalf("openStore sqlite: %v", err)
	}
	defer sqlite.close()
	if sqlite.sqlite == nil || sqlite.sqlite.Collection() != "artifacts/app/public/data/messages" {
		t.Fatalf("unexpected sqlite store %+v", sqlite)
	}
}

func TestNewConversationalistWithoutCredentials(t *testing.T) {
	if c := newConversationalist(context.Background(), config.AIConfig{Provider: config.ProviderGemini}, persona.Default()); c != nil {
		t.Fatalf("expected nil conversationalist, got %T", c)
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServer returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not stop")
	}
}
