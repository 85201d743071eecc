package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"

	"github.com/zhouzirui/jervis/backend/internal/config"
	"github.com/zhouzirui/jervis/backend/internal/handler"
	chatmodel "github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/model/persona"
	"github.com/zhouzirui/jervis/backend/internal/service/ai"
	"github.com/zhouzirui/jervis/backend/internal/service/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/conversation"
	"github.com/zhouzirui/jervis/backend/internal/service/identity"
	"github.com/zhouzirui/jervis/backend/internal/service/persistence"
	"github.com/zhouzirui/jervis/backend/internal/service/widget"
)

var logLevelMap = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	addr := cli.StringP("addr", "a", "", "Listen address, overrides PORT")
	cli.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[*logLevel],
		TimeFormat: time.Kitchen,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Failed to load env file, continuing with system environment", "file", *envFile, "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	p := persona.Lookup(personaStore, cfg.Widget.PersonaID)

	store, err := openStore(cfg.Store, cfg.Widget.AppID)
	if err != nil {
		slog.Error("Failed to open message store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer store.close()

	widgets := widget.NewManager(widget.Options{
		Auth:     newAuthenticator(cfg.Identity),
		Chats:    chat.NewService(),
		Personas: personaStore,
		Sink:     store.sink,
		AI:       newConversationalist(ctx, cfg.AI, p),
		Config:   cfg.Widget,
	})
	defer widgets.CloseAll(context.Background())

	deps := handler.Deps{
		Personas:    personaStore,
		Widgets:     widgets,
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if store.sqlite != nil {
		deps.Records = store.sqlite
		deps.Health = store.sqlite
	}

	startServer(ctx, cfg.Server, handler.NewRouter(deps))
}

func newAuthenticator(cfg config.IdentityConfig) identity.Authenticator {
	if cfg.Remote() {
		slog.Info("Using hosted identity service", "base_url", cfg.BaseURL)
		return identity.NewFirebaseAuthenticator(cfg.APIKey, cfg.BaseURL, nil)
	}
	slog.Info("FIREBASE_API_KEY not set, using local anonymous identities")
	return identity.LocalAuthenticator{}
}

// newConversationalist 返回 nil 时 widget 会对每条消息回复固定的道歉语。
func newConversationalist(ctx context.Context, cfg config.AIConfig, p persona.Persona) conversation.Conversationalist {
	if !cfg.Enabled() {
		slog.Warn("Chat model credentials not configured, every reply will be the apology", "provider", cfg.Provider)
		return nil
	}

	chatModel, err := ai.NewChatModel(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create chat model", "provider", cfg.Provider, "err", err)
		return nil
	}

	svc, err := ai.NewService(ctx, chatModel, p)
	if err != nil {
		slog.Error("Failed to initialize AI service", "err", err)
		return nil
	}

	slog.Info("AI service initialized", "provider", cfg.Provider)
	return svc
}

type messageStore struct {
	sink   persistence.Sink
	sqlite *persistence.SQLiteSink
}

func (s messageStore) close() {
	if s.sqlite == nil {
		return
	}
	if err := s.sqlite.Close(); err != nil {
		slog.Error("Failed to close database", "err", err)
	}
}

func openStore(cfg config.StoreConfig, appID string) (messageStore, error) {
	switch cfg.Driver {
	case config.StoreFirestore:
		slog.Info("Persisting messages to Firestore", "project", cfg.ProjectID, "collection", chatmodel.CollectionPath(appID))
		return messageStore{sink: persistence.NewFirestore(cfg.ProjectID, appID, cfg.BaseURL, nil)}, nil
	case config.StoreNone:
		slog.Info("Message persistence disabled")
		return messageStore{sink: persistence.Discard{}}, nil
	default:
		sink, err := persistence.NewSQLite(cfg.DBPath, appID)
		if err != nil {
			return messageStore{}, err
		}
		slog.Info("Persisting messages to SQLite", "path", cfg.DBPath, "collection", sink.Collection())
		return messageStore{sink: sink, sqlite: sink}, nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("Jervis backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		slog.Error("Server error", "err", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
