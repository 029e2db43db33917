package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/omniguard-ai/omniguard/internal/config"
	"github.com/omniguard-ai/omniguard/internal/handler"
	"github.com/omniguard-ai/omniguard/internal/model/rules"
	"github.com/omniguard-ai/omniguard/internal/service/agent"
	"github.com/omniguard-ai/omniguard/internal/service/audit"
	chatservice "github.com/omniguard-ai/omniguard/internal/service/conversation"
	"github.com/omniguard-ai/omniguard/internal/service/moderation"
	"github.com/omniguard-ai/omniguard/internal/service/orchestrator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if !cfg.Guard.Enabled() {
		log.Fatal("guard models not configured: set ARK_API_KEY (or AK/SK), GUARD_MODERATION_MODEL and GUARD_AGENT_MODEL")
	}

	provider, err := loadRules(cfg.Guard)
	if err != nil {
		log.Fatalf("failed to load moderation rules: %v", err)
	}

	moderationModel, err := cfg.Guard.NewChatModel(ctx, cfg.Guard.ModerationModel)
	if err != nil {
		log.Fatalf("failed to create moderation model: %v", err)
	}
	moderationClient, err := moderation.NewClient(ctx, moderationModel)
	if err != nil {
		log.Fatalf("failed to initialize moderation client: %v", err)
	}

	agentModel, err := cfg.Guard.NewChatModel(ctx, cfg.Guard.AgentModel)
	if err != nil {
		log.Fatalf("failed to create agent model: %v", err)
	}
	agentClient, err := agent.NewService(ctx, agentModel)
	if err != nil {
		log.Fatalf("failed to initialize agent client: %v", err)
	}

	orch := orchestrator.New(
		provider,
		moderationClient,
		agentClient,
		audit.LogSink{},
		orchestrator.WithModerationTimeout(cfg.Guard.ModerationTimeout),
		orchestrator.WithAgentTimeout(cfg.Guard.AgentTimeout),
	)

	chatService := chatservice.NewService(orch, cfg.Guard.AgentPrompt)
	router := handler.NewRouter(chatService)

	startServer(ctx, cfg.Server, router)
}

func loadRules(cfg config.GuardConfig) (rules.Provider, error) {
	if cfg.RulesFile != "" {
		log.Printf("loading moderation rules from %s", cfg.RulesFile)
		return rules.FromFile(cfg.RulesFile)
	}
	return rules.NewStaticProvider(rules.Default()), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("OmniGuard backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
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
