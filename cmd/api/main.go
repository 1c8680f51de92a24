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

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/fireworks-chat/backend/internal/config"
	"github.com/zhouzirui/fireworks-chat/backend/internal/handler"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/plan"
	"github.com/zhouzirui/fireworks-chat/backend/internal/service/ai"
	"github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
	identityservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/identity"
	titleservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/title"
	"github.com/zhouzirui/fireworks-chat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Account store and identity provider
	repo, err := store.NewSQLite(cfg.Store.DBPath)
	if err != nil {
		log.Fatalf("failed to open account store: %v", err)
	}
	defer repo.Close()

	plans := plan.NewMemoryStore(plan.Seed())
	identities := identityservice.NewProvider(repo, plans)

	// Initialize AI service
	var completer chat.Completer = unavailableCompleter{}
	var chatModel model.BaseChatModel
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			completer = aiService
			chatModel = aiService.ChatModel()
			log.Printf("AI service initialized successfully (streaming=%t)", aiService.StreamingEnabled())
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	// Conversation titles (LLM namer with keyword fallback)
	titleSvc, err := titleservice.NewService(ctx, chatModel, titleservice.Config{Enabled: cfg.AI.TitleLLMEnabled})
	if err != nil {
		log.Fatalf("failed to initialize title service: %v", err)
	}
	if titleSvc.Enabled() {
		log.Println("LLM title service enabled")
	} else {
		log.Println("LLM title service disabled, using keyword titles")
	}

	chatService := chat.NewService(completer, identities, chat.Config{
		Greeting: cfg.Chat.Greeting,
		Titler:   titleSvc,
		ModelFor: modelSelector(cfg.AI, plans),
	})
	defer chatService.Close()

	router := handler.NewRouter(cfg.HTTP, handler.Services{
		Plans:      plans,
		Identities: identities,
		Chat:       chatService,
		Store:      repo,
	})

	startServer(ctx, cfg.Server, router)
}

// modelSelector routes identities on premium plans to the premium model.
func modelSelector(aiCfg config.AIConfig, plans plan.Store) func(*identity.Identity) string {
	return func(id *identity.Identity) string {
		if id == nil {
			return aiCfg.ModelFor(false)
		}
		p, ok := plans.FindByID(id.Plan)
		return aiCfg.ModelFor(ok && p.Premium)
	}
}

// unavailableCompleter fails every request so replies resolve with the fallback message.
type unavailableCompleter struct{}

func (unavailableCompleter) StreamCompletion(context.Context, chat.GenerationRequest) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("ai service unavailable")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Fire Works AI backend listening on %s", addr)
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
