// Package main is the entry point for the realtime sync API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/aggregate"
	"github.com/capitalize-ai/realtime-sync/internal/authz"
	"github.com/capitalize-ai/realtime-sync/internal/config"
	"github.com/capitalize-ai/realtime-sync/internal/handler"
	"github.com/capitalize-ai/realtime-sync/internal/media"
	"github.com/capitalize-ai/realtime-sync/internal/middleware"
	"github.com/capitalize-ai/realtime-sync/internal/pipeline"
	"github.com/capitalize-ai/realtime-sync/internal/presence"
	"github.com/capitalize-ai/realtime-sync/internal/store"
	"github.com/capitalize-ai/realtime-sync/internal/stream"
	"github.com/capitalize-ai/realtime-sync/internal/transcribe"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting realtime sync server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "realtime-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS, retrying while the broker comes up
	transport, err := connectTransport(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer transport.Close()

	publisher := stream.NewChangePublisher(transport)
	router := stream.NewRouter(transport, log)

	// Select the backing store
	var st store.Store
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN, publisher, log)
		if err != nil {
			log.Error("failed to connect to Postgres", zap.Error(err))
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
		log.Info("using Postgres store")
	} else {
		st = store.NewMemoryStore(publisher, log)
		log.Warn("POSTGRES_DSN not set, using in-memory store")
	}

	// Core components
	gate := authz.NewGate(st)
	aggregator := aggregate.NewAggregator(st, log)
	pipe := pipeline.New(st, gate, aggregator, log)

	tracker := presence.NewTracker(transport, presence.Config{
		HeartbeatInterval: cfg.PresenceHeartbeat,
		LivenessMisses:    cfg.PresenceMisses,
	}, log)
	defer tracker.Close()

	signer, err := media.NewSigner(cfg.MediaSigningSecret, cfg.MediaBaseURL, cfg.MediaURLTTL)
	if err != nil {
		log.Error("failed to create media signer", zap.Error(err))
		os.Exit(1)
	}

	// Transcription is optional; without an API key the endpoint reports
	// itself unavailable.
	var transcriber transcribe.Transcriber
	if cfg.OpenAIAPIKey != "" {
		transcriber, err = transcribe.NewOpenAITranscriber(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create transcriber, transcription disabled", zap.Error(err))
		}
	}
	worker := transcribe.NewWorker(transcriber, pipe, cfg.MediaDir, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(transport)
	conversationHandler := handler.NewConversationHandler(pipe, log)
	messageHandler := handler.NewMessageHandler(pipe, signer, log)
	streamHandler := handler.NewStreamHandler(pipe, router, log)
	presenceHandler := handler.NewPresenceHandler(pipe, tracker, log)
	notificationHandler := handler.NewNotificationHandler(pipe, log)
	transcriptionHandler := handler.NewTranscriptionHandler(pipe, worker, log)
	mediaHandler := handler.NewMediaHandler(signer, cfg.MediaDir, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Signed media downloads (token is the authorization)
	r.Get("/media/{key}", mediaHandler.Download)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)

				// Participants
				r.Post("/participants", conversationHandler.AddParticipant)
				r.Delete("/participants/{userId}", conversationHandler.RemoveParticipant)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)

				// Change-event stream
				r.Get("/events", streamHandler.Events)

				// Typing presence
				r.Post("/typing", presenceHandler.SetTyping)
				r.Get("/typing", presenceHandler.TypingStream)
			})
		})

		// Messages
		r.Route("/messages/{id}", func(r chi.Router) {
			r.Patch("/", messageHandler.Update)
			r.Get("/reactions", messageHandler.GetReactions)
			r.Put("/reactions", messageHandler.AddReaction)
			r.Delete("/reactions/{emoji}", messageHandler.RemoveReaction)
			r.Get("/media-url", messageHandler.MediaURL)
			r.Post("/transcribe", transcriptionHandler.Transcribe)
		})

		// Notifications
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Get("/events", streamHandler.Notifications)
			r.Post("/{id}/read", notificationHandler.MarkRead)
		})

		// Online presence
		r.Route("/presence", func(r chi.Router) {
			r.Post("/online", presenceHandler.SetOnline)
			r.Get("/online", presenceHandler.OnlineStream)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func connectTransport(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stream.NATSTransport, error) {
	natsCfg := stream.NATSConfig{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}

	var transport *stream.NATSTransport
	operation := func() error {
		var err error
		transport, err = stream.ConnectNATS(ctx, natsCfg, log)
		if err != nil {
			log.Warn("NATS connect attempt failed, retrying", zap.Error(err))
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return transport, nil
}
