package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"player-portal/internal/auth"
	"player-portal/internal/config"
	"player-portal/internal/db"
	grpcserver "player-portal/internal/grpc"
	"player-portal/internal/handlers"
	"player-portal/internal/middleware"
	"player-portal/internal/observability"
	"player-portal/internal/presence"
	"player-portal/internal/rabbitmq"
	"player-portal/internal/repositories"
	"player-portal/internal/service"
	"player-portal/internal/telemetry"
	"player-portal/internal/ws"
)

type stores struct {
	users repositories.UserRepository
	convs repositories.ConversationRepository
	msgs  repositories.MessageRepository
	close func() error
}

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("failed to init tracing", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Error("failed to open store", slog.String("store", cfg.Store), slog.Any("error", err))
		os.Exit(1)
	}
	defer st.close()

	tracker, closeTracker := presenceTracker(ctx, cfg, st.users, log)
	defer closeTracker()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info("event publisher ready",
		slog.String("mode", rabbitmq.PublisherMode(publisher)),
		slog.String("reason", rabbitmq.PublisherNoopReason(publisher)))
	auditEmitter := telemetry.NewAuditEmitter(publisher, "audit.portal", cfg.ServiceName, cfg.Env)

	settings := service.Settings{
		OnlineWindow: cfg.Presence.OnlineWindow,
		Location:     cfg.Location(),
		AdminUserIDs: cfg.Auth.AdminUserIDs,
		AdminEmails:  cfg.Auth.AdminEmails,
	}

	hub := ws.NewHub()
	directory := service.NewDirectoryService(st.users, st.convs, tracker, hub, settings, log)
	directory.WatchConnections(hub)
	conversations := service.NewConversationService(st.users, st.convs, tracker, hub, settings, log)
	messages := service.NewMessageService(st.users, st.convs, st.msgs, hub, settings, log)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go directory.RunPresenceSweeper(sweepCtx)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	router := setupRouter(cfg, routerDeps{
		verifier:      verifier,
		directory:     directory,
		conversations: conversations,
		messages:      messages,
		hub:           hub,
		emitter:       auditEmitter,
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := grpcserver.NewServer(log)

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			errCh <- err
			return
		}
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server stopped", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopSweep()
	grpcSrv.Shutdown(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", slog.Any("error", err))
	}
}

type routerDeps struct {
	verifier      *auth.Verifier
	directory     *service.DirectoryService
	conversations *service.ConversationService
	messages      *service.MessageService
	hub           *ws.Hub
	emitter       *telemetry.AuditEmitter
}

func setupRouter(cfg *config.Config, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "Origin", "Accept", "X-Request-ID", "X-Device-ID"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(corsConfig))
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userHandler := handlers.NewUserHandler(deps.directory, deps.emitter)
	conversationHandler := handlers.NewConversationHandler(deps.conversations, deps.emitter)
	messageHandler := handlers.NewMessageHandler(deps.messages)
	wsHandler := ws.NewHandler(deps.hub, deps.verifier, deps.directory, allowOrigins(cfg.HTTP.CORSOrigins), cfg.Presence.OnlineWindow/2)

	authMiddleware := middleware.AuthMiddleware(deps.verifier, deps.directory)

	api := router.Group("/", authMiddleware)
	api.POST("/session", userHandler.Session)
	api.GET("/me", userHandler.Me)
	api.PATCH("/me", userHandler.UpdateMe)
	api.DELETE("/me", userHandler.DeleteMe)
	api.POST("/presence/heartbeat", userHandler.Heartbeat)
	api.GET("/users", userHandler.ListUsers)

	api.GET("/conversations", conversationHandler.List)
	api.GET("/channels", conversationHandler.ListChannels)
	api.GET("/invitations", conversationHandler.ListInvitations)
	api.POST("/conversations/direct", conversationHandler.CreateDirect)
	api.POST("/conversations/group", conversationHandler.CreateGroup)
	api.POST("/channels", middleware.RequireAdmin(), conversationHandler.CreateChannel)
	api.GET("/conversations/:conversation_id", conversationHandler.Get)
	api.POST("/conversations/:conversation_id/invitations", conversationHandler.Invite)
	api.POST("/conversations/:conversation_id/accept", conversationHandler.Accept)
	api.POST("/conversations/:conversation_id/decline", conversationHandler.Decline)
	api.POST("/conversations/:conversation_id/read", conversationHandler.MarkRead)
	api.PATCH("/conversations/:conversation_id", middleware.RequireAdmin(), conversationHandler.Rename)
	api.DELETE("/conversations/:conversation_id", middleware.RequireAdmin(), conversationHandler.Delete)

	api.GET("/conversations/:conversation_id/messages", messageHandler.List)
	api.POST("/conversations/:conversation_id/messages", messageHandler.Send)
	api.POST("/messages/:message_id/status", messageHandler.SetStatus)
	api.POST("/messages/:message_id/votes", messageHandler.Vote)
	api.GET("/proposals", messageHandler.ListProposals)

	admin := api.Group("/admin", middleware.RequireAdmin())
	admin.GET("/users", userHandler.AdminListUsers)
	admin.DELETE("/users/:user_id", userHandler.AdminDeleteUser)
	admin.GET("/conversations", conversationHandler.AdminList)
	admin.GET("/proposals", messageHandler.AdminListProposals)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, deps.emitter, deps.verifier, cfg.DebugRoutes)
	return router
}

func openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	if cfg.Store == "memory" {
		mem := repositories.NewMemoryStore()
		return stores{users: mem, convs: mem, msgs: mem, close: func() error { return nil }}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		return stores{}, err
	}
	return stores{
		users: repositories.NewUserRepo(database),
		convs: repositories.NewConversationRepo(database),
		msgs:  repositories.NewMessageRepo(database),
		close: database.Close,
	}, nil
}

func presenceTracker(ctx context.Context, cfg *config.Config, users repositories.UserRepository, log *slog.Logger) (presence.Tracker, func()) {
	if cfg.RedisURL == "" {
		return presence.NewStoreTracker(users), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, presence kept in the store", slog.String("addr", cfg.RedisURL), slog.Any("error", err))
		_ = client.Close()
		return presence.NewStoreTracker(users), func() {}
	}
	return presence.NewRedisTracker(client), func() { _ = client.Close() }
}

func allowOrigins(origins []string) func(string) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(origin string) bool {
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}
