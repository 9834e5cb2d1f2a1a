package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/broker/local"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/fanout"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/push"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and the local broker (no external services required)")
	flag.Parse()

	logger.Info("starting sync API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	vapidKeys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
	if err != nil {
		logger.Errorf("vapid keys: %v", err)
		os.Exit(1)
	}
	notifier := push.NewNotifier(pushRepo, vapidKeys, "mailto:ops@chatrelay.dev")

	// Broker: the managed service when configured, the in-process WebSocket
	// hub otherwise.
	var (
		b     broker.Broker
		hub   *local.Hub
		hubWg sync.WaitGroup
	)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	if cfg.Broker.Managed() {
		b = broker.NewPusherBroker(cfg.Broker.AppID, cfg.Broker.Key, cfg.Broker.Secret, cfg.Broker.Cluster)
		logger.Info("using managed broker")
	} else {
		key := cfg.Broker.Key
		if key == "" {
			key = "local-key"
		}
		secret := cfg.Broker.Secret
		if secret == "" {
			secret = "local-secret"
		}
		hub = local.NewHub(cfg.MaxWSConnections, key, secret)
		hubWg.Add(1)
		go func() {
			defer hubWg.Done()
			hub.Run(hubCtx)
		}()
		b = local.NewBroker(hub, key, secret)
		logger.Info("using local broker bridge on /ws")
	}

	authorizer := broker.NewAuthorizer(convRepo, userRepo)
	publisher := fanout.NewPublisher(b, convRepo, notifier)

	var sessions storage.SessionStore
	if *dev {
		mem := storage.NewMemorySessionStore()
		seedDev(pool, mem)
		sessions = mem
	} else {
		redisClient := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
		defer redisClient.Close()
		sessions = storage.NewRedisSessionStore(redisClient)
	}

	userH := handler.NewUserHandler(userRepo)
	convH := handler.NewConversationHandler(convRepo, msgRepo, userRepo)
	msgH := handler.NewMessageHandler(msgRepo, convRepo, publisher)
	typingH := handler.NewTypingHandler(convRepo, userRepo, publisher)
	authH := handler.NewBrokerAuthHandler(authorizer, b)
	pushH := handler.NewPushHandler(pushRepo, vapidKeys)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket upgrades: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade 500s.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))

		r.Get("/api/users/me", userH.GetMe)
		r.Get("/api/users/search", userH.SearchUsers)

		r.Post("/api/conversations", convH.CreateConversation)
		r.Get("/api/conversations", convH.ListConversations)
		r.Get("/api/conversations/{conversationId}", convH.GetConversation)
		r.Post("/api/conversations/{conversationId}/participants", convH.AddParticipant)
		r.Delete("/api/conversations/{conversationId}", convH.LeaveConversation)

		r.Get("/api/conversations/{conversationId}/messages", msgH.ListMessages)
		r.Post("/api/conversations/{conversationId}/messages", msgH.SendMessage)
		r.Patch("/api/messages/{messageId}", msgH.EditMessage)
		r.Delete("/api/messages/{messageId}", msgH.DeleteMessage)
		r.Post("/api/messages/{messageId}/read", msgH.MarkRead)

		r.Post("/api/conversations/{conversationId}/typing", typingH.Typing)

		r.Post("/api/broker/auth", authH.Authorize)

		r.Get("/api/push/vapid-public-key", pushH.VAPIDPublicKey)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		if hub != nil {
			wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
			r.Get("/ws", wsH.ServeWS)
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

// seedDev creates two demo users with fixed bearer tokens so the API is
// usable immediately in -dev mode.
func seedDev(pool *pgxpool.Pool, sessions *storage.MemorySessionStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users := []struct{ id, name, email, token string }{
		{"dev-user-alice", "Alice", "alice@chatrelay.dev", "dev-alice"},
		{"dev-user-bob", "Bob", "bob@chatrelay.dev", "dev-bob"},
	}
	for _, u := range users {
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, name, email, created_at) VALUES ($1, $2, $3, now())
			 ON CONFLICT (id) DO NOTHING`, u.id, u.name, u.email)
		if err != nil {
			logger.Errorf("seed dev user %s: %v", u.id, err)
			continue
		}
		sessions.Put(u.token, u.id)
		logger.Infof("dev user %s ready (token %q)", u.name, u.token)
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatrelay"
		password = "chatrelay_secret"
		database = "chatrelay"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
