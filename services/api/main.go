package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/HasheemYodhin/ys/internal/ai"
	"github.com/HasheemYodhin/ys/internal/auth"
	"github.com/HasheemYodhin/ys/internal/chat"
	"github.com/HasheemYodhin/ys/internal/config"
	"github.com/HasheemYodhin/ys/internal/fileserver"
	"github.com/HasheemYodhin/ys/internal/handler"
	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/metrics"
	"github.com/HasheemYodhin/ys/internal/middleware"
	"github.com/HasheemYodhin/ys/internal/push"
	"github.com/HasheemYodhin/ys/internal/repository"
	"github.com/HasheemYodhin/ys/internal/repository/memory"
	"github.com/HasheemYodhin/ys/internal/startup"
	"github.com/HasheemYodhin/ys/internal/storage"
	memstorage "github.com/HasheemYodhin/ys/internal/storage/memory"
	"github.com/HasheemYodhin/ys/internal/ws"
	"github.com/HasheemYodhin/ys/migrations"
)

type repos struct {
	users repository.Users
	convs repository.Conversations
	msgs  repository.Messages
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("inmemory", false, "keep users, conversations and messages in process memory")
	seed := flag.String("seed", "", "YAML file with users to create on start")
	flag.Parse()

	cfg := config.Load()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Errorf("log level: %v", err)
	}
	logger.SetPrefix("api")
	defer logger.Sync()
	logger.Info("starting API service")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var (
		r       repos
		cleanup []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if *inMemory {
		store := memory.New()
		r = repos{users: store.Users(), convs: store.Conversations(), msgs: store.Messages()}
		logger.Info("storage: in-memory")
	} else {
		if *dev {
			db, url, err := startup.StartEmbeddedPostgres()
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			cfg.Database.URL = url
			cleanup = append(cleanup, func() { stopEmbedded(db) })
		}
		poolCfg, err := startup.PoolConfig(cfg.DatabaseURL(), cfg.DBMaxConnections())
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		pool, err := startup.ConnectDBWithRetry(rootCtx, poolCfg, 60*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		migCtx, migCancel := context.WithTimeout(rootCtx, 30*time.Second)
		applied, err := migrations.Apply(migCtx, pool)
		migCancel()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		logger.Infof("migrations applied: %s", strings.Join(applied, ", "))
		if *migrate {
			return
		}
		r = repos{
			users: repository.NewUserRepository(pool),
			convs: repository.NewConversationRepository(pool),
			msgs:  repository.NewMessageRepository(pool),
		}
	}

	// После рестарта живых соединений нет.
	resetCtx, resetCancel := context.WithTimeout(rootCtx, 5*time.Second)
	if err := r.users.ResetOnline(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()

	if *seed != "" {
		if err := seedUsers(rootCtx, r.users, *seed); err != nil {
			logger.Errorf("seed users: %v", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	subs := openSubscriptionStore(rootCtx, cfg)
	cleanup = append(cleanup, func() { _ = subs.Close() })
	var vapid *push.VAPIDKeys
	if keys, err := push.ResolveVAPIDKeys(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDKeysFile); err != nil {
		logger.Errorf("VAPID: %v, push-уведомления отключены", err)
	} else {
		vapid = keys
	}
	notifier := push.NewNotifier(subs, vapid, cfg.Push.Subscriber, m)

	hubCtx, hubCancel := context.WithCancel(rootCtx)
	hub := ws.NewHub(r.users, cfg.MaxWSConnections, m)
	svc := chat.NewService(r.convs, r.msgs, r.users, hub)
	hub.SetChat(svc)
	svc.SetPresence(hub.Presence())
	svc.SetNotifier(notifier)
	svc.SetMetrics(m)

	if !cfg.AIEnabled() {
		logger.Info("AI: GEMINI_API_KEY/GOOGLE_API_KEY не заданы, ответы YS AI отключены")
	}
	gen := ai.NewGeminiClient(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL)
	responder := ai.NewResponder(gen, svc, hub, ai.Options{
		ThinkDelay:  cfg.AI.ThinkDelay,
		TypingDelay: cfg.AI.TypingDelay,
		Limit:       rate.Limit(cfg.AI.RatePerSec),
		Burst:       cfg.AI.Burst,
	}, m)
	svc.SetReplier(responder)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize, cfg.PublicBaseURL)

	ipLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	userLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	stopCleanup := make(chan struct{})
	go ipLimiter.RunCleanup(stopCleanup)
	go userLimiter.RunCleanup(stopCleanup)

	router := newRouter(cfg, routerDeps{
		chat:      handler.NewChatHandler(svc),
		files:     handler.NewFileHandler(files),
		config:    handler.NewConfigHandler(cfg, notifier),
		push:      handler.NewPushHandler(notifier),
		ws:        handler.NewWSHandler(hub, r.users, cfg.CORSAllowedOrigins),
		verifier:  verifier,
		users:     r.users,
		metrics:   m,
		registry:  reg,
		ipLimit:   ipLimiter,
		userLimit: userLimiter,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
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
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	close(stopCleanup)
	if err := responder.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("ai responder shutdown: %v", err)
	}
	hubCancel()
	hubStopped := make(chan struct{})
	go func() {
		hubWg.Wait()
		close(hubStopped)
	}()
	select {
	case <-hubStopped:
		logger.Info("hub stopped")
	case <-time.After(10 * time.Second):
		logger.Error("hub did not stop within 10s, exiting anyway")
	}
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

type routerDeps struct {
	chat      *handler.ChatHandler
	files     *handler.FileHandler
	config    *handler.ConfigHandler
	push      *handler.PushHandler
	ws        *handler.WSHandler
	verifier  *auth.Verifier
	users     middleware.UserLookup
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	ipLimit   *middleware.RateLimiter
	userLimit *middleware.RateLimiter
}

func newRouter(cfg *config.Config, d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.Metrics(d.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).
		Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitIP(d.ipLimit))
		r.Get("/api/config/push", d.config.GetPushConfig)
		r.Get("/api/config/call", d.config.GetCallConfig)
		r.Get("/api/files/{filename}", d.files.Serve)
	})

	r.With(middleware.BearerAuth(d.verifier, d.users, true)).Get("/ws", d.ws.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(d.verifier, d.users, false))
		r.Use(middleware.RateLimitUser(d.userLimit))
		r.Route("/api/chat", func(r chi.Router) {
			r.Get("/conversations", d.chat.GetConversations)
			r.Post("/conversations", d.chat.CreateConversation)
			r.Get("/conversations/{id}/messages", d.chat.GetMessages)
			r.Post("/messages", d.chat.SendMessage)
			r.Post("/messages/{id}/vote", d.chat.Vote)
			r.Delete("/messages/{id}", d.chat.DeleteMessage)
			r.Post("/upload", d.files.Upload)
			r.Get("/users", d.chat.GetUsers)
		})
		r.Post("/api/push/subscribe", d.push.Subscribe)
		r.Delete("/api/push/subscribe", d.push.Unsubscribe)
	})

	webDist := "./web/dist"
	if info, err := os.Stat(webDist); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(webDist))
	}
	return r
}

// openSubscriptionStore: Redis, если задан REDIS_URL, иначе подписки в памяти процесса.
func openSubscriptionStore(ctx context.Context, cfg *config.Config) storage.SubscriptionStore {
	if cfg.RedisURL == "" {
		logger.Info("push: REDIS_URL не задан, подписки хранятся в памяти")
		return memstorage.New()
	}
	client, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	logger.Info("redis connected")
	return client
}

func stopEmbedded(db *embeddedpostgres.EmbeddedPostgres) {
	logger.Info("stopping embedded postgres...")
	if err := db.Stop(); err != nil {
		logger.Errorf("embedded postgres stop: %v", err)
	}
}

func spaHandler(dir string) http.HandlerFunc {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}
