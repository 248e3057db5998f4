package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vpass-io/vpass-server/internal/http/handlers"
	mw "github.com/vpass-io/vpass-server/internal/http/middleware"
	"github.com/vpass-io/vpass-server/internal/notify"
	"github.com/vpass-io/vpass-server/internal/platform/auth"
	"github.com/vpass-io/vpass-server/internal/platform/mailer"
	"github.com/vpass-io/vpass-server/internal/realtime"
	"github.com/vpass-io/vpass-server/internal/repo/memory"
	"github.com/vpass-io/vpass-server/internal/repo/postgres"
	"github.com/vpass-io/vpass-server/internal/visitor"
	"github.com/vpass-io/vpass-server/pkg/config"
	"github.com/vpass-io/vpass-server/pkg/database"
	"github.com/vpass-io/vpass-server/pkg/events"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores
	var (
		visitorStore visitor.Store
		alertStore   visitor.AlertStore
		auditStore   realtime.AuditRecorder
	)
	switch cfg.Database.Driver {
	case "memory":
		visitorStore = memory.NewVisitorRepo()
		alertStore = memory.NewAlertRepo()
		auditStore = memory.NewAuditRepo()
		logger.Warn("using in-memory store, data will not survive a restart")
	default:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}

		visitorStore = postgres.NewVisitorRepo(pool)
		alertStore = postgres.NewAlertRepo(pool)
		auditStore = postgres.NewAuditRepo(pool)
	}

	// Event bus
	bus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	// Redis (rate limiting only; optional)
	var redisClient *redis.Client
	if opts, err := redis.ParseURL(cfg.Redis.URL); err == nil {
		opts.Password = cfg.Redis.Password
		opts.DB = cfg.Redis.DB
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting disabled", "error", err)
			redisClient = nil
		}
	}

	// Core
	engine := visitor.NewEngine(visitorStore, alertStore, bus, time.Now, cfg.Visitor.ApprovalTTL, cfg.Visitor.RefreshLimit)
	scanner := visitor.NewScanner(engine, visitorStore, bus, time.Now, cfg.Visitor.OverstayInterval, cfg.Visitor.RefreshLimit)
	expirer := visitor.NewExpirer(engine, visitorStore, bus, time.Now, cfg.Visitor.ExpireInterval, cfg.Visitor.RefreshLimit)

	// Realtime router
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	hub := realtime.NewHub(auditStore, time.Now)
	bridge := realtime.NewBridge(hub)
	if err := bridge.Subscribe(bus); err != nil {
		logger.Error("failed to subscribe realtime bridge", "error", err)
		os.Exit(1)
	}
	wsHandler := realtime.NewHandler(hub, verifier)

	// Mail
	notifier := notify.NewNotifier(buildMailer(cfg), cfg.Server.BaseURL, cfg.Email.AdminEmail)
	if err := notifier.Subscribe(bus); err != nil {
		logger.Error("failed to subscribe notifier", "error", err)
		os.Exit(1)
	}

	// HTTP
	h := handlers.New(engine, alertStore)
	createLimiter := mw.NewRateLimiter(redisClient, mw.RateLimitConfig{
		Requests: cfg.Server.RateLimitRequests,
		Window:   cfg.Server.RateLimitWindow,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.Server.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Get("/", healthHandler)
	r.Method(http.MethodGet, "/ws", wsHandler)

	r.Route("/api/visitor", func(r chi.Router) {
		r.With(createLimiter.Middleware()).Post("/", h.CreateVisitor)

		// Out-of-band decision links from the host's mail.
		r.Get("/approve/{token}", h.ApproveByToken)
		r.Get("/reject/{token}", h.RejectByToken)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireJWT(verifier))
			r.Get("/", h.ListVisitors)
			r.Get("/active", h.ListActive)
			r.Get("/gate/{gate}", h.ListByGate)
			r.Get("/{id}", h.GetVisitor)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireJWT(verifier, auth.RoleAdmin, auth.RoleHost))
			r.Post("/{id}/approve", h.Decide(true))
			r.Post("/{id}/reject", h.Decide(false))
		})
	})

	r.Route("/api/security", func(r chi.Router) {
		r.Use(mw.RequireJWT(verifier, auth.RoleSecurity, auth.RoleReception, auth.RoleAdmin))
		r.Post("/scan", h.Scan)
		r.Post("/{id}/checkout", h.CheckOut)
	})

	r.Route("/api/alert", func(r chi.Router) {
		r.Use(mw.RequireJWT(verifier, auth.RoleAdmin, auth.RoleSecurity))
		r.Get("/", h.ListAlerts)
		r.Post("/{id}/read", h.MarkAlertRead)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return scanner.Run(gctx) })
	g.Go(func() error { return expirer.Run(gctx) })
	g.Go(func() error {
		logger.Info("starting vpass server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"OK","service":"VPASS Visitor Management API","features":{"realtime":true,"overstayMonitoring":true,"alertSystem":true}}`))
}

func buildMailer(cfg *config.Config) mailer.Service {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.Email.MailerSendKey, "VPASS", cfg.Email.SMTPFrom)
	default:
		return mailer.NewSMTPMailer(
			cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom,
			cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}
}

func splitOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
