package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auditsvc "cmsguard/internal/audit"
	"cmsguard/internal/auth/device"
	authhandler "cmsguard/internal/auth/handler"
	authmetrics "cmsguard/internal/auth/metrics"
	"cmsguard/internal/auth/models"
	"cmsguard/internal/auth/password"
	authsvc "cmsguard/internal/auth/service"
	sessionstore "cmsguard/internal/auth/store/session"
	userstore "cmsguard/internal/auth/store/user"
	"cmsguard/internal/lockout"
	"cmsguard/internal/platform/config"
	"cmsguard/internal/platform/httpserver"
	"cmsguard/internal/platform/metrics"
	"cmsguard/internal/platform/postgres"
	platformredis "cmsguard/internal/platform/redis"
	rlhandler "cmsguard/internal/ratelimit/handler"
	rlmetrics "cmsguard/internal/ratelimit/metrics"
	rlmiddleware "cmsguard/internal/ratelimit/middleware"
	rlmodels "cmsguard/internal/ratelimit/models"
	rlsvc "cmsguard/internal/ratelimit/service"
	rlstore "cmsguard/internal/ratelimit/store/ratelimit"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/email"
	audit "cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/audit/publisher"
	"cmsguard/pkg/platform/audit/publishers/kafka"
	auditmemory "cmsguard/pkg/platform/audit/store/memory"
	auditpostgres "cmsguard/pkg/platform/audit/store/postgres"
	"cmsguard/pkg/platform/circuit"
	"cmsguard/pkg/platform/middleware/admin"
	auth "cmsguard/pkg/platform/middleware/auth"
	"cmsguard/pkg/platform/middleware/csrf"
	"cmsguard/pkg/platform/middleware/metadata"
	request "cmsguard/pkg/platform/middleware/request"
	"cmsguard/pkg/platform/middleware/requesttime"
	"cmsguard/pkg/platform/sweeper"
)

// strengthPolicy throttles the public password strength endpoint by volume.
var strengthPolicy = lockout.Policy{MaxAttempts: 30, Window: time.Minute, LockDuration: time.Minute}

type app struct {
	router   http.Handler
	auth     *authsvc.Service
	sweepers []*sweeper.Sweeper
	log      *slog.Logger
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type stores struct {
	users      authsvc.UserStore
	sessions   authsvc.SessionStore
	rateLimits rlsvc.Store
	audit      audit.Store
	backends   [4]string
}

func openStores(ctx context.Context, cfg config.Server, log *slog.Logger, a *app) (stores, error) {
	st := stores{
		users:      userstore.New(),
		sessions:   sessionstore.New(),
		rateLimits: rlstore.NewInMemory(),
		audit:      auditmemory.NewInMemoryStore(),
		backends:   [4]string{"memory", "memory", "memory", "memory"},
	}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, postgres.Config{URL: cfg.DatabaseURL, MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute})
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, func() { closeDB(db, log) })
		if err := postgres.Migrate(ctx, db); err != nil {
			return stores{}, err
		}
		st.users = userstore.NewPostgres(db)
		st.rateLimits = rlstore.NewPostgres(db)
		st.audit = auditpostgres.New(db)
		st.backends = [4]string{"postgres", "memory", "postgres", "postgres"}
	}

	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return stores{}, err
	}
	if client != nil {
		a.closers = append(a.closers, func() { _ = client.Close() })
		st.sessions = sessionstore.NewRedis(client)
		st.rateLimits = rlstore.NewRedis(client)
		st.backends[1], st.backends[2] = "redis", "redis"
	}
	return st, nil
}

func closeDB(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("failed to close database", "error", err)
	}
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{log: log}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	st, err := openStores(ctx, cfg, log, a)
	if err != nil {
		a.close()
		return nil, err
	}
	appMetrics.BuildInfo.WithLabelValues(st.backends[0], st.backends[1], st.backends[2], st.backends[3]).Set(1)

	// Audit
	auditOpts := []auditsvc.Option{
		auditsvc.WithLogger(log),
		auditsvc.WithMetrics(auditsvc.NewMetrics(reg)),
		auditsvc.WithRetention(cfg.Audit.Retention),
	}
	if cfg.Audit.AsyncBuffer > 0 {
		pub := publisher.NewPublisher(st.audit, publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer), publisher.WithLogger(log))
		a.closers = append(a.closers, pub.Close)
		auditOpts = append(auditOpts, auditsvc.WithPublisher(pub))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		forward, err := kafka.New(cfg.Kafka.Brokers, kafka.WithTopic(cfg.Kafka.Topic), kafka.WithLogger(log))
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { forward.Close(context.Background()) })
		if err := forward.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("failed to ensure audit topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		auditOpts = append(auditOpts, auditsvc.WithForward(forward))
	}
	auditService, err := auditsvc.New(st.audit, auditOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	// Rate limits
	rlm := rlmetrics.New(reg)
	limiter, err := rlsvc.New(st.rateLimits,
		rlsvc.WithLogger(log),
		rlsvc.WithMetrics(rlm),
		rlsvc.WithAuditPublisher(auditService),
		rlsvc.WithPolicy(cfg.RateLimit.Policy),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	strengthLimiter, err := rlsvc.New(st.rateLimits, rlsvc.WithLogger(log), rlsvc.WithPolicy(strengthPolicy))
	if err != nil {
		a.close()
		return nil, err
	}
	limitMW := rlmiddleware.New(limiter, log,
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlmiddleware.WithFallback(rlmiddleware.NewFallbackLimiter(cfg.RateLimit.Policy, log)),
		rlmiddleware.WithBreaker(circuit.New("ratelimit")),
		rlmiddleware.WithMetrics(rlm),
	)
	strengthMW := rlmiddleware.New(strengthLimiter, log,
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlmiddleware.WithFallback(rlmiddleware.NewFallbackLimiter(strengthPolicy, log)),
		rlmiddleware.WithBreaker(circuit.New("ratelimit_strength")),
	)

	// Auth
	authService, err := authsvc.New(st.users, st.sessions, password.NewHasher(cfg.Auth.BcryptCost),
		authsvc.WithLogger(log),
		authsvc.WithAuditPublisher(auditService),
		authsvc.WithMailer(email.NewLogSender(log)),
		authsvc.WithMetrics(authmetrics.New(reg)),
		authsvc.WithDeviceService(device.NewService(cfg.Auth.DeviceFingerprinting)),
		authsvc.WithLockoutPolicy(cfg.Auth.AccountLockout),
		authsvc.WithSessionTTL(cfg.Auth.SessionTTL),
		authsvc.WithVerificationTTL(cfg.Auth.VerificationTTL),
		authsvc.WithResetOnSuccess(cfg.Auth.ResetOnSuccess),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.auth = authService

	authHandler := authhandler.New(authService, limitMW, log, authhandler.WithSecureCookies(cfg.SecureCookies))

	// Router
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(httpserver.Instrument(appMetrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	authHandler.RegisterPublic(r,
		strengthMW.Limit(rlmodels.ActionPasswordStrength),
		strengthMW.Count(rlmodels.ActionPasswordStrength),
	)
	r.Group(func(r chi.Router) {
		r.Use(limitMW.Limit(rlmodels.ActionSession))
		r.Use(limitMW.RecordFailure(rlmodels.ActionSession))
		r.Use(auth.RequireAuth(authService, log))
		r.Use(csrf.Middleware(csrf.NewGuard(), csrf.SessionSecret, log, csrf.WithAuditSink(auditService)))
		authHandler.RegisterProtected(r)
	})
	if cfg.AdminAPIToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.AdminAPIToken, log))
			rlhandler.New(limiter, log).RegisterAdmin(r)
			auditsvc.NewHandler(auditService, log).Register(r)
		})
	} else {
		log.Warn("ADMIN_API_TOKEN not set, admin routes disabled")
	}
	a.router = r

	// Background hygiene
	sweep := func(name string, fn sweeper.Func) *sweeper.Sweeper {
		return sweeper.New(name, cfg.CleanupInterval, func(ctx context.Context) (int, error) {
			n, err := fn(ctx)
			if err == nil {
				appMetrics.AddSweepDeleted(name, n)
			}
			return n, err
		}, sweeper.WithLogger(log))
	}
	a.sweepers = []*sweeper.Sweeper{
		sweep("rate_limits", limiter.Cleanup),
		sweep("sessions", authService.DeleteExpiredSessions),
		sweep("audit_retention", auditService.Purge),
	}

	return a, nil
}

// bootstrapAdmin creates the configured administrator once. An existing
// account with the same username is left untouched.
func (a *app) bootstrapAdmin(ctx context.Context, b config.BootstrapAdmin) error {
	if b.Username == "" {
		return nil
	}
	_, err := a.auth.CreateUser(ctx, b.Username, b.Email, b.Password, models.RoleAdmin)
	switch {
	case err == nil:
		a.log.Info("bootstrap admin created", "username", b.Username)
		return nil
	case dErrors.HasCode(err, dErrors.CodeConflict):
		return nil
	default:
		return fmt.Errorf("bootstrap admin: %w", err)
	}
}
