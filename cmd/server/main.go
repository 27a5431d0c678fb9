// server runs the authgate gRPC API, the session reaper and the Prometheus /metrics endpoint.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"authgate/internal/audit"
	auditrepo "authgate/internal/audit/repository"
	"authgate/internal/config"
	"authgate/internal/db"
	"authgate/internal/db/migrate"
	"authgate/internal/device"
	"authgate/internal/devotp"
	devotphandler "authgate/internal/devotp/handler"
	healthhandler "authgate/internal/health/handler"
	identityservice "authgate/internal/identity/service"
	"authgate/internal/mfa"
	"authgate/internal/notify"
	"authgate/internal/platform/clock"
	"authgate/internal/platform/logger"
	"authgate/internal/platform/metrics"
	policyengine "authgate/internal/policy/engine"
	"authgate/internal/security"
	"authgate/internal/server"
	"authgate/internal/server/interceptors"
	"authgate/internal/session/cache"
	"authgate/internal/session/reaper"
	sessionrepo "authgate/internal/session/repository"
	sessionservice "authgate/internal/session/service"
	"authgate/internal/telemetry"
	"authgate/internal/user"
	userrepo "authgate/internal/user/repository"
	vrepo "authgate/internal/verification/repository"
	vservice "authgate/internal/verification/service"
)

const shutdownTimeout = 15 * time.Second

type stores struct {
	users        userrepo.Repository
	sessions     sessionrepo.Repository
	verification vrepo.Repository
	audit        auditrepo.Repository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	production := cfg.Env == "production"
	clk := clock.System{}

	otelProviders, err := telemetry.NewProviders(ctx, cfg.OTelEndpoint, cfg.OTelServiceName, cfg.OTelInsecure, log)
	if err != nil {
		return err
	}
	otelProviders.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = otelProviders.Shutdown(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var pool *pgxpool.Pool
	var st stores
	if cfg.DatabaseURL != "" {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			return err
		}
		pool, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		st = stores{
			users:        userrepo.NewPostgresRepository(pool),
			sessions:     sessionrepo.NewPostgresRepository(pool),
			verification: vrepo.NewPostgresRepository(pool),
			audit:        auditrepo.NewPostgresRepository(pool),
		}
	} else {
		if production {
			return errors.New("DATABASE_URL is required when APP_ENV=production")
		}
		log.Warn("DATABASE_URL not set; using in-memory stores")
		st = stores{
			users:        userrepo.NewMemoryRepository(),
			sessions:     sessionrepo.NewMemoryRepository(),
			verification: vrepo.NewMemoryRepository(),
			audit:        auditrepo.NewMemoryRepository(),
		}
	}
	auditLogger := audit.NewLogger(st.audit, interceptors.ClientIP, clk, log)

	var devStore *devotp.MemoryStore
	if cfg.OTPReturnToClient && !production {
		devStore = devotp.NewMemoryStore(clk)
		log.Warn("dev OTP mode enabled; codes are returned to clients")
	}

	notifiers := notify.Fanout{notify.NewLogNotifier(log)}
	if kn := notify.NewKafkaNotifier(cfg.KafkaBrokersList(), cfg.NotifyKafkaTopic); kn != nil {
		defer func() {
			time.Sleep(notify.ShutdownDrainDuration)
			_ = kn.Close()
		}()
		notifiers = append(notifiers, notify.NewAsync(kn, log, m))
	}
	if devStore != nil {
		notifiers = append(notifiers, notify.NewDevNotifier(devStore))
	}

	policy, err := policyengine.NewOPAEvaluator(ctx, "", log)
	if err != nil {
		return err
	}

	directory := user.NewDirectory(st.users)
	verifier := vservice.NewEngine(vservice.Config{
		SMSExpiry:      cfg.SMSExpiry(),
		EmailExpiry:    cfg.EmailExpiry(),
		MaxAttempts:    cfg.MaxAttempts,
		MaxResends:     cfg.MaxResends,
		ResendCooldown: cfg.ResendCooldown(),
	}, vservice.Deps{
		Repo:       st.verification,
		Hasher:     security.DigestHasher{},
		SMSCodes:   mfa.SMSGenerator(cfg.SMSFixedOTP, cfg.OTPLength),
		EmailCodes: mfa.NewRandomGenerator(cfg.OTPLength),
		Planner:    policy,
		Notifier:   notifiers,
		Recipients: directory,
		Audit:      auditLogger,
		Clock:      clk,
		Metrics:    m,
		Logger:     log,
	})

	var listCache sessionservice.ListCache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
		listCache = cache.NewRedisListCache(redisClient, "", cfg.SessionListTTL(), log)
	}

	mgr := sessionservice.NewManager(sessionservice.Config{
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
	}, sessionservice.Deps{
		Repo:          st.sessions,
		Fingerprinter: device.NewFingerprinter(cfg.FingerprintEnabled, cfg.FingerprintSalt),
		Cache:         listCache,
		Notifier:      notifiers,
		Contacts:      directory,
		Audit:         auditLogger,
		Clock:         clk,
		Metrics:       m,
		Logger:        log,
	})

	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey, !production)
	if err != nil {
		return err
	}
	if cfg.JWTPrivateKey == "" {
		log.Warn("JWT keys not configured; using an ephemeral signing key")
	}
	passwords, err := security.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}

	var devOTP devotp.Store
	if devStore != nil {
		devOTP = devStore
	}
	authSvc := identityservice.NewAuthService(identityservice.Config{
		AccessTTL:         cfg.AccessTTL(),
		RefreshTTL:        cfg.RefreshTTL(),
		OTPReturnToClient: devStore != nil,
	}, identityservice.Deps{
		Users:        st.users,
		Passwords:    passwords,
		Verification: verifier,
		Tokens:       security.NewTokenCodec(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, clk),
		Sessions:     mgr,
		DevOTP:       devOTP,
		Audit:        auditLogger,
		Clock:        clk,
		Logger:       log,
	})

	pingers := map[string]healthhandler.Pinger{}
	if pool != nil {
		pingers["postgres"] = pool
	}
	if redisClient != nil {
		pingers["redis"] = healthhandler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	deps := server.Deps{
		Auth:                  authSvc,
		MaxConcurrentSessions: mgr.MaxConcurrentSessions(),
		HealthPingers:         pingers,
		HealthPolicyChecker:   policy,
		Audit:                 auditLogger,
		Metrics:               m,
		Logger:                log,
	}
	if devStore != nil {
		deps.DevOTPHandler = devotphandler.NewServer(devStore)
	}
	grpcServer := server.NewServer(deps)

	sessionReaper := reaper.New(reaper.Config{
		Interval:  cfg.ReapInterval(),
		Retention: cfg.InactiveRetention(),
		BatchSize: cfg.ReapBatchSize,
	}, st.sessions, clk, m, log)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		sessionReaper.Run(ctx)
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		<-reaperDone
		return err
	}

	log.Info("shutting down")
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}
	if metricsServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(sctx)
	}
	<-reaperDone
	log.Info("gRPC server stopped")
	return nil
}
