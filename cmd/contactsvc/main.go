package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhawalhost/contactguard/internal/config"
	"github.com/dhawalhost/contactguard/internal/contact"
	"github.com/dhawalhost/contactguard/internal/enforce"
	"github.com/dhawalhost/contactguard/internal/identity"
	"github.com/dhawalhost/contactguard/internal/pdp"
	"github.com/dhawalhost/contactguard/internal/server"
	"github.com/dhawalhost/contactguard/pkg/database"
	"github.com/dhawalhost/contactguard/pkg/logger"
	"github.com/dhawalhost/contactguard/pkg/middleware"
	"github.com/dhawalhost/contactguard/pkg/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var version = "dev"

func main() {
	configFile := flag.String("config", os.Getenv("CONTACTGUARD_CONFIG"), "Optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics()

	store, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	verifier, err := newVerifier(ctx, cfg.JWT)
	if err != nil {
		return fmt.Errorf("init token verification: %w", err)
	}

	decisions, err := pdp.New(pdp.Config{
		URL:           cfg.PDP.URL,
		Token:         cfg.PDP.Token,
		TokenURL:      cfg.PDP.TokenURL,
		ClientID:      cfg.PDP.ClientID,
		ClientSecret:  cfg.PDP.ClientSecret,
		Scopes:        cfg.PDP.Scopes,
		Timeout:       cfg.PDP.Timeout,
		PolicyVersion: cfg.PDP.PolicyVersion,
	}, log, pdp.WithObserver(metrics))
	if err != nil {
		return fmt.Errorf("init decision point client: %w", err)
	}

	precedence, err := enforce.ParsePrecedence(cfg.Authz.Precedence)
	if err != nil {
		return err
	}
	orchestrator := enforce.NewOrchestrator[contact.Contact](store, decisions, log,
		enforce.WithPrecedence(precedence),
		enforce.WithTracer(otel.Tracer(cfg.Tracing.ServiceName)),
	)

	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
		go limiter.Run(ctx, time.Minute)
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.BuildRouter(server.Deps{
		Contacts:    contact.NewHTTPHandler(orchestrator, log),
		Verifier:    verifier,
		Metrics:     metrics,
		RateLimiter: limiter,
		Checks: map[string]server.HealthChecker{
			"store": store,
			"pdp":   decisions,
		},
		Logger: log,
	}, server.Options{
		ServiceName: cfg.Tracing.ServiceName,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       2 * cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("pdp", cfg.PDP.URL),
			zap.String("store", cfg.Store.Driver),
			zap.String("jwt_algorithm", cfg.JWT.Algorithm),
			zap.Stringer("precedence", precedence),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func openStore(ctx context.Context, cfg config.Store, log *zap.Logger) (contact.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := database.NewConnection(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using postgres contact store", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))
		return contact.NewSQLStore(db), func() { _ = db.Close() }, nil
	default:
		contacts := contact.DefaultContacts()
		if cfg.FixturesFile != "" {
			loaded, err := contact.LoadFixtures(cfg.FixturesFile)
			if err != nil {
				return nil, nil, err
			}
			contacts = loaded
		}
		store, err := contact.NewMemoryStore(contacts)
		if err != nil {
			return nil, nil, fmt.Errorf("load contacts: %w", err)
		}
		log.Info("Using in-memory contact store", zap.Int("contacts", len(contacts)))
		return store, func() {}, nil
	}
}

func newVerifier(ctx context.Context, cfg config.JWT) (identity.Verifier, error) {
	opts := identity.Options{Issuer: cfg.Issuer, Audience: cfg.Audience, Leeway: cfg.Leeway}
	switch cfg.Algorithm {
	case "rs256":
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		return identity.NewRSAVerifier(pem, opts)
	case "jwks":
		keys, err := identity.FetchJWKS(ctx, cfg.JWKSURL, nil)
		if err != nil {
			return nil, err
		}
		return identity.NewJWKSVerifier(keys, opts)
	default:
		return identity.NewHMACVerifier([]byte(cfg.Secret), opts)
	}
}
