package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/creditgate/internal/api"
	"github.com/davidahmann/creditgate/internal/approval"
	"github.com/davidahmann/creditgate/internal/audit"
	"github.com/davidahmann/creditgate/internal/auth"
	"github.com/davidahmann/creditgate/internal/config"
	"github.com/davidahmann/creditgate/internal/eventlog"
	"github.com/davidahmann/creditgate/internal/gateway"
	"github.com/davidahmann/creditgate/internal/narrative"
	"github.com/davidahmann/creditgate/internal/notify"
	"github.com/davidahmann/creditgate/internal/policy"
	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/internal/store/pgstore"
	"github.com/davidahmann/creditgate/internal/store/sqlstore"
	"github.com/davidahmann/creditgate/internal/workflow"
)

var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runFn(ctx, os.Args[1:], os.Getenv, listenAndServe); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf
var logOutput io.Writer = os.Stderr

type envFn func(string) string
type listenFn func(*http.Server) error

func run(ctx context.Context, args []string, getenv envFn, listen listenFn) error {
	fs := flag.NewFlagSet("creditgate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to creditgate config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(firstNonEmpty(*configPath, getenv("CREDITGATE_CONFIG_PATH")), getenv)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, logOutput)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		logger.Info("creditgate listening", "addr", cfg.ListenAddr, "version", version)
		if err := listen(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.mailer != nil {
		g.Go(func() error {
			notify.RunOutboxWorker(gctx, a.store, a.mailer, cfg.Notify.PollInterval, logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		err := server.Shutdown(shutdownCtx)
		if serr := a.service.Shutdown(shutdownCtx); err == nil {
			err = serr
		}
		logger.Info("creditgate stopped")
		return err
	})
	return g.Wait()
}

func loadConfig(path string, getenv envFn) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

type app struct {
	handler http.Handler
	service *workflow.Service
	store   store.Store
	mailer  notify.Mailer
	close   func() error
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	st, closeStore, err := openStore(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	a := &app{store: st, close: closeStore}
	fail := func(err error) (*app, error) {
		_ = closeStore()
		return nil, err
	}

	if cfg.DemoSeed {
		if err := store.SeedDemo(ctx, st, time.Now()); err != nil {
			return fail(fmt.Errorf("seed demo data: %w", err))
		}
	}

	loaded := policy.Default()
	if cfg.PolicyPath != "" {
		if loaded, err = policy.LoadPolicy(cfg.PolicyPath); err != nil {
			return fail(fmt.Errorf("load policy: %w", err))
		}
	}
	var annotator policy.Annotator
	if cfg.Narrative.Enabled {
		oracle, err := narrative.NewHTTPOracle(narrative.HTTPConfig{
			Endpoint:          cfg.Narrative.Endpoint,
			APIKey:            cfg.Narrative.APIKey,
			Model:             cfg.Narrative.Model,
			RequestsPerSecond: cfg.Narrative.RequestsPerSecond,
			Timeout:           cfg.Narrative.Timeout,
		}, nil)
		if err != nil {
			return fail(err)
		}
		annotator = narrative.Annotator{Oracle: oracle}
	}

	signer, err := loadSigner(cfg.SigningKey, logger)
	if err != nil {
		return fail(err)
	}

	var notifier gateway.Notifier = gateway.NewLogNotifier(logger)
	if cfg.Notify.Mode == "outbox" {
		notifier = notify.NewOutboxNotifier(st)
		a.mailer = notify.NewSMTPMailer(cfg.Notify.SMTP.Addr, cfg.Notify.From, cfg.Notify.SMTP.Username, cfg.Notify.SMTP.Password)
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	engine, err := workflow.NewEngine(workflow.Deps{
		Store:  st,
		Events: eventlog.New(st),
		Policy: policy.NewEngine(loaded, annotator, logger),
		Gate: approval.NewGate(st, approval.Config{
			Timeout:   cfg.Approval.Timeout,
			OnTimeout: approval.TimeoutPolicy(cfg.Approval.OnTimeout),
		}, logger),
		Ledger:   gateway.NewRetryingLedger(gateway.NewMockLedger(), cfg.Ledger.MaxAttempts, cfg.Ledger.RetryBase, logger),
		Notifier: notifier,
		Signer:   signer,
		Meter:    provider.Meter("github.com/davidahmann/creditgate"),
		Logger:   logger,
	})
	if err != nil {
		return fail(err)
	}
	a.service = workflow.NewService(engine)

	if cfg.Auth.DevToken == "" && cfg.Auth.JWTSecret == "" {
		logger.Warn("no dev token or jwt secret configured, API calls will be rejected")
	}
	h := &api.Handler{
		Service: a.service,
		Auth:    auth.NewAuthenticator(cfg.Auth.DevToken, cfg.Auth.JWTSecret),
		Metrics: reader,
		Logger:  logger,
		Version: version,
	}
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	a.handler = limiter.Middleware(api.NewRouter(h))

	closeAll := a.close
	a.close = func() error {
		err := provider.Shutdown(context.Background())
		if cerr := closeAll(); err == nil {
			err = cerr
		}
		return err
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (store.Store, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewInMemoryStore(), func() error { return nil }, nil
	case string(store.DBSQLite):
		st, err := sqlstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		applied, err := store.Migrate(ctx, st.DB(), store.DBSQLite)
		if err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("schema ready", "driver", "sqlite", "applied", applied)
		return st, st.Close, nil
	case string(store.DBPostgres):
		st, err := pgstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		applied, err := store.Migrate(ctx, st.DB(), store.DBPostgres)
		if err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("schema ready", "driver", "postgres", "applied", applied)
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

// loadSigner falls back to a per-process key so receipts still verify
// within one server lifetime.
func loadSigner(cfg config.SigningKeyConfig, logger *slog.Logger) (audit.Signer, error) {
	if cfg.PrivateKeyPath != "" {
		signer, err := audit.LoadSigner(cfg.KeyID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		return signer, nil
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	logger.Warn("no signing key configured, receipts use an ephemeral key")
	return audit.NewSignerFromSeed("ephemeral", seed)
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
