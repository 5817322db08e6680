package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benvon/testnet-faucet/internal/admin"
	"github.com/benvon/testnet-faucet/internal/config"
	"github.com/benvon/testnet-faucet/internal/disbursement"
	"github.com/benvon/testnet-faucet/internal/events"
	"github.com/benvon/testnet-faucet/internal/faucet"
	"github.com/benvon/testnet-faucet/internal/handlers"
	"github.com/benvon/testnet-faucet/internal/logger"
	"github.com/benvon/testnet-faucet/internal/metrics"
	"github.com/benvon/testnet-faucet/internal/middleware"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/policy"
	"github.com/benvon/testnet-faucet/internal/ratelimit"
	"github.com/benvon/testnet-faucet/internal/request"
	"github.com/benvon/testnet-faucet/internal/storage"
	"github.com/benvon/testnet-faucet/internal/telemetry"
	"github.com/lestrrat-go/jwx/v2/jwk"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const rabbitMQMaxRetries = 10

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("starting_server",
		zap.String("version", version),
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Bool("policy_file_configured", cfg.PolicyFile != ""),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
		zap.Bool("trusted_proxies_configured", cfg.TrustedProxies != ""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OpenTelemetry
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else if tp, err := telemetry.InitTracer(ctx, telemetry.ServiceName, version, cfg.OTELEndpoint); err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			tracerProvider = tp
			zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := telemetry.Shutdown(shutdownCtx, tracerProvider); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	// Storage
	backend, err := storage.Open(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_open_storage", zap.Error(err))
	}
	defer func() {
		if err := backend.Close(); err != nil {
			zapLogger.Warn("failed_to_close_storage", zap.Error(err))
		}
	}()

	m := metrics.New()

	// Policy
	reloader, err := policy.NewReloader(cfg.DefaultPolicy(), cfg.PolicyFile, cfg.PolicyReloadInterval, zapLogger, policy.WithMetrics(m))
	if err != nil {
		zapLogger.Fatal("failed_to_load_policy", zap.Error(err))
	}

	// Events are optional; without a broker outcomes are only in the ledger
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		rmq, err := events.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, rabbitMQMaxRetries, zapLogger)
		if err != nil {
			zapLogger.Error("failed_to_connect_to_rabbitmq_events_disabled", zap.Error(err))
		} else {
			publisher = rmq
			zapLogger.Info("connected_to_rabbitmq")
		}
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			zapLogger.Warn("failed_to_close_event_publisher", zap.Error(err))
		}
	}()

	gateway, keys, err := newGateway(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_create_disbursement_gateway", zap.Error(err))
	}

	controller := faucet.New(backend.Bans, backend.Limiter, gateway, backend.Ledger, reloader, zapLogger,
		faucet.WithPublisher(publisher),
		faucet.WithMetrics(m),
		faucet.WithDisbursementTimeout(cfg.DisbursementTimeout),
	)
	adminService := admin.NewService(cfg.AdminSecret, backend.Bans, backend.Ledger, backend.Limiter, zapLogger,
		admin.WithPolicyReloader(reloader),
		admin.WithPublisher(publisher),
	)

	throttle, err := middleware.NewThrottle(backend.Redis, reloader.Current().ThrottleRate, zapLogger, func() {
		m.RecordRateLimitHit("http")
	})
	if err != nil {
		zapLogger.Fatal("failed_to_create_http_throttle", zap.Error(err))
	}
	reloader.OnChange(func(p models.Policy) {
		if err := throttle.SetRate(p.ThrottleRate); err != nil {
			zapLogger.Warn("failed_to_apply_http_throttle_rate", zap.Error(err))
		}
	})

	healthChecker := handlers.NewHealthChecker(map[string]handlers.CheckFunc{
		"storage": backend.Ping,
		"events":  publisher.HealthCheck,
	})

	trustedProxies, err := request.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		zapLogger.Fatal("invalid_trusted_proxies", zap.Error(err))
	}

	requestTimeout := cfg.DisbursementTimeout + 10*time.Second
	r := newRouter(routerDeps{
		log:            zapLogger,
		metrics:        m,
		throttle:       throttle,
		faucet:         controller,
		admin:          adminService,
		health:         healthChecker,
		clientIP:       request.NewResolver(trustedProxies),
		jwks:           keys,
		openAPIPath:    filepath.Join("api", "openapi", "openapi.yaml"),
		version:        version,
		frontendURL:    cfg.FrontendURL,
		enableHSTS:     cfg.EnableHSTS,
		requestTimeout: requestTimeout,
		tracing:        tracerProvider != nil,
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   requestTimeout + 5*time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Background loops
	runBackground(ctx, zapLogger, "policy_reloader", reloader.Start)
	runBackground(ctx, zapLogger, "ban_list_watcher", backend.Watch)
	if backend.Sweepable != nil {
		sweeper := ratelimit.NewSweeper(backend.Sweepable, cfg.RateLimitSweepInterval, func() time.Duration {
			return reloader.Current().Window
		}, zapLogger)
		runBackground(ctx, zapLogger, "rate_limit_sweeper", sweeper.Start)
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	// SIGHUP reloads the policy; SIGINT and SIGTERM shut down
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s != syscall.SIGHUP {
			break
		}
		if _, _, err := reloader.Reload(); err != nil {
			zapLogger.Warn("sighup_policy_reload_failed", zap.Error(err))
		}
	}

	zapLogger.Info("server_shutting_down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), requestTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

// newGateway returns the HTTP gateway when DISBURSEMENT_URL is set and the stub otherwise.
// The key set is nil when no signing key is configured.
func newGateway(cfg *config.Config, log *zap.Logger) (disbursement.Gateway, jwk.Set, error) {
	var signer *disbursement.Signer
	if cfg.SigningKey != "" {
		s, err := disbursement.NewSigner(cfg.SigningKey)
		if err != nil {
			return nil, nil, err
		}
		signer = s
	}

	var keys jwk.Set
	if signer != nil {
		keys = signer.PublicKeys()
	}

	if cfg.DisbursementURL == "" {
		log.Warn("disbursement_stub_enabled")
		return &disbursement.StubGateway{}, keys, nil
	}

	var opts []disbursement.HTTPOption
	if cfg.DisbursementTokenURL != "" {
		opts = append(opts, disbursement.WithClientCredentials(cfg.DisbursementTokenURL, cfg.DisbursementClientID, cfg.DisbursementClientSecret))
	}
	log.Info("disbursement_backend_configured",
		zap.String("key_id", signer.KeyID()),
		zap.Bool("oauth_client_credentials", cfg.DisbursementTokenURL != ""),
	)
	return disbursement.NewHTTPGateway(cfg.DisbursementURL, signer, opts...), keys, nil
}

// runBackground runs loop until ctx is cancelled, logging any other exit
func runBackground(ctx context.Context, log *zap.Logger, name string, loop func(context.Context) error) {
	go func() {
		if err := loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("background_loop_stopped", zap.String("loop", name), zap.Error(err))
		}
	}()
	log.Info("background_loop_started", zap.String("loop", name))
}
