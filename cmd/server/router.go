package main

import (
	"net/http"
	"time"

	"github.com/benvon/testnet-faucet/internal/admin"
	"github.com/benvon/testnet-faucet/internal/handlers"
	"github.com/benvon/testnet-faucet/internal/metrics"
	"github.com/benvon/testnet-faucet/internal/middleware"
	"github.com/benvon/testnet-faucet/internal/request"
	"github.com/benvon/testnet-faucet/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

// routerDeps is everything the HTTP surface needs
type routerDeps struct {
	log            *zap.Logger
	metrics        *metrics.Metrics
	throttle       *middleware.Throttle
	faucet         handlers.FaucetService
	admin          *admin.Service
	health         *handlers.HealthChecker
	clientIP       *request.Resolver
	jwks           jwk.Set
	openAPIPath    string
	version        string
	frontendURL    string
	enableHSTS     bool
	requestTimeout time.Duration
	tracing        bool
}

// isFaucetRequest matches POST /api/faucet. Checks that would answer it before the controller
// runs are skipped for it, so every dispensing attempt is recorded in the ledger.
func isFaucetRequest(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/api/faucet"
}

// newRouter wires middleware and routes. In gorilla/mux, router middleware runs in registration order,
// so the first registered is the outermost wrapper.
func newRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()

	clientIP := d.clientIP
	if clientIP == nil {
		clientIP = request.NewResolver(nil)
	}
	r.Use(clientIP.Middleware)
	if d.tracing {
		r.Use(otelmux.Middleware(telemetry.ServiceName))
	}
	r.Use(middleware.Instrument(d.metrics))
	r.Use(middleware.SecurityHeaders(d.enableHSTS))
	r.Use(middleware.CORSFromEnv(d.frontendURL))
	r.Use(middleware.Unless(isFaucetRequest, middleware.MaxRequestSize(middleware.DefaultMaxRequestSize)))
	r.Use(middleware.Unless(isFaucetRequest, middleware.ContentType))
	r.Use(middleware.Timeout(d.requestTimeout))
	r.Use(middleware.ErrorHandler(d.log))
	r.Use(middleware.Audit(d.log))
	r.Use(middleware.Logging(d.log))

	// Operational routes are not throttled
	r.HandleFunc("/healthz", d.health.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", handlers.VersionHandler(d.version)).Methods(http.MethodGet)
	r.Handle("/metrics", d.metrics.Handler()).Methods(http.MethodGet)
	if d.jwks != nil {
		r.HandleFunc("/.well-known/jwks.json", handlers.JWKSHandler(d.jwks)).Methods(http.MethodGet)
	}
	handlers.NewOpenAPIHandler(d.openAPIPath).RegisterRoutes(r)

	apiRouter := r.PathPrefix("/api").Subrouter()
	// the per-key limiter governs dispensing; the throttle covers the rest of the API
	apiRouter.Use(middleware.Unless(isFaucetRequest, d.throttle.Middleware))

	adminHandler := handlers.NewAdminHandler(d.admin, d.log)

	faucetRouter := apiRouter.PathPrefix("/faucet").Subrouter()
	handlers.NewFaucetHandler(d.faucet, d.log).RegisterRoutes(faucetRouter)
	// reset is also accepted on the faucet path
	faucetRouter.HandleFunc("", adminHandler.Reset).Methods(http.MethodDelete)

	adminHandler.RegisterRoutes(apiRouter.PathPrefix("/admin").Subrouter())

	// Preflight requests match no method-restricted route; the CORS middleware answers them
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
