package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"spendlog/internal/auth"
	"spendlog/internal/log"
	"spendlog/internal/middleware/ratelimit"
	"spendlog/internal/middleware/security"
	"spendlog/internal/middleware/trace"
	"spendlog/internal/services"
)

// Options configures the server. Verifier is required.
type Options struct {
	Addr               string
	AllowedOrigins     []string
	RateLimitPerMinute int
	// TrustedProxies extend the default loopback and private proxy networks.
	TrustedProxies []string
	// WebhookSecret enables /webhooks/identity when set.
	WebhookSecret string
	Verifier      *auth.Verifier
	Logger        *log.Logger
	Now           func() time.Time
}

type Server struct {
	http.Server

	services      *services.Services
	procedures    map[string]procedure
	limiter       *ratelimit.Limiter
	detector      *security.Detector
	tracer        *trace.Middleware
	webhookSecret string
	logger        *log.Logger
	now           func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(svc *services.Services, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			opts.Logger.Warn("Ignoring trusted proxy", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		}
	}
	s := &Server{
		services:      svc,
		limiter:       ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:      detector,
		tracer:        trace.NewMiddleware(opts.Logger, detector.ExtractClientIP),
		webhookSecret: opts.WebhookSecret,
		logger:        opts.Logger.WithComponent(log.ComponentHTTP),
		now:           opts.Now,
	}
	s.registerProcedures()

	router := mux.NewRouter()
	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	limited := s.limiter.Middleware(detector.ExtractClientIP, s.onRateLimited)

	rpc := router.PathPrefix("/rpc").Subrouter()
	rpc.Use(limited, auth.Middleware(opts.Verifier))
	rpc.HandleFunc("/{procedure}", s.handleRPC)

	if opts.WebhookSecret != "" {
		hooks := router.PathPrefix("/webhooks").Subrouter()
		hooks.Use(limited)
		hooks.HandleFunc("/identity", s.handleIdentityWebhook).Methods(http.MethodPost)
	} else {
		s.logger.Warn("IDENTITY_WEBHOOK_SECRET not set, identity webhook disabled")
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errorBody{Code: CodeNotFound, Message: "Not found"})
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(opts.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.ExposedHeaders([]string{trace.HeaderRequestID}),
		handlers.AllowCredentials(),
	)

	var h http.Handler = router
	h = cors(h)
	h = detector.Middleware(opts.Logger, true)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	writeError(w, http.StatusTooManyRequests, errorBody{Code: CodeTooManyRequests, Message: "Rate limit exceeded. Please try again later."})
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.services.Ready(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// recoveryLogger adapts the logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct{ l *log.Logger }

func (r recoveryLogger) Println(v ...interface{}) {
	r.l.Error("Panic recovered", "panic", fmt.Sprint(v...), log.FieldErrorType, log.ErrorTypeInternal)
}
