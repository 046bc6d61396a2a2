// ABOUTME: Gateway orchestrator that wires the store, realtime fan-out and HTTP server
// ABOUTME: Manages optional Redis relay/locking, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/realtime"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/users"
)

// Gateway orchestrates the parley server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	conversations *conversation.Service
	users         *users.Directory
	verifier      *auth.JWTVerifier
	router        *realtime.Router
	registry      *realtime.Registry
	dedupe        *dedupe.Cache
	validate      *validator.Validate
	upgrader      websocket.Upgrader
	httpServer    *http.Server
	logger        *slog.Logger

	// redis is nil in single-node mode
	redis *redis.Client
	relay *realtime.RedisRelay
}

// OpenStore opens the configured store backend. parley-admin uses it to work
// on the database without a running server.
func OpenStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.IsPostgres() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}

	s, err := store.OpenSQLite(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initRedis connects to the configured Redis server.
func initRedis(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	var client *redis.Client
	if cfg.Redis.Enabled() {
		client, err = initRedis(cfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	gw, err := newGateway(cfg, s, client, logger)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway assembles a gateway around an already opened store.
// client may be nil.
func newGateway(cfg *config.Config, s store.Store, client *redis.Client, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	directory, err := users.New(s, verifier, users.Config{
		TokenTTL:          cfg.Auth.TokenTTL,
		BcryptCost:        cfg.Auth.BcryptCost,
		AvatarURLTemplate: cfg.Users.AvatarURLTemplate,
		ProfileCacheSize:  cfg.Users.ProfileCacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating user directory: %w", err)
	}

	router := realtime.NewRouter(logger)
	registry := realtime.NewRegistry(router, cfg.Realtime.SendBuffer, logger)
	dedupeCache := dedupe.New(cfg.Realtime.DedupeTTL, cfg.Realtime.DedupeSize)

	opts := []conversation.Option{conversation.WithDedupe(dedupeCache)}
	var relay *realtime.RedisRelay
	if client != nil {
		opts = append(opts, conversation.WithLocker(conversation.NewRedisLocker(client, cfg.Redis.LockExpiry, logger)))
		relay = realtime.NewRedisRelay(client, cfg.Redis.Channel, router, logger)
	}
	convService := conversation.New(s, router, logger, opts...)

	gw := &Gateway{
		config:        cfg,
		store:         s,
		conversations: convService,
		users:         directory,
		verifier:      verifier,
		router:        router,
		registry:      registry,
		dedupe:        dedupeCache,
		validate:      newValidator(),
		logger:        logger.With("component", "gateway"),
		redis:         client,
		relay:         relay,
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     gw.checkOrigin,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	if g.relay != nil {
		if err := g.relay.Start(ctx); err != nil {
			return fmt.Errorf("starting relay: %w", err)
		}
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, disconnects live sessions and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "sessions", g.registry.Count())

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by http.Server.
	g.registry.Close()

	if g.relay != nil {
		errs = appendCloseError(errs, "relay close", g.relay.Close())
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	g.dedupe.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store (and Redis, if configured) answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "store", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if g.redis != nil {
		if err := g.redis.Ping(ctx).Err(); err != nil {
			g.logger.Warn("readiness check failed", "dependency", "redis", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("redis unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.registry.Count())
}

// checkOrigin allows non-browser clients and origins on the allow list.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
