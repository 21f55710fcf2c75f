package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/exambook/apiserver/config"
	"github.com/exambook/apiserver/internal/auth"
	"github.com/exambook/apiserver/internal/db"
	"github.com/exambook/apiserver/internal/geocode"
	"github.com/exambook/apiserver/internal/handlers"
	"github.com/exambook/apiserver/internal/logging"
	"github.com/exambook/apiserver/internal/mail"
	"github.com/exambook/apiserver/internal/media"
	"github.com/exambook/apiserver/internal/metrics"
	"github.com/exambook/apiserver/internal/mq"
	"github.com/exambook/apiserver/internal/services"
	"github.com/exambook/apiserver/internal/storage"
	"github.com/exambook/apiserver/internal/store"
)

const localMediaPath = "/media"

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	redis      *redis.Client
	queue      *mq.MQ
}

type repositories struct {
	users    services.UserRepository
	books    services.BookRepository
	contacts services.ContactRepository
}

// New constructs a Server from cfg, opening every backing service it names.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	tokens, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		ResetSecret:   cfg.Auth.ResetSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		ResetTTL:      cfg.Auth.ResetTTL,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{}
	ok := false
	defer func() {
		if !ok {
			_ = s.closeResources()
		}
	}()

	repos, err := s.openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	objects, err := storage.New(ctx, cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("media storage: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
	}
	publicURL := cfg.Media.PublicURL
	if publicURL == "" {
		publicURL = localMediaPath
	}
	mediaClient := media.NewClient(objects, publicURL)

	revoker, err := s.openRevoker(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	mailer, err := s.openMailer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userService := services.NewUserService(repos.users, repos.contacts, tokens, revoker, mailer, mediaClient, services.UserOptions{
		FrontendURL:  cfg.Mail.FrontendURL,
		ContactInbox: cfg.Mail.ContactInbox,
	})
	bookService := services.NewBookService(repos.books, mediaClient, geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.APIKey))

	authn := handlers.NewAuthenticator(tokens)
	userHandler := handlers.NewUserHandler(userService, mediaClient, handlers.CookieOptions{Secure: cfg.Auth.SecureCookies})
	bookHandler := handlers.NewBookHandler(bookService, mediaClient)

	var limit func(http.Handler) http.Handler
	if cfg.Server.RateLimitRequests > 0 {
		limit = httprate.LimitByIP(cfg.Server.RateLimitRequests, cfg.Server.RateLimitWindow)
	}

	var pinger handlers.Pinger
	if s.db != nil {
		pinger = s.db
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger,
		metrics.Middleware,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)
	router.Get("/healthz", handlers.Healthz(pinger))
	router.Handle("/metrics", promhttp.Handler())
	if cfg.Media.PublicURL == "" {
		router.Get(localMediaPath+"/*", handlers.NewMediaHandler(objects).Serve)
	}
	router.Route("/api/user", func(r chi.Router) {
		handlers.UserRouter(r, userHandler, authn, limit)
	})
	router.Route("/api/books", func(r chi.Router) {
		handlers.BookRouter(r, bookHandler, authn)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ok = true
	return s, nil
}

func (s *Server) openStore(ctx context.Context, cfg config.DatabaseConfig) (repositories, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "postgres":
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return repositories{}, err
		}
		s.db = conn
		return repositories{
			users:    store.NewUserRepository(conn),
			books:    store.NewBookRepository(conn),
			contacts: store.NewContactRepository(conn),
		}, nil
	case "memory":
		logging.Warn().Msg("using in-memory store; data is lost on restart")
		users := store.NewMemoryUserRepository()
		return repositories{
			users:    users,
			books:    store.NewMemoryBookRepository(users),
			contacts: store.NewMemoryContactRepository(),
		}, nil
	default:
		return repositories{}, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (s *Server) openRevoker(ctx context.Context, cfg config.RedisConfig) (auth.Revoker, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		logging.Warn().Msg("REDIS_ADDR not set; revoked tokens are tracked in memory")
		return auth.NewMemoryRevoker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	s.redis = client
	return auth.NewRedisRevoker(client), nil
}

func (s *Server) openMailer(ctx context.Context, cfg config.Config) (mail.Mailer, error) {
	var publisher mail.Publisher
	if strings.EqualFold(cfg.Mail.Transport, "queue") {
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return nil, fmt.Errorf("open mail queue: %w", err)
		}
		s.queue = queue
		publisher = queue
	}
	return mail.New(cfg.Mail, publisher)
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires, then releases
// the database, Redis and queue connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	return errors.Join(err, s.closeResources())
}

func (s *Server) closeResources() error {
	var errs []error
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
		s.queue = nil
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
		s.redis = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}
