package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/metrics"
	custommiddleware "marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"
	"marketplace/internal/storage"
	"marketplace/internal/throttle"
	"marketplace/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     database.Service
	redis  *redis.Client
}

// Deps are the process-level resources the server is built on
type Deps struct {
	DB database.Service
	// Fs backs image storage; afero.NewOsFs() in production
	Fs afero.Fs
	// Redis is required when the throttle backend is redis or rate limiting is enabled
	Redis    *redis.Client
	Registry *prometheus.Registry
}

func NewServer(cfg *config.Config, logger *zap.Logger, deps Deps) (*Server, error) {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	m := metrics.New(deps.Registry)

	// Create router
	router := chi.NewRouter()

	// Add basic middleware
	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.CORSMiddleware(cfg.Server.AllowedOrigins, !cfg.Server.IsProduction()))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.MetricsMiddleware(m))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := deps.DB.Health(r.Context())
		status := http.StatusOK
		if health["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		custommiddleware.RespondWithJSON(w, status, health)
	})
	router.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	// Image storage, served back under its public path
	store, err := storage.NewLocalStore(deps.Fs, cfg.Storage.UploadDir, cfg.Storage.PublicPath, cfg.Storage.MaxUploadSize, logger)
	if err != nil {
		return nil, err
	}
	router.Handle(store.PublicPath()+"/*", http.StripPrefix(store.PublicPath()+"/", http.FileServer(store.FileSystem())))

	tracker, err := newTracker(cfg.Throttle, deps.Redis)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	db := deps.DB.DB()
	timeout := cfg.Database.QueryTimeout
	userRepo := repository.NewUserRepository(db, timeout)
	refreshTokenRepo := repository.NewRefreshTokenRepository(db, timeout)
	categoryRepo := repository.NewCategoryRepository(db, timeout)
	productRepo := repository.NewProductRepository(db, timeout)

	// Initialize services
	userService := service.NewUserService(userRepo, refreshTokenRepo, cfg.JWT.Secret, cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL())
	categoryService := service.NewCategoryService(categoryRepo, logger)
	productService := service.NewProductService(productRepo, categoryRepo, store, tracker, m, logger)
	imageService := service.NewImageService(store, m, logger)

	// Initialize handlers
	userHandler := transport.NewUserHandler(userService, productService, transport.SessionCookies{
		Secure:     cfg.Server.IsProduction(),
		AccessTTL:  cfg.JWT.AccessTTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
	}, logger)
	categoryHandler := transport.NewCategoryHandler(categoryService, productService, logger)
	productHandler := transport.NewProductHandler(productService, cfg.Storage.MaxUploadSize, logger)
	uploadHandler := transport.NewUploadHandler(imageService, cfg.Storage.MaxUploadSize, logger)

	// Create auth middleware
	authMiddleware := custommiddleware.AuthMiddleware(userService, logger)
	optionalAuth := custommiddleware.OptionalAuth(userService, logger)

	// Mutations require an active account and are rate limited when enabled
	protect := []func(http.Handler) http.Handler{authMiddleware, custommiddleware.RequireActive(logger)}
	if cfg.RateLimit.Enabled {
		if deps.Redis == nil {
			return nil, fmt.Errorf("rate limiting requires a redis client")
		}
		protect = append(protect, custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         "rate_limit",
		}, logger))
	}

	// Register routes
	userHandler.RegisterRoutes(router, authMiddleware)
	categoryHandler.RegisterRoutes(router)
	productHandler.RegisterRoutes(router, optionalAuth, protect...)
	uploadHandler.RegisterRoutes(router, protect...)

	server := &Server{
		Server: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
			Handler: router,
			// uploads of up to ten images need more than the default read budget
			IdleTimeout:       time.Minute,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Minute,
			WriteTimeout:      time.Minute,
		},
		config: cfg,
		logger: logger,
		db:     deps.DB,
		redis:  deps.Redis,
	}

	return server, nil
}

func newTracker(cfg config.ThrottleConfig, client *redis.Client) (throttle.Tracker, error) {
	switch cfg.Backend {
	case "", "memory":
		return throttle.NewMemoryTracker(cfg.Cooldown, throttle.WithCapacity(cfg.Capacity)), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis throttle backend requires a redis client")
		}
		return throttle.NewRedisTracker(client, cfg.Cooldown, "view_throttle"), nil
	default:
		return nil, fmt.Errorf("unknown throttle backend %q", cfg.Backend)
	}
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	// Close database connection
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	_ = s.logger.Sync()
	return nil
}
