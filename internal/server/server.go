package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"oldruby-market/internal/config"
	"oldruby-market/internal/database"
	custommiddleware "oldruby-market/internal/middleware"
	"oldruby-market/internal/repository"
	"oldruby-market/internal/service"
	"oldruby-market/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broker carries repair requests and sale notifications
type Broker interface {
	service.RepairQueue
	service.EventPublisher
}

type Server struct {
	*http.Server
	config      *config.Config
	logger      *zap.Logger
	db          *database.Service
	redis       *redis.Client
	coordinator service.Coordinator
	reconciler  *service.Reconciler
}

func NewServer(cfg *config.Config, logger *zap.Logger, db *database.Service, broker Broker) *Server {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Initialize repositories
	userRepo := repository.NewUserRepository(db.DB())
	productRepo := repository.NewProductRepository(db.DB())
	bookingRepo := repository.NewBookingRepository(db.DB())
	categoryRepo := repository.NewCategoryRepository(db.DB())

	// Initialize services
	coordinator := service.NewCoordinator(userRepo, productRepo, bookingRepo, categoryRepo, broker, broker, logger)
	queries := service.NewQueryService(userRepo, productRepo, bookingRepo, categoryRepo)
	tokens := service.NewTokenService(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessExpiry)*time.Minute)
	reconciler := service.NewReconciler(userRepo, productRepo, bookingRepo, cfg.Reconciler.Interval, logger)

	router := chi.NewRouter()
	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.IsDevelopment()))

	s := &Server{
		config:      cfg,
		logger:      logger,
		db:          db,
		redis:       redisClient,
		coordinator: coordinator,
		reconciler:  reconciler,
	}

	router.Get("/health", s.health)

	limit := func(prefix string) func(http.Handler) http.Handler {
		return custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         prefix,
		}, logger)
	}

	// anonymous traffic is limited per address, authenticated traffic per email
	verify := custommiddleware.AuthMiddleware(tokens, logger)
	perUser := limit("rate_limit:user")
	authMiddleware := func(next http.Handler) http.Handler {
		return verify(perUser(next))
	}

	router.Group(func(r chi.Router) {
		r.Use(limit("rate_limit:ip"))

		transport.NewUserHandler(coordinator, queries, tokens, logger).RegisterRoutes(r, authMiddleware)
		transport.NewCategoryHandler(coordinator, queries, logger).RegisterRoutes(r, authMiddleware)
		transport.NewProductHandler(coordinator, queries, logger).RegisterRoutes(r, authMiddleware)
		transport.NewBookingHandler(coordinator, queries, logger).RegisterRoutes(r, authMiddleware)
	})

	s.Server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Coordinator exposes the coordinator so the repair consumer can replay operations
func (s *Server) Coordinator() service.Coordinator {
	return s.coordinator
}

// Reconciler exposes the background sweep
func (s *Server) Reconciler() *service.Reconciler {
	return s.reconciler
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}

	dbHealth := s.db.Health(r.Context())
	body["database"] = dbHealth
	if dbHealth["status"] != "up" {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}

	// the limiter fails open, so redis being down does not degrade the service
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		body["redis"] = "down"
	} else {
		body["redis"] = "up"
	}

	custommiddleware.RespondWithJSON(w, status, body)
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
			return err
		}
	}

	return nil
}
