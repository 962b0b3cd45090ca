package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/diagnosis/tutoring-appointments/pkg/config"
	"github.com/diagnosis/tutoring-appointments/pkg/database"
	"github.com/diagnosis/tutoring-appointments/pkg/events"
	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	mw "github.com/diagnosis/tutoring-appointments/pkg/middleware"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/availability"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/cache"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/handlers"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/mailer"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/notify"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/repository"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/service"
)

const idempotencyTTL = 24 * time.Hour

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the appointments HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadCalendar(cfg *config.Config) (*domain.Calendar, error) {
	if cfg.Calendar.File == "" {
		return domain.DefaultCalendar(), nil
	}
	return domain.LoadCalendar(cfg.Calendar.File)
}

func connectEvents(cfg *config.Config) events.EventBus {
	if cfg.NATS.URL == "" {
		logger.Info("NATS_URL not set, using in-process event bus")
		return events.NewMemoryEventBus()
	}
	bus, err := events.NewNATSEventBus(cfg.NATS.URL, cfg.NATS.Name)
	if err != nil {
		logger.Warn("Failed to connect to NATS, using in-process event bus", "error", err)
		return events.NewMemoryEventBus()
	}
	return bus
}

func runServer(migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		if _, err := database.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	cal, err := loadCalendar(cfg)
	if err != nil {
		return err
	}

	redisClient, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := connectEvents(cfg)
	defer bus.Close()

	sender, err := mailer.New(cfg.Email)
	if err != nil {
		return err
	}
	queue := notify.NewQueue(
		notify.NewDispatcher(sender, cfg.Email.AdminEmail, cfg.Notify.SendTimeout),
		bus,
		cfg.Notify.QueueSize,
		cfg.Notify.Workers,
	)

	repo := repository.NewAppointmentRepository(pool, cfg.Database.QueryTimeout)
	engine := availability.NewEngine(cal, repo, cache.NewSlotCache(redisClient, cfg.Redis.CacheTTL))
	svc := service.NewAppointmentService(repo, cal, engine, bus, queue)
	h := handlers.New(svc, engine, cfg.Auth.JWTSecret)

	limiter := mw.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("appointments"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.CORS(cfg.Server.CORSOrigins))
	r.Use(mw.Health(pool))
	h.Routes(r, limiter.Middleware, mw.Idempotency(idempotencyStore(redisClient), idempotencyTTL))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting appointments service", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down appointments service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Appointments service shutdown error", "error", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("Notification queue did not drain", "error", err)
	}
	return nil
}

// idempotencyStore returns nil, disabling replay, when Redis is off.
func idempotencyStore(client *redis.Client) mw.IdempotencyStore {
	if client == nil {
		return nil
	}
	return cache.NewIdempotencyStore(client)
}
