// README: Entry point; loads config, wires stores and services, starts HTTP server and the confirmation monitor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridewise/internal/config"
	"ridewise/internal/events"
	httptransport "ridewise/internal/http"
	"ridewise/internal/infra"
	"ridewise/internal/maps"
	"ridewise/internal/modules/dispatch"
	"ridewise/internal/modules/history"
	"ridewise/internal/modules/lifecycle"
	"ridewise/internal/modules/location"
	"ridewise/internal/modules/pricing"
	"ridewise/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := infra.NewLogger("ridewise-api", cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ridewise-api stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Firebase.ProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, infra.FirebaseConfig{
		ProjectID:       cfg.Firebase.ProjectID,
		CredentialsFile: cfg.Firebase.CredentialsFile,
		DatabaseURL:     cfg.Firebase.DatabaseURL,
	})
	if err != nil {
		return err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return err
	}

	rides, records, closeStores, err := openStores(ctx, cfg, app, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	availability, err := openAvailability(ctx, cfg, app, logger)
	if err != nil {
		return err
	}

	var (
		index    dispatch.Index = dispatch.NewMemoryIndex()
		attempts lifecycle.AttemptLimiter
	)
	attempts = lifecycle.NewMemoryAttemptLimiter(cfg.Lifecycle.OTPAttemptWindow)
	if cfg.Redis.Addr != "" {
		redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		index = dispatch.NewRedisIndex(redisClient)
		attempts = lifecycle.NewRedisAttemptLimiter(redisClient, cfg.Lifecycle.OTPAttemptWindow)
	} else {
		logger.Warn("RIDEWISE_REDIS_ADDR not set; dispatch index and otp counters are in-process")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			return err
		}
		defer rabbit.Close()
		publisher = rabbit
	}

	var router lifecycle.Router = maps.StraightLineEstimator{}
	var places *maps.PlacesService
	if cfg.Maps.APIKey != "" {
		opts := maps.Options{APIKey: cfg.Maps.APIKey, Region: cfg.Maps.Region, Language: cfg.Maps.Language}
		routeSvc, err := maps.NewRouteService(opts)
		if err != nil {
			return err
		}
		router = routeSvc
		if places, err = maps.NewPlacesService(opts); err != nil {
			return err
		}
	} else {
		logger.Warn("GOOGLE_MAPS_API_KEY not set; durations use straight-line estimates and places are disabled")
	}

	loc, err := time.LoadLocation(cfg.Pricing.Timezone)
	if err != nil {
		return fmt.Errorf("pricing timezone: %w", err)
	}
	rates := pricing.DefaultRates()
	rates.BaseFare = cfg.Pricing.BaseFare
	rates.PerKmRate = cfg.Pricing.PerKmRate
	rates.PerMinRate = cfg.Pricing.PerMinRate
	rates.MinimumFare = cfg.Pricing.MinimumFare
	rates.Currency = cfg.Pricing.Currency
	pricingSvc := pricing.NewService(rates, loc)

	historySvc := history.NewService(records, logger)
	dispatchSvc := dispatch.NewService(rides, availability, index, publisher, cfg.Dispatch, logger)
	lifecycleSvc := lifecycle.NewService(lifecycle.Deps{
		Rides:    rides,
		Router:   router,
		Pricing:  pricingSvc,
		History:  historySvc,
		Dispatch: dispatchSvc,
		Attempts: attempts,
		Events:   publisher,
		Logger:   logger,
	}, cfg.Lifecycle)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:  verifier,
		Lifecycle: lifecycleSvc,
		Dispatch:  dispatchSvc,
		History:   historySvc,
		Places:    places,
		Logger:    logger,
	})

	go lifecycleSvc.RunTimeoutMonitor(ctx)

	return httptransport.NewServer(cfg.HTTP.Addr, handler, logger).Run(ctx)
}

// openStores picks the ride and history backends. Both live in the same database.
func openStores(ctx context.Context, cfg config.Config, app *firebase.App, logger *slog.Logger) (ride.Store, history.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendFirestore:
		client, err := infra.NewFirestore(ctx, app)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = client.Close() }
		return ride.NewFirestoreStore(client, logger), history.NewFirestoreStore(client), closeFn, nil
	case config.BackendPostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := migrate(ctx, cfg, pool, logger); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return ride.NewPostgresStore(pool, logger), history.NewPostgresStore(pool), pool.Close, nil
	default:
		logger.Warn("using in-memory stores; rides and history are lost on restart")
		return ride.NewMemoryStore(), history.NewMemoryStore(), func() {}, nil
	}
}

func migrate(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) error {
	if !cfg.DB.AutoMigrate {
		return nil
	}
	dir := cfg.DB.MigrationsDir
	if dir == "" {
		var err error
		if dir, err = infra.MigrationsDir(); err != nil {
			return err
		}
	}
	logger.Info("applying migrations", "dir", dir)
	return infra.ApplyMigrations(ctx, pool, dir)
}

// openAvailability uses the Realtime Database when configured.
func openAvailability(ctx context.Context, cfg config.Config, app *firebase.App, logger *slog.Logger) (location.AvailabilityStore, error) {
	if cfg.Firebase.DatabaseURL == "" {
		logger.Warn("FIREBASE_DATABASE_URL not set; driver availability is in-process")
		return location.NewMemoryAvailabilityStore(), nil
	}
	client, err := infra.NewRealtimeDB(ctx, app)
	if err != nil {
		return nil, err
	}
	return location.NewFirebaseAvailabilityStore(client), nil
}
