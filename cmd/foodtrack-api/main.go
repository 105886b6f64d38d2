// README: Entry point; loads config, wires services, starts HTTP server and background jobs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foodtrack/internal/config"
	httptransport "foodtrack/internal/http"
	"foodtrack/internal/infra"
	"foodtrack/internal/jobs"
	"foodtrack/internal/maps"
	"foodtrack/internal/modules/location"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/modules/tracking"
	"foodtrack/internal/notify"
	"foodtrack/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("foodtrack-api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var notifiers order.Notifiers
	var orderOpts []order.Option
	orderOpts = append(orderOpts, order.WithLogger(logger))

	if cfg.Kafka.Enabled {
		producer, err := infra.NewKafkaProducer(cfg.Kafka.Brokers, "foodtrack-api")
		if err != nil {
			return err
		}
		kafkaPub := notify.NewKafkaPublisher(producer, cfg.Kafka.StatusTopic, cfg.Kafka.PaymentTopic, logger)
		defer kafkaPub.Close()
		notifiers = append(notifiers, kafkaPub)
		orderOpts = append(orderOpts, order.WithPaymentNotifier(kafkaPub))
	}

	var verifier infra.TokenVerifier
	if cfg.Firebase.Enabled {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
		fcm, err := infra.NewMessaging(ctx, app)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, notify.NewPusher(fcm, logger))
	} else {
		if verifier, err = infra.NewJWTVerifier(cfg.Auth.JWTSecret); err != nil {
			return err
		}
		logger.Warn("firebase disabled, using shared-secret JWT auth")
	}

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(orderStore, orderOpts...)

	locationStore := location.NewRedisStore(redisClient)
	locationSvc := location.NewService(locationStore, orderSvc, logger)

	provider, err := routeProvider(cfg, logger)
	if err != nil {
		return err
	}
	resolver := maps.NewResolver(provider, cfg.Tracking.RouteTimeout, logger)

	tc := cfg.Tracking
	sources := tracking.AgentSources(locationSvc, tracking.SourceConfig{
		PollInterval: tc.PollInterval,
		SimTick:      tc.SimTick,
		Sim:          tracking.SimConfig{Fraction: tc.SimFraction, SpeedMPS: tc.SimSpeedMPS},
	}, logger)
	tracker := tracking.NewTracker(orderSvc, resolver, sources, logger,
		tracking.WithPublisher(tracking.NewRedisPublisher(redisClient)),
		tracking.WithSessionConfig(tracking.SessionConfig{
			Sampler: tracking.SamplerConfig{
				ThresholdMeters: tc.ThresholdMeters,
				MinInterval:     tc.Debounce,
				Fallback:        types.Point{Lat: tc.FallbackLat, Lng: tc.FallbackLng},
			},
			TrailSize:    tc.TrailSize,
			RouteRetries: uint64(max(tc.RouteRetries, 0)),
		}),
	)
	defer tracker.Shutdown()
	notifiers = append(notifiers, tracker, locationSvc)
	orderSvc.SetNotifier(notifiers)

	if err := tracker.Reconcile(ctx); err != nil {
		logger.Error("initial tracking reconcile", "error", err)
	}
	reconcileJob := jobs.NewTrackingReconcileJob(tracker, cfg.Jobs.ReconcileSpec, logger)
	if err := reconcileJob.Start(); err != nil {
		return err
	}
	defer reconcileJob.Stop()

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Order:    orderSvc,
		Location: locationSvc,
		Tracker:  tracker,
		Verifier: verifier,
		Logger:   logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// routeProvider uses Google Directions when an API key is configured and a
// straight-line estimate otherwise.
func routeProvider(cfg config.Config, logger *slog.Logger) (maps.Provider, error) {
	if cfg.Maps.APIKey == "" {
		logger.Warn("maps api key not set, using straight-line routes")
		return maps.StraightLineProvider{Detour: 1.3}, nil
	}
	return maps.NewGoogleProvider(cfg.Maps.APIKey)
}
