// README: Entry point; loads config, derives the identity, wires the ride client and serves the local control API.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orbix/internal/auth"
	"orbix/internal/config"
	"orbix/internal/gateway"
	httptransport "orbix/internal/http"
	"orbix/internal/http/handlers"
	"orbix/internal/infra"
	"orbix/internal/maps"
	"orbix/internal/modules/journal"
	"orbix/internal/modules/ride"
	"orbix/internal/modules/session"
	"orbix/internal/modules/tracker"
	"orbix/internal/payment"
	"orbix/internal/realtime"
	"orbix/internal/service"
	"orbix/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("orbix client stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	identity, err := auth.IdentityFromToken(cfg.Backend.SessionToken, cfg.Identity.RoleHint, time.Now())
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("identity", string(identity.ID)), zap.String("role", string(identity.Role)))

	conn, err := realtime.Dial(ctx, realtime.Options{
		URL:            cfg.Backend.WSURL,
		Token:          cfg.Backend.SessionToken,
		Identity:       identity,
		MaxRetries:     cfg.Realtime.MaxRetries,
		BackoffInitial: cfg.Realtime.BackoffInitial,
		BackoffMax:     cfg.Realtime.BackoffMax,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	charger, err := payment.New(cfg.Payment.Provider, cfg.Payment.StripeSecretKey, cfg.Payment.RazorpayKeyID, cfg.Payment.RazorpayKeySecret)
	if err != nil && !errors.Is(err, payment.ErrNoProvider) {
		_ = conn.Close()
		return err
	}
	if charger == nil {
		logger.Info("no payment provider configured; card and upi payments are disabled")
	}
	backend := gateway.New(gateway.Options{
		BaseURL:     cfg.Backend.APIBaseURL,
		Token:       cfg.Backend.SessionToken,
		Role:        identity.Role,
		Timeout:     cfg.Backend.HTTPTimeout,
		Charger:     charger,
		ReadRetries: cfg.Backend.ReadRetries,
		Logger:      logger,
	})

	store := ride.NewStore(ride.Options{
		Role:       identity.Role,
		IdentityID: identity.ID,
		OfferTTL:   cfg.Ride.OfferTTL,
		Logger:     logger,
	})
	start := types.LatLng{Lat: cfg.Sim.StartLat, Lng: cfg.Sim.StartLng}
	deps := service.Deps{
		Store:    store,
		Realtime: conn,
		Backend:  backend,
		Geo:      tracker.NewSimulatedGeolocator(cfg.Sim.Interval, cfg.Sim.SpeedKmh, start),
		Routes:   tracker.StraightLine{SpeedKmh: cfg.Sim.SpeedKmh},
		Logger:   logger,
	}

	var places handlers.PlaceSuggester
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey, "")
		if err != nil {
			_ = conn.Close()
			return err
		}
		deps.Routes, deps.Geocoder = routes, routes
		p, err := maps.NewPlacesService(cfg.Maps.APIKey, "")
		if err != nil {
			_ = conn.Close()
			return err
		}
		places = p
	} else {
		logger.Info("no maps key; using straight-line routes")
	}

	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Warn("session cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			deps.Cache = session.NewRedisCache(rdb, identity.ID, 0)
		}
	}
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Warn("ride journal disabled", zap.Error(err))
		} else {
			defer pool.Close()
			deps.Journal = journal.NewStore(pool)
		}
	}

	client, err := service.NewRideClient(deps, service.Options{
		MatchTimeout:    cfg.Ride.MatchTimeout,
		DedupWindow:     cfg.Ride.DedupWindow,
		VehicleType:     cfg.Identity.VehicleType,
		MinEmitInterval: cfg.Ride.MinEmitInterval,
		RouteRefresh:    cfg.Ride.RouteRefresh,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := client.Start(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	defer func() {
		if err := client.Logout(); err != nil {
			logger.Warn("logout", zap.Error(err))
		}
	}()

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.ServerDeps{
		Rides:  client,
		Places: places,
		Token:  cfg.HTTP.Token,
		Logger: logger,
	})

	unwatch := conn.WatchStatus(func(s realtime.Status) {
		logger.Info("realtime status", zap.String("status", string(s)))
	})
	defer unwatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		greet(gctx, backend, logger)
		return nil
	})
	return g.Wait()
}

// greet logs who is signed in and their wallet balance. Failures are not fatal.
func greet(ctx context.Context, backend *gateway.Client, logger *zap.Logger) {
	profile, err := backend.Profile(ctx)
	if err != nil {
		logger.Warn("profile unavailable", zap.Error(err))
		return
	}
	fields := []zap.Field{zap.String("name", profile.Name), zap.Bool("verified", profile.Verified)}
	if profile.Vehicle != "" {
		fields = append(fields, zap.String("vehicle", profile.Vehicle))
	}
	if balance, err := backend.WalletBalance(ctx); err == nil {
		fields = append(fields, zap.String("wallet", balance.String()))
	} else {
		logger.Debug("wallet balance unavailable", zap.Error(err))
	}
	logger.Info("signed in", fields...)
}
