package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"

	httpapi "github.com/lucaspecout/ope-protec/internal/api/http"
	"github.com/lucaspecout/ope-protec/internal/config"
	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/geo"
	"github.com/lucaspecout/ope-protec/internal/observability"
	"github.com/lucaspecout/ope-protec/internal/risks"
	"github.com/lucaspecout/ope-protec/internal/risks/sources"
	"github.com/lucaspecout/ope-protec/internal/scheduler"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	// Shared HTTP client for all outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	fetchOpts := fetchhttp.Options{
		MaxRetries: cfg.FetchRetries,
		BaseDelay:  cfg.FetchBaseDelay,
	}
	// One resilient client per upstream so a tripped circuit stays local.
	newFetcher := func(name string) *fetchhttp.Client {
		return fetchhttp.New(httpClient, name, fetchOpts)
	}

	// Geocoding with an LRU front so commune lookups mostly stay offline.
	geocoder := geo.NewCachedGeocoder(
		geo.NewClient(newFetcher("geo-api-gouv"), "", slogger), 0, metrics)
	snapper := geo.NewSnapper(geo.DefaultSegments(), geo.DefaultAliases())

	weatherSrc := sources.NewWeatherSource(newFetcher("meteo-france"), clock, slogger)
	riverSrc := sources.NewRiverSource(newFetcher("vigicrues"), geocoder, snapper, clock, slogger,
		cfg.PriorityStations, cfg.RiverStationLimit)
	roadSrc := sources.NewRoadSource(newFetcher("itinisere"), clock, slogger, 0)
	trafficSrc := sources.NewTrafficSource(newFetcher("bison-fute"), clock, slogger)
	registrySrc := sources.NewRegistrySource(newFetcher("georisques"), geocoder, clock, slogger,
		cfg.GeorisquesAPIToken, cfg.MonitoredCommunes)
	newsSrc := sources.NewNewsSource(newFetcher("prefecture"), clock, slogger, 0)
	airSrc := sources.NewAirSource(newFetcher("atmo"), clock, slogger)
	railSrc := sources.NewRailSource(roadSrc, clock, slogger, 0)
	waterSrc := sources.NewWaterSource(newFetcher("vigieau"), clock, slogger)
	powerSrc := sources.NewPowerSource(newFetcher("rte"), clock, slogger)
	boundarySrc := sources.NewBoundarySource(newFetcher("boundary"), clock, slogger)

	service := risks.NewService(risks.Fetchers{
		Weather:  weatherSrc.Fetch,
		River:    riverSrc.Fetch,
		Road:     roadSrc.Fetch,
		Traffic:  trafficSrc.Fetch,
		Registry: registrySrc.Fetch,
		News:     newsSrc.Fetch,
		Air:      airSrc.Fetch,
		Rail:     railSrc.Fetch,
		Water:    waterSrc.Fetch,
		Power:    powerSrc.Fetch,
		Boundary: boundarySrc.Fetch,
	}, risks.TTLs{
		Weather:  cfg.TTLs.Weather,
		River:    cfg.TTLs.River,
		Road:     cfg.TTLs.Road,
		Traffic:  cfg.TTLs.Traffic,
		Registry: cfg.TTLs.Registry,
		News:     cfg.TTLs.News,
		Air:      cfg.TTLs.Air,
		Rail:     cfg.TTLs.Rail,
		Water:    cfg.TTLs.Water,
		Power:    cfg.TTLs.Power,
		Boundary: cfg.TTLs.Boundary,
	}, clock, metrics, slogger)

	// Background refresher keeping the snapshot warm.
	sched := scheduler.New(service, cfg.RefreshInterval, slogger)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "ope-protec",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
