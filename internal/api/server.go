package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"mileage/internal/authz"
	"mileage/internal/config"
	"mileage/internal/events"
	"mileage/internal/store"
	"mileage/internal/tracking"
	"mileage/internal/webhooks"
)

type Server struct {
	Config   config.Config
	Store    store.Store
	Pub      *webhooks.Publisher
	Broker   events.EventBroker
	Device   *authz.Device
	Tracker  *tracking.Tracker
	Location *LocationCache

	fixLimiter *rate.Limiter
	closers    []func()
}

// NewServer wires the service from config. If DATABASE_URL is unset, uses the
// in-memory store; if REDIS_URL is unset, events stay in-process.
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	s := &Server{Config: cfg, Location: NewLocationCache()}

	var base store.Store
	if cfg.DatabaseURL == "" {
		base = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		base = pg
	}

	// Broker selection
	s.Broker = events.NewBroker()
	if cfg.RedisURL != "" {
		if rb, err := events.NewRedisBroker(cfg.RedisURL); err == nil {
			s.Broker = rb
			s.closers = append(s.closers, func() { _ = rb.Close() })
		} else {
			log.Warn().Err(err).Msg("redis broker unavailable, using in-process broker")
		}
	}

	var targets []webhooks.Target
	for _, u := range cfg.LedgerURLs() {
		targets = append(targets, webhooks.Target{URL: u, Secret: cfg.LedgerWebhookSecret})
	}
	s.Pub = webhooks.NewPublisher(base, targets...)
	s.Store = webhooks.NewLedgerStore(base, s.Pub)

	var policy authz.GrantPolicy
	if cfg.AutoGrantPermission {
		policy = authz.AutoGrant
	}
	s.Device = authz.NewDevice(cfg.Authorization(), policy)
	s.Tracker = tracking.New(tracking.Config{Filter: cfg.Filter(), QueueSize: cfg.FixQueueSize}, s.Device, s.Store, s.Broker)
	s.fixLimiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	return s, nil
}

// Run drives the tracker until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error { return s.Tracker.Run(ctx) }

// NewLedgerWorker creates a background worker for ledger deliveries.
func (s *Server) NewLedgerWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts)
}

func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Routes returns the full handler tree with logging and metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Tracking
	mux.HandleFunc("/v1/tracking/start", s.TrackingStartHandler)
	mux.HandleFunc("/v1/tracking/stop", s.TrackingStopHandler)
	mux.HandleFunc("/v1/tracking/fixes", s.TrackingFixesHandler)
	mux.HandleFunc("/v1/tracking/status", s.TrackingStatusHandler)
	mux.HandleFunc("/v1/tracking/location", s.TrackingLocationHandler)
	mux.HandleFunc("/v1/tracking/events/stream", s.TrackingEventsStreamHandler)
	mux.HandleFunc("/v1/tracking/ws", s.TrackingWSHandler)

	// Authorization
	mux.HandleFunc("/v1/authorization", s.AuthorizationHandler)
	mux.HandleFunc("/v1/authorization/request", s.AuthorizationRequestHandler)

	// Trips
	mux.HandleFunc("/v1/trips", s.TripsHandler)
	mux.HandleFunc("/v1/trips/manual", s.ManualTripHandler)
	mux.HandleFunc("/v1/trips/totals", s.TripTotalsHandler)
	mux.HandleFunc("/v1/trips/", s.TripByIDHandler)

	// Ledger export
	mux.HandleFunc("/v1/ledger/deliveries", s.LedgerDeliveriesHandler)
	mux.HandleFunc("/v1/ledger/deliveries/", s.LedgerDeliveryRetryHandler)

	// Health, metrics, docs
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return logMiddleware(metricsMiddleware(mux))
}
