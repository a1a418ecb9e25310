package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldops/dispatchd/api/booking"
	"github.com/fieldops/dispatchd/config"
	"github.com/fieldops/dispatchd/core/dispatch"
	"github.com/fieldops/dispatchd/core/dispatch/logging"
	"github.com/fieldops/dispatchd/core/events"
	coremetrics "github.com/fieldops/dispatchd/core/metrics"
	"github.com/fieldops/dispatchd/core/presence"
	"github.com/fieldops/dispatchd/infra/logger"
	"github.com/fieldops/dispatchd/infra/metrics"
	"github.com/fieldops/dispatchd/infra/mqtt"
	"github.com/fieldops/dispatchd/infra/ws"
	"github.com/fieldops/dispatchd/internal/eventbus"
)

// Service wires the dispatch core to its transports and observability.
type Service struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *presence.Registry

	cfg       *config.Config
	wsServer  *ws.Server
	api       *booking.Handler
	bus       eventbus.EventBus
	publisher mqtt.OutcomePublisher
	log       logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	registry := presence.NewRegistry(logger.New("presence"))

	var sinks []coremetrics.OutcomeSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.OutcomeSink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	var store logging.Store
	var err error
	switch cfg.Store.Backend {
	case "sqlite":
		store, err = logging.NewSQLiteStore(cfg.Store.Path)
	case "jsonl":
		store, err = logging.NewJSONLStore(cfg.Store.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch log store: %w", err)
	}

	bus := eventbus.New()
	registry.SetEventBus(bus)
	dispatcher, err := dispatch.NewDispatcher(registry, cfg.Dispatch, sink, bus, store, logger.New("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	var publisher mqtt.OutcomePublisher
	if cfg.MQTT.Enabled {
		publisher, err = mqtt.NewPahoPublisher(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
	}

	svc := &Service{
		Dispatcher: dispatcher,
		Registry:   registry,
		cfg:        cfg,
		wsServer:   ws.NewServer(cfg.WS, registry, dispatcher, logger.New("ws")),
		api:        booking.NewHandler(dispatcher, registry, store, cfg.API.AuthToken, logger.New("api")),
		bus:        bus,
		publisher:  publisher,
		log:        logg,
	}
	return svc, nil
}

// Run starts the transports and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.publisher != nil {
		sub := s.bus.Subscribe()
		go s.forwardOutcomes(sub)
	}
	go func() {
		if err := s.wsServer.Run(ctx); err != nil {
			s.log.Errorf("websocket server: %v", err)
		}
	}()
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.cfg.API.Addr, Handler: s.api.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infof("booking api listening on %s", s.cfg.API.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// forwardOutcomes pushes terminal outcomes to the MQTT publisher.
func (s *Service) forwardOutcomes(sub <-chan eventbus.Event) {
	for ev := range sub {
		rec, ok := ev.(events.OutcomeRecorded)
		if !ok {
			continue
		}
		if err := s.publisher.PublishOutcome(rec.Outcome); err != nil {
			s.log.Errorf("outcome publish: %v", err)
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	err := s.Dispatcher.Close()
	if s.publisher != nil {
		s.publisher.Close()
	}
	return err
}
