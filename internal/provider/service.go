package provider

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/flowscore/internal/cycle"
	"github.com/danmuck/flowscore/internal/delivery"
	"github.com/danmuck/flowscore/internal/discovery"
	"github.com/danmuck/flowscore/internal/logging"
	"github.com/danmuck/flowscore/internal/observability"
	"github.com/danmuck/flowscore/internal/score"
	"github.com/danmuck/flowscore/internal/segment"
	"github.com/danmuck/flowscore/internal/transport"
)

type Option func(*Service)

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(s *Service) { s.dialer = d }
}

// WithBrowser replaces the mDNS resolver used when discovery is enabled.
func WithBrowser(b discovery.Browser) Option {
	return func(s *Service) { s.browser = b }
}

func WithSegmentOptions(opts ...segment.Option) Option {
	return func(s *Service) { s.segOpts = append(s.segOpts, opts...) }
}

func WithDeliveryOptions(opts ...delivery.Option) Option {
	return func(s *Service) { s.loopOpts = append(s.loopOpts, opts...) }
}

// Service runs the provider lifecycle as a standalone process.
type Service struct {
	cfg      ServiceConfig
	dialer   transport.Dialer
	browser  discovery.Browser
	segOpts  []segment.Option
	loopOpts []delivery.Option

	tracker *delivery.Tracker
	metrics *observability.ProviderMetrics

	mu       sync.RWMutex
	doc      *score.Document
	endpoint transport.Endpoint
	target   string
	summary  cycle.Summary
}

func NewService(cfg ServiceConfig, opts ...Option) *Service {
	if strings.TrimSpace(cfg.Role) == "" {
		cfg.Role = transport.RoleProvider
	}
	s := &Service{
		cfg:     cfg,
		tracker: delivery.NewTracker(),
		metrics: observability.NewProviderMetrics(cfg.ProviderID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = transport.NewWebsocketDialer(cfg.Transport)
	}
	return s
}

// Run blocks until the cycle driver finishes or a process signal arrives.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext is Run with caller-owned cancellation. Cancellation is a
// clean shutdown and returns nil.
func (s *Service) RunContext(ctx context.Context) error {
	driver, err := s.bootstrap(ctx)
	if err != nil {
		return err
	}
	return s.serve(ctx, driver)
}

func (s *Service) Tracker() *delivery.Tracker {
	return s.tracker
}

// Target returns the resolved broker URL, empty before bootstrap.
func (s *Service) Target() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

func (s *Service) Summary() cycle.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

func (s *Service) bootstrap(ctx context.Context) (*cycle.Driver, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Infof("provider.Service.bootstrap loading document=%q", s.cfg.DocumentPath)
	doc, err := score.Load(s.cfg.DocumentPath)
	if err != nil {
		return nil, err
	}

	ep, err := s.resolveEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	target := transport.URL(ep, s.cfg.Role)

	loopOpts := append([]delivery.Option{
		delivery.WithRecorder(s.metrics),
		delivery.WithTracker(s.tracker),
	}, s.loopOpts...)
	loop, err := delivery.NewLoop(s.dialer, s.cfg.Delivery, loopOpts...)
	if err != nil {
		return nil, err
	}
	driver, err := cycle.NewDriver(doc, target, loop, s.cfg.Cycle,
		cycle.WithTracker(s.tracker),
		cycle.WithRecorder(s.metrics),
		cycle.WithSegmentOptions(s.segOpts...),
	)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.doc = doc
	s.endpoint = ep
	s.target = target
	s.mu.Unlock()

	logging.Infof(
		"provider.Service.bootstrap ready provider_id=%q measures=%d target=%s mode=%s measures_per_fragment=%d-%d",
		s.cfg.ProviderID,
		doc.Len(),
		target,
		s.cfg.Cycle.Mode,
		s.cfg.Cycle.MinMeasures,
		s.cfg.Cycle.MaxMeasures,
	)
	return driver, nil
}

func (s *Service) resolveEndpoint(ctx context.Context) (transport.Endpoint, error) {
	if raw := strings.TrimSpace(s.cfg.Broker.URL); raw != "" {
		return transport.ParseEndpoint(raw)
	}
	if !s.cfg.Broker.Discover {
		return s.cfg.Broker.Endpoint, nil
	}

	browser := s.browser
	if browser == nil {
		b, err := discovery.NewBrowser()
		if err != nil {
			return transport.Endpoint{}, err
		}
		browser = b
	}
	logging.Infof("provider.Service.resolveEndpoint discovering service=%s timeout=%s", discovery.ServiceType, s.cfg.Broker.DiscoveryTimeout)
	brokers, err := discovery.Discover(ctx, browser, s.cfg.Broker.DiscoveryTimeout)
	if err != nil {
		return transport.Endpoint{}, err
	}
	if len(brokers) == 0 {
		return transport.Endpoint{}, discovery.ErrNoBrokers
	}
	if len(brokers) > 1 {
		logging.Warnf("provider.Service.resolveEndpoint found=%d using first name=%q", len(brokers), brokers[0].Name)
	}
	return brokers[0], nil
}

func (s *Service) serve(ctx context.Context, driver *cycle.Driver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	driverErr := make(chan error, 1)
	adminErr := make(chan error, 1)
	go func() {
		sum, err := driver.Run(ctx)
		s.mu.Lock()
		s.summary = sum
		s.mu.Unlock()
		driverErr <- err
	}()
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, s.cfg.AdminListenAddr)
		}()
	}

	for {
		select {
		case err := <-driverErr:
			if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				logging.Infof("provider.Service.serve shutdown")
				return nil
			}
			if err != nil {
				return err
			}
			sum := s.Summary()
			logging.Infof("provider.Service.serve finished cycles=%d fragments=%d retries=%d", sum.Cycles, sum.Fragments, sum.Retries)
			return nil
		case err := <-adminErr:
			if err != nil {
				return fmt.Errorf("provider: admin: %w", err)
			}
		case <-ticker.C:
			st := s.tracker.Snapshot()
			inFlight := "none"
			if st.InFlight != nil {
				inFlight = fmt.Sprintf("%d-%d attempts=%d", st.InFlight.StartMeasure, st.InFlight.EndMeasure, st.InFlight.Attempts)
			}
			logging.Infof(
				"provider.Service.heartbeat provider_id=%q cycle=%d delivered=%d retries=%d progress=%d/%d in_flight=%s",
				s.cfg.ProviderID,
				st.Cycle,
				st.Delivered,
				st.Retries,
				st.LastEndMeasure,
				st.TotalMeasures,
				inFlight,
			)
		}
	}
}
