// Package monitor drives the health cycle and the speed-test cycle and exposes
// the operations an operator surface (CLI, HTTP API) consumes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"netmon/internal/metrics"
	"netmon/internal/netif"
	"netmon/pkg/logx"
	"netmon/pkg/speedtest"
)

var (
	// ErrInterfaceNotFound is returned by SelectInterface for unknown names.
	ErrInterfaceNotFound = errors.New("interface not found")
	// ErrNoInterface is returned by SelectInterface for an empty name.
	ErrNoInterface = errors.New("no interface specified")
)

// Registry enumerates interfaces and reports link state.
type Registry interface {
	List(ctx context.Context) ([]netif.InterfaceInfo, error)
	IsUp(ctx context.Context, name string) (bool, string)
}

// Prober measures round-trip latency in milliseconds.
type Prober interface {
	Latency(ctx context.Context, host string, timeout time.Duration) (float64, bool)
}

// Sampler reads cumulative interface byte counters.
type Sampler interface {
	Sample(ctx context.Context, name string) netif.Bandwidth
}

// SpeedTester runs the speed-test cascade.
type SpeedTester interface {
	Run(ctx context.Context) *speedtest.Result
}

// EndpointSetter receives throughput endpoints from a provisioning collaborator.
type EndpointSetter interface {
	SetEndpoints(eps []speedtest.Endpoint)
}

// Config is the runtime view of the monitor settings.
type Config struct {
	Gateway     string
	DNS         string
	PingTimeout time.Duration

	HealthSchedule   string
	SpeedSchedule    string
	SpeedTestEnabled bool
	Timezone         string
}

func (c Config) withDefaults() Config {
	if c.PingTimeout <= 0 {
		c.PingTimeout = 3 * time.Second
	}
	if strings.TrimSpace(c.HealthSchedule) == "" {
		c.HealthSchedule = "5s"
	}
	if strings.TrimSpace(c.SpeedSchedule) == "" {
		c.SpeedSchedule = "*/10 * * * *"
	}
	return c
}

// Deps are the collaborators of a Service. Metrics is required.
type Deps struct {
	Registry  Registry
	Probe     Prober
	Sampler   Sampler
	SpeedTest SpeedTester
	Endpoints EndpointSetter
	Metrics   *metrics.Aggregator
	Notifier  Notifier
	Log       logx.Logger
}

// Service is the monitoring core.
type Service struct {
	reg       Registry
	probe     Prober
	sampler   Sampler
	speed     SpeedTester
	endpoints EndpointSetter
	agg       *metrics.Aggregator
	notifier  Notifier
	log       logx.Logger

	// failLog throttles repeated cycle-failure logs.
	failLog *rate.Limiter

	mu        sync.Mutex
	cfg       Config
	c         *cron.Cron
	healthID  cron.EntryID
	speedID   cron.EntryID
	runCtx    context.Context
	runCancel context.CancelFunc
	firstRun  sync.WaitGroup
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(metrics.WithLogger(d.Log))
	}
	cfg = cfg.withDefaults()
	s := &Service{
		reg:       d.Registry,
		probe:     d.Probe,
		sampler:   d.Sampler,
		speed:     d.SpeedTest,
		endpoints: d.Endpoints,
		agg:       d.Metrics,
		notifier:  d.Notifier,
		log:       d.Log,
		failLog:   rate.NewLimiter(rate.Every(time.Minute), 1),
		cfg:       cfg,
	}
	s.agg.SetTargets(cfg.Gateway, cfg.DNS)
	return s
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Status returns a snapshot of the monitoring state.
func (s *Service) Status() metrics.State { return s.agg.Snapshot() }

// Metrics exposes the aggregator (collectors, tests).
func (s *Service) Metrics() *metrics.Aggregator { return s.agg }

// Interfaces lists the interfaces that can be selected.
func (s *Service) Interfaces(ctx context.Context) ([]netif.InterfaceInfo, error) {
	if s.reg == nil {
		return nil, errors.New("interface registry unavailable")
	}
	return s.reg.List(ctx)
}

// SelectInterface switches the monitored interface. An unknown name leaves
// the selection unchanged.
func (s *Service) SelectInterface(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNoInterface
	}
	list, err := s.Interfaces(ctx)
	if err != nil {
		return fmt.Errorf("select interface %q: %w", name, err)
	}
	for _, it := range list {
		if it.Name == name {
			prev := s.agg.Selected()
			s.agg.SetSelected(name)
			if prev != name {
				s.log.Info("interface selected", logx.String("interface", name), logx.String("previous", prev))
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

// RunSpeedTestNow runs the cascade synchronously and records the result. It
// waits for a scheduled run in flight.
func (s *Service) RunSpeedTestNow(ctx context.Context) *speedtest.Result {
	if s.speed == nil {
		r := &speedtest.Result{Method: speedtest.MethodError, Error: "speed test unavailable", Timestamp: time.Now()}
		s.agg.RecordSpeedTest(r)
		return r
	}
	r := s.speed.Run(ctx)
	s.agg.RecordSpeedTest(r)
	return r
}

// ResetMetrics clears the extrema, the downtime count and the history.
func (s *Service) ResetMetrics() { s.agg.Reset() }

// SetEndpoints replaces the throughput-test endpoints.
func (s *Service) SetEndpoints(eps []speedtest.Endpoint) {
	if s.endpoints == nil {
		s.log.Warn("throughput strategy unavailable; endpoints ignored", logx.Int("count", len(eps)))
		return
	}
	s.endpoints.SetEndpoints(eps)
	s.log.Info("throughput endpoints updated", logx.Int("count", len(eps)))
}
