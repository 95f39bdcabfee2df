package app

import (
	"context"
	"fmt"

	"netmon/internal/config"
	"netmon/internal/eventbus"
	"netmon/internal/metrics"
	"netmon/internal/monitor"
	"netmon/internal/netif"
	"netmon/internal/probe"
	"netmon/pkg/logx"
	"netmon/pkg/speedtest"
)

// Components is the monitoring stack built from one config. The daemon and
// the one-shot CLI commands share it.
type Components struct {
	Registry     *netif.Registry
	Sampler      *netif.Sampler
	Probe        *probe.Probe
	Throughput   *speedtest.Throughput
	HTTP         *speedtest.HTTPDownload
	Sweep        *speedtest.ICMPSweep
	Orchestrator *speedtest.Orchestrator
	Metrics      *metrics.Aggregator
	Monitor      *monitor.Service

	log          logx.Logger
	sweepEnabled bool
}

// BuildOptions carries the process-wide collaborators.
type BuildOptions struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Notifier monitor.Notifier

	// Registry options, e.g. netif.WithLister in containers and tests.
	Registry []netif.RegistryOption
}

// Build wires the stack. It does not start anything.
func Build(cfg *config.Config, opts BuildOptions) (*Components, error) {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	monCfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	eps, err := mapEndpoints(cfg)
	if err != nil {
		return nil, err
	}
	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	sweepCfg, sweepOn, err := mapSweepConfig(cfg)
	if err != nil {
		return nil, err
	}
	timeout, err := mapSpeedTimeout(cfg)
	if err != nil {
		return nil, err
	}

	c := &Components{log: log, sweepEnabled: sweepOn}
	c.Registry = netif.NewRegistry(cfg.Monitor.ExcludePrefixes, opts.Registry...)
	c.Sampler = netif.NewSampler(nil)
	c.Probe = probe.Default(privileged(cfg), log.With(logx.String("comp", "probe")))

	stLog := log.With(logx.String("comp", "speedtest"))
	c.Throughput = speedtest.NewThroughput(map[string]speedtest.Client{
		"iperf3": &speedtest.Iperf3{},
		"ookla":  &speedtest.Ookla{},
	}, stLog)
	c.Throughput.SetEndpoints(eps)
	c.HTTP = speedtest.NewHTTPDownload(httpCfg, stLog)
	c.Sweep = speedtest.NewICMPSweep(c.Probe.Echo, sweepCfg)
	c.Orchestrator = speedtest.NewOrchestrator(stLog, c.strategies(), speedtest.WithTimeout(timeout))

	c.Metrics = metrics.New(
		metrics.WithLogger(log.With(logx.String("comp", "metrics"))),
		metrics.WithBus(opts.Bus),
	)
	c.Monitor = monitor.New(monCfg, monitor.Deps{
		Registry:  c.Registry,
		Probe:     c.Probe,
		Sampler:   c.Sampler,
		SpeedTest: c.Orchestrator,
		Endpoints: c.Throughput,
		Metrics:   c.Metrics,
		Notifier:  opts.Notifier,
		Log:       log.With(logx.String("comp", "monitor")),
	})
	return c, nil
}

func (c *Components) strategies() []speedtest.Strategy {
	ss := []speedtest.Strategy{c.Throughput, c.HTTP}
	if c.sweepEnabled {
		ss = append(ss, c.Sweep)
	}
	return ss
}

// Apply pushes a reloaded config into the running stack. Nothing is applied
// when any section fails to map.
func (c *Components) Apply(cfg *config.Config) error {
	monCfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return err
	}
	eps, err := mapEndpoints(cfg)
	if err != nil {
		return err
	}
	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	sweepCfg, sweepOn, err := mapSweepConfig(cfg)
	if err != nil {
		return err
	}
	timeout, err := mapSpeedTimeout(cfg)
	if err != nil {
		return err
	}

	if err := c.Monitor.Apply(monCfg); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	c.Registry.SetExcludePrefixes(cfg.Monitor.ExcludePrefixes)
	c.Throughput.SetEndpoints(eps)
	c.HTTP.SetConfig(httpCfg)
	c.Sweep.SetConfig(sweepCfg)
	c.Orchestrator.SetTimeout(timeout)
	if sweepOn != c.sweepEnabled {
		c.sweepEnabled = sweepOn
		c.Orchestrator.SetStrategies(c.strategies())
	}
	return nil
}

// SelectConfigured selects name, or the first listed interface when name is
// empty. It returns the selected name.
func (c *Components) SelectConfigured(ctx context.Context, name string) (string, error) {
	if name == "" {
		list, err := c.Monitor.Interfaces(ctx)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "", monitor.ErrNoInterface
		}
		name = list[0].Name
	}
	if err := c.Monitor.SelectInterface(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}
