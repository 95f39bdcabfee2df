package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"netmon/internal/config"
	"netmon/internal/monitor"
	"netmon/internal/observability/debugsrv"
	"netmon/pkg/logx"
	"netmon/pkg/speedtest"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	pingTimeout, err := parseDurationOrDefault("monitor.ping_timeout", cfg.Monitor.PingTimeout, 3*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Gateway:          strings.TrimSpace(cfg.Monitor.Gateway),
		DNS:              strings.TrimSpace(cfg.Monitor.DNS),
		PingTimeout:      pingTimeout,
		HealthSchedule:   cfg.Monitor.HealthInterval,
		SpeedSchedule:    cfg.SpeedTest.Schedule,
		SpeedTestEnabled: config.Bool(cfg.SpeedTest.Enabled, true),
		Timezone:         cfg.Monitor.Timezone,
	}, nil
}

// privileged defaults to raw sockets everywhere but macOS, which allows
// unprivileged ICMP datagram sockets out of the box.
func privileged(cfg *config.Config) bool {
	return config.Bool(cfg.Monitor.Privileged, runtime.GOOS != "darwin")
}

func mapEndpoints(cfg *config.Config) ([]speedtest.Endpoint, error) {
	out := make([]speedtest.Endpoint, 0, len(cfg.SpeedTest.Endpoints))
	for i, ep := range cfg.SpeedTest.Endpoints {
		d, err := parseDurationOrDefault(endpointKey(i, "duration"), ep.Duration, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, speedtest.Endpoint{
			Host:     strings.TrimSpace(ep.Host),
			Port:     ep.Port,
			Protocol: strings.ToLower(strings.TrimSpace(ep.Protocol)),
			Duration: d,
		})
	}
	return out, nil
}

func endpointKey(i int, field string) string {
	return fmt.Sprintf("speedtest.endpoints[%d].%s", i, field)
}

func mapHTTPConfig(cfg *config.Config) (speedtest.HTTPConfig, error) {
	perURL, err := parseDurationOrDefault("speedtest.download_timeout", cfg.SpeedTest.DownloadTimeout, 30*time.Second)
	if err != nil {
		return speedtest.HTTPConfig{}, err
	}
	return speedtest.HTTPConfig{
		URLs:          append([]string(nil), cfg.SpeedTest.DownloadURLs...),
		DiscoveryURL:  strings.TrimSpace(cfg.SpeedTest.DiscoveryURL),
		PerURLTimeout: perURL,
		UploadRatio:   cfg.SpeedTest.UploadRatio,
		Transport:     speedtest.TransportConfig{OperationTimeout: perURL, MaxConnsPerHost: 4},
	}, nil
}

func mapSweepConfig(cfg *config.Config) (speedtest.SweepConfig, bool, error) {
	sw := cfg.SpeedTest.Sweep
	timeout, err := parseDurationOrDefault("speedtest.sweep.timeout", sw.Timeout, 0)
	if err != nil {
		return speedtest.SweepConfig{}, false, err
	}
	return speedtest.SweepConfig{
		Gateway: strings.TrimSpace(cfg.Monitor.Gateway),
		Sizes:   append([]int(nil), sw.Sizes...),
		Count:   sw.Count,
		Timeout: timeout,
	}, config.Bool(sw.Enabled, true), nil
}

func mapSpeedTimeout(cfg *config.Config) (time.Duration, error) {
	return parseDurationOrDefault("speedtest.timeout", cfg.SpeedTest.Timeout, 3*time.Minute)
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	read, err := parseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// pprof profile/trace stream for their whole duration; keep writes generous.
	write, err := parseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idle, err := parseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		Metrics:              d.Metrics,
		Pprof:                d.Pprof,
		Prefix:               d.Prefix,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}, nil
}
