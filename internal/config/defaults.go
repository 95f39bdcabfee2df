package config

import "strings"

const (
	DefaultGateway        = "100.64.0.1"
	DefaultDNS            = "198.54.100.65"
	DefaultHealthInterval = "5s"
	DefaultPingTimeout    = "3s"
	DefaultSpeedSchedule  = "*/10 * * * *"
	DefaultSpeedTimeout   = "3m"
	DefaultUploadRatio    = 0.1
	DefaultIperf3Port     = 5201
	DefaultDebugAddr      = "127.0.0.1:9464"
)

var (
	DefaultExcludePrefixes = []string{"lo", "docker", "veth"}
	DefaultSweepSizes      = []int{32, 64, 128, 512, 1024}
	DefaultDownloadURLs    = []string{
		"https://speed.cloudflare.com/__down?bytes=10000000",
		"http://speedtest.tele2.net/10MB.zip",
	}
)

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields in place. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}

	m := &cfg.Monitor
	if strings.TrimSpace(m.Gateway) == "" {
		m.Gateway = DefaultGateway
	}
	if strings.TrimSpace(m.DNS) == "" {
		m.DNS = DefaultDNS
	}
	if strings.TrimSpace(m.HealthInterval) == "" {
		m.HealthInterval = DefaultHealthInterval
	}
	if strings.TrimSpace(m.PingTimeout) == "" {
		m.PingTimeout = DefaultPingTimeout
	}
	if m.ExcludePrefixes == nil {
		m.ExcludePrefixes = append([]string(nil), DefaultExcludePrefixes...)
	}

	s := &cfg.SpeedTest
	if strings.TrimSpace(s.Schedule) == "" {
		s.Schedule = DefaultSpeedSchedule
	}
	if strings.TrimSpace(s.Timeout) == "" {
		s.Timeout = DefaultSpeedTimeout
	}
	if s.DownloadURLs == nil {
		s.DownloadURLs = append([]string(nil), DefaultDownloadURLs...)
	}
	if s.UploadRatio == 0 {
		s.UploadRatio = DefaultUploadRatio
	}
	for i := range s.Endpoints {
		ep := &s.Endpoints[i]
		if strings.TrimSpace(ep.Protocol) == "" {
			ep.Protocol = "iperf3"
		}
		if ep.Port == 0 && strings.EqualFold(ep.Protocol, "iperf3") {
			ep.Port = DefaultIperf3Port
		}
	}
	if len(s.Sweep.Sizes) == 0 {
		s.Sweep.Sizes = append([]int(nil), DefaultSweepSizes...)
	}
	if s.Sweep.Count <= 0 {
		s.Sweep.Count = 4
	}

	if strings.TrimSpace(cfg.Debug.Addr) == "" {
		cfg.Debug.Addr = DefaultDebugAddr
	}
}

// Bool dereferences an optional flag.
func Bool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
