package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means 0.
// path is the config key used in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks everything that can be checked without touching the host.
// Schedules are validated by the monitor package, which owns the parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	field := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	field("monitor.ping_timeout", cfg.Monitor.PingTimeout)
	if strings.TrimSpace(cfg.Monitor.Gateway) == "" {
		errs = append(errs, errors.New("monitor.gateway is required"))
	}
	if tz := strings.TrimSpace(cfg.Monitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("monitor.timezone: invalid %q: %w", tz, err))
		}
	}

	st := cfg.SpeedTest
	field("speedtest.timeout", st.Timeout)
	field("speedtest.download_timeout", st.DownloadTimeout)
	field("speedtest.sweep.timeout", st.Sweep.Timeout)
	if st.UploadRatio < 0 || st.UploadRatio > 1 {
		errs = append(errs, fmt.Errorf("speedtest.upload_ratio must be within [0,1], got %v", st.UploadRatio))
	}
	for i, ep := range st.Endpoints {
		path := fmt.Sprintf("speedtest.endpoints[%d]", i)
		if strings.TrimSpace(ep.Host) == "" {
			errs = append(errs, fmt.Errorf("%s.host is required", path))
		}
		if ep.Port < 0 || ep.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port out of range: %d", path, ep.Port))
		}
		switch strings.ToLower(strings.TrimSpace(ep.Protocol)) {
		case "", "iperf3", "ookla":
		default:
			errs = append(errs, fmt.Errorf("%s.protocol: unsupported %q (use iperf3 or ookla)", path, ep.Protocol))
		}
		field(path+".duration", ep.Duration)
	}
	for i, raw := range st.DownloadURLs {
		if err := validateHTTPURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("speedtest.download_urls[%d]: %w", i, err))
		}
	}
	if strings.TrimSpace(st.DiscoveryURL) != "" {
		if err := validateHTTPURL(st.DiscoveryURL); err != nil {
			errs = append(errs, fmt.Errorf("speedtest.discovery_url: %w", err))
		}
	}
	for i, sz := range st.Sweep.Sizes {
		if sz <= 0 || sz > 65500 {
			errs = append(errs, fmt.Errorf("speedtest.sweep.sizes[%d] out of range: %d", i, sz))
		}
	}
	if st.Sweep.Count < 0 {
		errs = append(errs, errors.New("speedtest.sweep.count must be >= 0"))
	}

	field("debug.read_timeout", cfg.Debug.ReadTimeout)
	field("debug.write_timeout", cfg.Debug.WriteTimeout)
	field("debug.idle_timeout", cfg.Debug.IdleTimeout)

	return errors.Join(errs...)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
