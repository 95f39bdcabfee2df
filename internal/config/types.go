package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
// Omitted fields fall back to the values in Defaults().
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Monitor   MonitorConfig   `json:"monitor"`
	SpeedTest SpeedTestConfig `json:"speedtest"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MonitorConfig controls the health cycle.
//
// Interface is the initially selected interface. It can be changed at
// runtime (CLI pick, hot reload); an unknown name is rejected and the
// previous selection is kept.
type MonitorConfig struct {
	Interface string `json:"interface"`
	Gateway   string `json:"gateway"`
	DNS       string `json:"dns"`

	// HealthInterval accepts anything the schedule parser does ("5s", "@every 5s", cron).
	HealthInterval string `json:"health_interval"`
	PingTimeout    string `json:"ping_timeout"`

	// Privileged selects raw ICMP sockets (needs CAP_NET_RAW) over unprivileged UDP pings.
	// nil means "privileged everywhere except macOS".
	Privileged *bool `json:"privileged,omitempty"`

	// ExcludePrefixes hides interfaces whose name starts with any of these.
	// Default: lo, docker, veth.
	ExcludePrefixes []string `json:"exclude_prefixes,omitempty"`

	Timezone string `json:"timezone,omitempty"`
}

// SpeedTestConfig controls the speed-test cascade.
type SpeedTestConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Schedule is aligned to wall-clock boundaries when given as cron (default "*/10 * * * *").
	Schedule string `json:"schedule"`
	// Timeout bounds one whole cascade run.
	Timeout string `json:"timeout,omitempty"`

	Endpoints []EndpointConfig `json:"endpoints,omitempty"`

	DownloadURLs []string `json:"download_urls,omitempty"`
	// DiscoveryURL optionally points at a fast.com-style API returning
	// {"targets":[{"url":...}]}; discovered targets are tried before DownloadURLs.
	DiscoveryURL    string  `json:"discovery_url,omitempty"`
	DownloadTimeout string  `json:"download_timeout,omitempty"`
	UploadRatio     float64 `json:"upload_ratio,omitempty"`

	Sweep SweepConfig `json:"sweep"`
}

// EndpointConfig is one dedicated throughput-test server.
type EndpointConfig struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	// Protocol is "iperf3" (default) or "ookla".
	Protocol string `json:"protocol,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// SweepConfig controls the ICMP payload-size sweep (last-resort strategy).
type SweepConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Sizes   []int  `json:"sizes,omitempty"`
	Count   int    `json:"count,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Metrics bool   `json:"metrics,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	Prefix  string `json:"prefix,omitempty"` // pprof prefix, default "/debug/pprof/"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// SystemdConfig enables sd_notify integration (READY/WATCHDOG/STOPPING).
type SystemdConfig struct {
	Notify bool `json:"notify"`
}
