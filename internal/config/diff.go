package config

import (
	"reflect"
	"sort"
	"strings"

	logx "netmon/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	om, nm := oldCfg.Monitor, newCfg.Monitor
	if !reflect.DeepEqual(om, nm) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.interface", nm.Interface),
			logx.String("monitor.gateway", nm.Gateway),
			logx.String("monitor.dns", nm.DNS),
			logx.String("monitor.health_interval", nm.HealthInterval),
			logx.Bool("monitor.interface_changed", strings.TrimSpace(om.Interface) != strings.TrimSpace(nm.Interface)),
		)
	}

	ost, ns := oldCfg.SpeedTest, newCfg.SpeedTest
	if !reflect.DeepEqual(ost, ns) {
		changed = append(changed, "speedtest")
		attrs = append(attrs,
			logx.String("speedtest.schedule", ns.Schedule),
			logx.Int("speedtest.endpoints", len(ns.Endpoints)),
			logx.Int("speedtest.download_urls", len(ns.DownloadURLs)),
			logx.Bool("speedtest.schedule_changed", ost.Schedule != ns.Schedule),
		)
	}

	// Never log the token itself, only whether one is set.
	od, nd := oldCfg.Debug, newCfg.Debug
	if od.Enabled != nd.Enabled ||
		strings.TrimSpace(od.Addr) != strings.TrimSpace(nd.Addr) ||
		od.AllowInsecure != nd.AllowInsecure ||
		od.Metrics != nd.Metrics ||
		od.Pprof != nd.Pprof ||
		strings.TrimSpace(od.Prefix) != strings.TrimSpace(nd.Prefix) ||
		od.ReadTimeout != nd.ReadTimeout ||
		od.WriteTimeout != nd.WriteTimeout ||
		od.IdleTimeout != nd.IdleTimeout ||
		od.MutexProfileFraction != nd.MutexProfileFraction ||
		od.BlockProfileRate != nd.BlockProfileRate ||
		od.Token != nd.Token {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.metrics", nd.Metrics),
			logx.Bool("debug.pprof", nd.Pprof),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}
