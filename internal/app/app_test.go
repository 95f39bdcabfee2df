package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"

	"netmon/internal/config"
	"netmon/internal/eventbus"
	"netmon/internal/monitor"
	"netmon/internal/netif"
	"netmon/pkg/logx"
)

func lister(names ...string) netif.RegistryOption {
	return netif.WithLister(func(context.Context) (psnet.InterfaceStatList, error) {
		out := make(psnet.InterfaceStatList, 0, len(names))
		for i, n := range names {
			out = append(out, psnet.InterfaceStat{
				Name:  n,
				Addrs: psnet.InterfaceAddrList{{Addr: fmt.Sprintf("10.0.0.%d/24", i+1)}},
			})
		}
		return out, nil
	})
}

func buildTest(t *testing.T, cfg *config.Config, names ...string) *Components {
	t.Helper()
	c, err := Build(cfg, BuildOptions{
		Log:      logx.Nop(),
		Bus:      eventbus.Nop{},
		Notifier: monitor.NopNotifier{},
		Registry: []netif.RegistryOption{lister(names...)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func TestMapMonitorConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Monitor.Gateway = " 192.168.1.1 "
	cfg.Monitor.PingTimeout = "750ms"
	off := false
	cfg.SpeedTest.Enabled = &off

	got, err := mapMonitorConfig(cfg)
	if err != nil {
		t.Fatalf("mapMonitorConfig: %v", err)
	}
	if got.Gateway != "192.168.1.1" || got.PingTimeout != 750*time.Millisecond || got.SpeedTestEnabled {
		t.Fatalf("unexpected mapping: %+v", got)
	}
	if got.HealthSchedule != config.DefaultHealthInterval || got.SpeedSchedule != config.DefaultSpeedSchedule {
		t.Fatalf("schedules = %q / %q", got.HealthSchedule, got.SpeedSchedule)
	}
}

func TestMapEndpointsRejectsBadDuration(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.SpeedTest.Endpoints = []config.EndpointConfig{
		{Host: "a", Protocol: "IPERF3 "},
		{Host: "b", Duration: "soon"},
	}
	_, err := mapEndpoints(cfg)
	if err == nil || !strings.Contains(err.Error(), "speedtest.endpoints[1].duration") {
		t.Fatalf("err = %v", err)
	}

	cfg.SpeedTest.Endpoints = cfg.SpeedTest.Endpoints[:1]
	eps, err := mapEndpoints(cfg)
	if err != nil {
		t.Fatalf("mapEndpoints: %v", err)
	}
	if eps[0].Protocol != "iperf3" {
		t.Fatalf("protocol = %q", eps[0].Protocol)
	}
}

func TestMapSweepConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.SpeedTest.Sweep.Timeout = "1s"
	sw, on, err := mapSweepConfig(cfg)
	if err != nil {
		t.Fatalf("mapSweepConfig: %v", err)
	}
	if !on || sw.Gateway != cfg.Monitor.Gateway || sw.Timeout != time.Second {
		t.Fatalf("sweep = %+v on=%v", sw, on)
	}

	off := false
	cfg.SpeedTest.Sweep.Enabled = &off
	if _, on, _ := mapSweepConfig(cfg); on {
		t.Fatalf("sweep should be disabled")
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"bad health", func(c *config.Config) { c.Monitor.HealthInterval = "often" }, "monitor.health_interval"},
		{"bad speed", func(c *config.Config) { c.SpeedTest.Schedule = "61 * * * *" }, "speedtest.schedule"},
		{"bad debug", func(c *config.Config) { c.Debug.ReadTimeout = "x" }, "debug.read_timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Defaults()
			tt.mutate(cfg)
			err := validateConfig(context.Background(), cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSelectConfigured(t *testing.T) {
	t.Parallel()
	c := buildTest(t, config.Defaults(), "eth0", "wlan0")
	ctx := context.Background()

	name, err := c.SelectConfigured(ctx, "")
	if err != nil || name != "eth0" {
		t.Fatalf("SelectConfigured(\"\") = %q, %v", name, err)
	}
	if name, err = c.SelectConfigured(ctx, "wlan0"); err != nil || name != "wlan0" {
		t.Fatalf("SelectConfigured(wlan0) = %q, %v", name, err)
	}
	if _, err := c.SelectConfigured(ctx, "ppp0"); !errors.Is(err, monitor.ErrInterfaceNotFound) {
		t.Fatalf("err = %v, want ErrInterfaceNotFound", err)
	}
	if got := c.Monitor.Status().SelectedInterface; got != "wlan0" {
		t.Fatalf("selection = %q, want wlan0 kept", got)
	}

	empty := buildTest(t, config.Defaults())
	if _, err := empty.SelectConfigured(ctx, ""); !errors.Is(err, monitor.ErrNoInterface) {
		t.Fatalf("err = %v, want ErrNoInterface", err)
	}
}

func TestComponentsApply(t *testing.T) {
	t.Parallel()
	c := buildTest(t, config.Defaults(), "eth0")
	if len(c.strategies()) != 3 {
		t.Fatalf("strategies = %d, want 3", len(c.strategies()))
	}

	next := config.Defaults()
	off := false
	next.SpeedTest.Sweep.Enabled = &off
	next.Monitor.Gateway = "10.1.1.1"
	if err := c.Apply(next); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if c.sweepEnabled || len(c.strategies()) != 2 {
		t.Fatalf("sweep still enabled")
	}
	if got := c.Monitor.Status().Gateway; got != "10.1.1.1" {
		t.Fatalf("gateway = %q", got)
	}

	bad := config.Defaults()
	bad.SpeedTest.Timeout = "forever"
	if err := c.Apply(bad); err == nil {
		t.Fatalf("expected mapping error")
	}
}
