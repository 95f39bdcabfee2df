package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "netmon.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.Gateway != DefaultGateway || cfg.Monitor.DNS != DefaultDNS {
		t.Fatalf("targets = %q/%q", cfg.Monitor.Gateway, cfg.Monitor.DNS)
	}
	if cfg.SpeedTest.Schedule != DefaultSpeedSchedule {
		t.Fatalf("schedule = %q", cfg.SpeedTest.Schedule)
	}
	if got := cfg.SpeedTest.Sweep.Sizes; len(got) != 5 || got[0] != 32 || got[4] != 1024 {
		t.Fatalf("sweep sizes = %v", got)
	}
	if cfg.SpeedTest.UploadRatio != DefaultUploadRatio {
		t.Fatalf("upload ratio = %v", cfg.SpeedTest.UploadRatio)
	}
	if m.Get() != cfg {
		t.Fatalf("Load should commit the config")
	}
}

func TestParseYAMLAndJSONAgree(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yml := filepath.Join(dir, "netmon.yaml")
	writeFile(t, yml, `
monitor:
  interface: eth0
  gateway: 192.168.1.1
speedtest:
  endpoints:
    - host: 10.0.0.5
    - host: st.example.net
      port: 8080
      protocol: ookla
`)
	js := filepath.Join(dir, "netmon.json")
	writeFile(t, js, `{"monitor":{"interface":"eth0","gateway":"192.168.1.1"},
"speedtest":{"endpoints":[{"host":"10.0.0.5"},{"host":"st.example.net","port":8080,"protocol":"ookla"}]}}`)

	a, err := NewConfigManager(yml).Parse()
	if err != nil {
		t.Fatalf("yaml Parse: %v", err)
	}
	b, err := NewConfigManager(js).Parse()
	if err != nil {
		t.Fatalf("json Parse: %v", err)
	}
	if hashConfig(a) != hashConfig(b) {
		t.Fatalf("yaml and json configs differ:\n%+v\n%+v", a, b)
	}
	ep := a.SpeedTest.Endpoints
	if ep[0].Protocol != "iperf3" || ep[0].Port != DefaultIperf3Port {
		t.Fatalf("endpoint defaults not applied: %+v", ep[0])
	}
	if ep[1].Port != 8080 || ep[1].Protocol != "ookla" {
		t.Fatalf("explicit endpoint values lost: %+v", ep[1])
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{"unknown yaml key", "c.yaml", "monitor:\n  gatway: 1.1.1.1\n"},
		{"unknown json key", "c.json", `{"bogus": true}`},
		{"trailing json", "c.json", `{} {}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.body)
			if _, err := NewConfigManager(path).Parse(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"bad ping timeout", func(c *Config) { c.Monitor.PingTimeout = "soon" }, "monitor.ping_timeout"},
		{"ratio too high", func(c *Config) { c.SpeedTest.UploadRatio = 2 }, "upload_ratio"},
		{"bad protocol", func(c *Config) {
			c.SpeedTest.Endpoints = []EndpointConfig{{Host: "h", Protocol: "udp"}}
		}, "protocol"},
		{"missing host", func(c *Config) { c.SpeedTest.Endpoints = []EndpointConfig{{Port: 1}} }, "host is required"},
		{"bad url", func(c *Config) { c.SpeedTest.DownloadURLs = []string{"ftp://x/y"} }, "download_urls[0]"},
		{"bad sweep size", func(c *Config) { c.SpeedTest.Sweep.Sizes = []int{0} }, "sweep.sizes[0]"},
		{"bad timezone", func(c *Config) { c.Monitor.Timezone = "Mars/Olympus" }, "monitor.timezone"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Defaults()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("explicit: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestSetInterfaceYAMLPreservesComments(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "netmon.yaml")
	writeFile(t, path, "# main config\nmonitor:\n  # uplink\n  interface: eth0\n  gateway: 10.0.0.1\n")

	if err := SetInterface(path, "wlan0"); err != nil {
		t.Fatalf("SetInterface: %v", err)
	}
	b, _ := os.ReadFile(path)
	s := string(b)
	for _, want := range []string{"# main config", "# uplink", "interface: wlan0", "gateway: 10.0.0.1"} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in:\n%s", want, s)
		}
	}
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse after edit: %v", err)
	}
	if cfg.Monitor.Interface != "wlan0" {
		t.Fatalf("interface = %q", cfg.Monitor.Interface)
	}
}

func TestSetInterfaceCreatesSections(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"new.yaml", "new.json"} {
		path := filepath.Join(dir, name)
		if err := SetInterface(path, "eth1"); err != nil {
			t.Fatalf("SetInterface(%s): %v", name, err)
		}
		cfg, err := NewConfigManager(path).Parse()
		if err != nil {
			t.Fatalf("Parse(%s): %v", name, err)
		}
		if cfg.Monitor.Interface != "eth1" {
			t.Fatalf("%s: interface = %q", name, cfg.Monitor.Interface)
		}
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "netmon.json")
	writeFile(t, path, `{"monitor":{"interface":"eth0"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload unchanged: %v", err)
	}
	select {
	case <-sub:
		t.Fatalf("unchanged config must not publish")
	default:
	}

	writeFile(t, path, `{"monitor":{"interface":"eth1"}}`)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload changed: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Monitor.Interface != "eth1" {
			t.Fatalf("published interface = %q", cfg.Monitor.Interface)
		}
	default:
		t.Fatalf("expected publish")
	}
}

func TestReloadRejectedByValidator(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "netmon.json")
	writeFile(t, path, `{}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Monitor.Interface == "bad" {
			return os.ErrInvalid
		}
		return nil
	})
	prev := m.Get()
	writeFile(t, path, `{"monitor":{"interface":"bad"}}`)
	if err := m.Reload(context.Background()); err == nil {
		t.Fatalf("expected rejection")
	}
	if m.Get() != prev {
		t.Fatalf("rejected config must not be committed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := Defaults()
	b := Defaults()
	b.Monitor.Interface = "eth9"
	b.Debug.Token = "secret"

	sections, attrs := SummarizeConfigChange(a, b)
	if strings.Join(sections, ",") != "debug,monitor" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if s, _ := SummarizeConfigChange(a, Defaults()); len(s) != 0 {
		t.Fatalf("identical configs reported changes: %v", s)
	}
}
