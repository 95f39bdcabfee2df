package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netmon/internal/metrics"
	"netmon/internal/netif"
	"netmon/pkg/logx"
	"netmon/pkg/speedtest"
)

type fakeRegistry struct {
	mu      sync.Mutex
	list    []netif.InterfaceInfo
	listErr error
	up      bool
	reason  string
}

func (f *fakeRegistry) List(context.Context) ([]netif.InterfaceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]netif.InterfaceInfo(nil), f.list...), f.listErr
}

func (f *fakeRegistry) IsUp(_ context.Context, name string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up, f.reason
}

func (f *fakeRegistry) setUp(up bool) {
	f.mu.Lock()
	f.up = up
	f.mu.Unlock()
}

type fakeProbe struct {
	latency map[string]float64
	panics  bool
}

func (f fakeProbe) Latency(_ context.Context, host string, _ time.Duration) (float64, bool) {
	if f.panics {
		panic("icmp socket exploded")
	}
	v, ok := f.latency[host]
	return v, ok
}

type fakeSampler struct{ bw netif.Bandwidth }

func (f fakeSampler) Sample(context.Context, string) netif.Bandwidth { return f.bw }

type fakeSpeed struct {
	calls atomic.Int32
	res   *speedtest.Result
}

func (f *fakeSpeed) Run(context.Context) *speedtest.Result {
	f.calls.Add(1)
	return f.res.Clone()
}

type fakeEndpoints struct{ got []speedtest.Endpoint }

func (f *fakeEndpoints) SetEndpoints(eps []speedtest.Endpoint) { f.got = eps }

type countingNotifier struct {
	ready, watchdog, stopping atomic.Int32
}

func (n *countingNotifier) Ready()    { n.ready.Add(1) }
func (n *countingNotifier) Watchdog() { n.watchdog.Add(1) }
func (n *countingNotifier) Stopping() { n.stopping.Add(1) }

func eth0() []netif.InterfaceInfo {
	return []netif.InterfaceInfo{
		{Name: "eth0", Addresses: []netif.Address{{IP: "10.0.0.2", Netmask: "255.255.255.0"}}},
		{Name: "wlan0", Addresses: []netif.Address{{IP: "192.168.1.5", Netmask: "255.255.255.0"}}},
	}
}

func newTestService(reg *fakeRegistry, p Prober, d Deps) *Service {
	d.Registry = reg
	d.Probe = p
	if d.Sampler == nil {
		d.Sampler = fakeSampler{bw: netif.Bandwidth{Rx: 1 << 20, Tx: 1 << 20}}
	}
	d.Log = logx.Nop()
	return New(Config{Gateway: "100.64.0.1", DNS: "198.54.100.65", PingTimeout: time.Second}, d)
}

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   SpecKind
		source string
		cron   string
	}{
		{name: "cron", raw: "*/10 * * * *", kind: SpecCron, source: "cron", cron: "*/10 * * * *"},
		{name: "cron with seconds", raw: "0 */10 * * * *", kind: SpecCron, source: "cron", cron: "0 */10 * * * *"},
		{name: "descriptor", raw: "@every 5s", kind: SpecCron, source: "cron", cron: "@every 5s"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "duration", raw: "5s", kind: SpecInterval, source: "duration", cron: "@every 5s"},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", cron: "@every 45s"},
		{name: "every prefix", raw: "every:2m", kind: SpecInterval, source: "duration", cron: "@every 2m0s"},
		{name: "hhmm", raw: "00:10", kind: SpecInterval, source: "hhmm", cron: "@every 10m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("got kind=%v source=%s, want %v %s", got.Kind, got.Source, tt.kind, tt.source)
			}
			if got.CronSpec() != tt.cron {
				t.Fatalf("CronSpec = %q, want %q", got.CronSpec(), tt.cron)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "61 * * * *", "00:75", "0s", "cron:", "interval:nope"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestSelectInterface(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{list: eth0()}
	s := newTestService(reg, fakeProbe{}, Deps{})
	ctx := context.Background()

	if err := s.SelectInterface(ctx, "eth0"); err != nil {
		t.Fatalf("SelectInterface(eth0): %v", err)
	}
	if err := s.SelectInterface(ctx, "eth9"); !errors.Is(err, ErrInterfaceNotFound) {
		t.Fatalf("unknown name: err=%v", err)
	}
	if err := s.SelectInterface(ctx, "  "); !errors.Is(err, ErrNoInterface) {
		t.Fatalf("empty name: err=%v", err)
	}
	if got := s.Status().SelectedInterface; got != "eth0" {
		t.Fatalf("selection changed by failed calls: %q", got)
	}

	reg.listErr = errors.New("netlink down")
	if err := s.SelectInterface(ctx, "wlan0"); err == nil || errors.Is(err, ErrInterfaceNotFound) {
		t.Fatalf("list failure must surface as a plain error: %v", err)
	}
}

func TestRunCycleOnline(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{list: eth0(), up: true, reason: "Interface eth0 is up with IP 10.0.0.2"}
	s := newTestService(reg, fakeProbe{latency: map[string]float64{"100.64.0.1": 12.5}}, Deps{})
	if err := s.SelectInterface(context.Background(), "eth0"); err != nil {
		t.Fatal(err)
	}

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	st := s.Status()
	if st.Status != metrics.StatusOnline || !st.InterfaceFound {
		t.Fatalf("status=%s found=%v", st.Status, st.InterfaceFound)
	}
	if st.LatencyMs == nil || *st.LatencyMs != 12.5 {
		t.Fatalf("latency=%v", st.LatencyMs)
	}
	if st.DNSLatencyMs != nil {
		t.Fatalf("dns latency should be absent, got %v", *st.DNSLatencyMs)
	}
	if st.Bandwidth.Rx != 1<<20 || st.UptimeCycles != 1 || st.LastCheckedAt == nil {
		t.Fatalf("cycle bookkeeping: %+v", st)
	}
	if len(st.History) != 1 || st.History[0].BandwidthMbps != 2 {
		t.Fatalf("history=%+v", st.History)
	}
	if st.StatusMessage != reg.reason || st.Gateway != "100.64.0.1" {
		t.Fatalf("message=%q gateway=%q", st.StatusMessage, st.Gateway)
	}
}

func TestRunCycleDowntimeEdges(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{list: eth0()}
	s := newTestService(reg, fakeProbe{}, Deps{})
	for _, up := range []bool{true, true, false, false, true} {
		reg.setUp(up)
		if err := s.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	if n := s.Status().DowntimeTransitions; n != 1 {
		t.Fatalf("downtime transitions=%d want 1", n)
	}
}

func TestRunCycleFailuresBecomeErrorStatus(t *testing.T) {
	t.Parallel()

	t.Run("registry error", func(t *testing.T) {
		t.Parallel()
		reg := &fakeRegistry{listErr: errors.New("permission denied")}
		s := newTestService(reg, fakeProbe{}, Deps{})
		if err := s.RunCycle(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		st := s.Status()
		if st.Status != metrics.StatusError || st.StatusMessage == "" {
			t.Fatalf("status=%s msg=%q", st.Status, st.StatusMessage)
		}
	})

	t.Run("panic", func(t *testing.T) {
		t.Parallel()
		reg := &fakeRegistry{list: eth0(), up: true}
		s := newTestService(reg, fakeProbe{panics: true}, Deps{})
		err := s.RunCycle(context.Background())
		if err == nil {
			t.Fatal("expected error from panic")
		}
		if st := s.Status(); st.Status != metrics.StatusError || st.UptimeCycles != 0 {
			t.Fatalf("status=%s cycles=%d", st.Status, st.UptimeCycles)
		}

		// The next healthy cycle recovers.
		s.probe = fakeProbe{}
		if err := s.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle after panic: %v", err)
		}
		if st := s.Status(); st.Status != metrics.StatusOnline {
			t.Fatalf("status=%s want online", st.Status)
		}
	})
}

func TestRunSpeedTestNowRecords(t *testing.T) {
	t.Parallel()
	dl := 80.0
	sp := &fakeSpeed{res: &speedtest.Result{Method: speedtest.MethodThroughput, DownloadMbps: &dl, Timestamp: time.Now()}}
	s := newTestService(&fakeRegistry{}, fakeProbe{}, Deps{SpeedTest: sp})

	r := s.RunSpeedTestNow(context.Background())
	if r.Method != speedtest.MethodThroughput {
		t.Fatalf("method=%s", r.Method)
	}
	st := s.Status()
	if st.LastSpeedTest == nil || st.LastSpeedTestAt == nil || st.BestBandwidthMbps != 80 {
		t.Fatalf("speed test not recorded: %+v", st)
	}

	s.ResetMetrics()
	if st := s.Status(); st.BestBandwidthMbps != 0 || st.LastSpeedTest == nil {
		t.Fatalf("reset: best=%v last=%v", st.BestBandwidthMbps, st.LastSpeedTest)
	}
}

func TestRunSpeedTestNowWithoutTester(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeRegistry{}, fakeProbe{}, Deps{})
	if r := s.RunSpeedTestNow(context.Background()); !r.IsError() {
		t.Fatalf("want error variant, got %+v", r)
	}
}

func TestSetEndpoints(t *testing.T) {
	t.Parallel()
	fe := &fakeEndpoints{}
	s := newTestService(&fakeRegistry{}, fakeProbe{}, Deps{Endpoints: fe})
	s.SetEndpoints([]speedtest.Endpoint{{Host: "203.0.113.7", Port: 5201}})
	if len(fe.got) != 1 || fe.got[0].Host != "203.0.113.7" {
		t.Fatalf("endpoints=%+v", fe.got)
	}
}

func TestStartRunsFirstCycleAndStops(t *testing.T) {
	t.Parallel()
	n := &countingNotifier{}
	reg := &fakeRegistry{list: eth0(), up: true}
	s := newTestService(reg, fakeProbe{}, Deps{Notifier: n, SpeedTest: &fakeSpeed{res: &speedtest.Result{}}})
	if err := s.Apply(Config{HealthSchedule: "1h", SpeedSchedule: "0 0 1 1 *", SpeedTestEnabled: true}); err != nil {
		t.Fatalf("Apply before start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for n.watchdog.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Status().UptimeCycles == 0 {
		t.Fatal("first health cycle did not run")
	}
	health, speed := s.NextRuns()
	if health.IsZero() || speed.IsZero() {
		t.Fatalf("next runs health=%v speed=%v", health, speed)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	if n.ready.Load() != 1 || n.stopping.Load() != 1 {
		t.Fatalf("notifier ready=%d stopping=%d", n.ready.Load(), n.stopping.Load())
	}
	if n.watchdog.Load() != 1 {
		t.Fatalf("watchdog pings=%d want 1", n.watchdog.Load())
	}
	if h, _ := s.NextRuns(); !h.IsZero() {
		t.Fatalf("still scheduled after Stop")
	}
}

func TestApplyReschedulesAndRejectsBadSchedules(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeRegistry{list: eth0()}, fakeProbe{}, Deps{SpeedTest: &fakeSpeed{res: &speedtest.Result{}}})
	if err := s.Apply(Config{HealthSchedule: "1h", SpeedTestEnabled: false}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	if _, speed := s.NextRuns(); !speed.IsZero() {
		t.Fatalf("speed test scheduled while disabled: %v", speed)
	}
	if err := s.Apply(Config{HealthSchedule: "1h", SpeedSchedule: "*/10 * * * *", SpeedTestEnabled: true, Gateway: "10.0.0.1"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, speed := s.NextRuns(); speed.IsZero() {
		t.Fatal("speed test not scheduled after enabling")
	}
	if s.Status().Gateway != "10.0.0.1" {
		t.Fatalf("gateway not applied: %q", s.Status().Gateway)
	}

	if err := s.Apply(Config{HealthSchedule: "bogus schedule here"}); err == nil {
		t.Fatal("expected schedule error")
	}
	if h, _ := s.NextRuns(); h.IsZero() {
		t.Fatal("rejected Apply must keep the running schedule")
	}
}

func TestHealthJobPingsWatchdogOnFailedCycles(t *testing.T) {
	t.Parallel()
	n := &countingNotifier{}
	reg := &fakeRegistry{listErr: errors.New("netlink: resource busy")}
	s := newTestService(reg, fakeProbe{}, Deps{Notifier: n})

	for i := 0; i < 5; i++ {
		s.healthJob(context.Background())
	}
	if st := s.Status(); st.Status != metrics.StatusError {
		t.Fatalf("status=%s want error", st.Status)
	}
	if got := n.watchdog.Load(); got != 5 {
		t.Fatalf("watchdog pings=%d want 5", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.healthJob(ctx)
	if got := n.watchdog.Load(); got != 5 {
		t.Fatalf("canceled job pinged the watchdog: %d", got)
	}
}

// slowRegistry holds List until the run context ends.
type slowRegistry struct {
	entered  atomic.Bool
	finished atomic.Bool
}

func (r *slowRegistry) List(ctx context.Context) ([]netif.InterfaceInfo, error) {
	r.entered.Store(true)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	r.finished.Store(true)
	return nil, ctx.Err()
}

func (r *slowRegistry) IsUp(context.Context, string) (bool, string) { return false, "" }

func TestStopWaitsForFirstCycle(t *testing.T) {
	t.Parallel()
	reg := &slowRegistry{}
	s := New(Config{HealthSchedule: "1h"}, Deps{Registry: reg, Log: logx.Nop()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !reg.entered.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !reg.entered.Load() {
		t.Fatal("first cycle did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if !reg.finished.Load() {
		t.Fatal("Stop returned while the first cycle was still running")
	}
}

func TestFailedRescheduleKeepsRunningLoop(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeRegistry{list: eth0()}, fakeProbe{}, Deps{})
	if err := s.Apply(Config{HealthSchedule: "1h"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	// Bypass Apply's validation so the new loop fails to start.
	stopped, err := s.swap(Config{HealthSchedule: "not a schedule", SpeedSchedule: "*/10 * * * *"})
	if err == nil || stopped != nil {
		t.Fatalf("swap = %v, %v; want error and no stopped loop", stopped, err)
	}
	if got := s.config().HealthSchedule; got != "1h" {
		t.Fatalf("config not restored: %q", got)
	}
	if h, _ := s.NextRuns(); h.IsZero() {
		t.Fatal("health cycle no longer scheduled")
	}
}
