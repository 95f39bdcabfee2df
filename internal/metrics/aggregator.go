package metrics

import (
	"sync"
	"time"

	"netmon/internal/eventbus"
	"netmon/internal/netif"
	"netmon/pkg/logx"
	"netmon/pkg/speedtest"
)

const bytesPerMebibyte = 1024 * 1024

// LinkEvent is the payload of link.down and link.up events.
type LinkEvent struct {
	Interface string
	From      Status
	To        Status
	Message   string
	At        time.Time
}

// Aggregator owns the monitoring record. All mutations happen under one lock;
// readers only ever see deep copies.
type Aggregator struct {
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu   sync.RWMutex
	st   State
	hist *history
}

type Option func(*Aggregator)

func WithLogger(log logx.Logger) Option { return func(a *Aggregator) { a.log = log } }

func WithBus(b eventbus.Bus) Option {
	return func(a *Aggregator) {
		if b != nil {
			a.bus = b
		}
	}
}

func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// WithHistoryCapacity overrides HistoryCapacity (tests).
func WithHistoryCapacity(n int) Option { return func(a *Aggregator) { a.hist = newHistory(n) } }

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		log:  logx.Nop(),
		bus:  eventbus.Nop{},
		now:  time.Now,
		st:   State{Status: StatusUnknown},
		hist: newHistory(HistoryCapacity),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Snapshot returns a deep copy of the record.
func (a *Aggregator) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := cloneState(a.st)
	cp.History = a.hist.slice()
	return cp
}

// RecordCycle folds one latency/bandwidth observation into the extrema and
// appends it to the history.
func (a *Aggregator) RecordCycle(latencyMs *float64, bw netif.Bandwidth) {
	a.mu.Lock()
	a.recordCycleLocked(a.now(), latencyMs, bw)
	a.mu.Unlock()
}

func (a *Aggregator) recordCycleLocked(at time.Time, latencyMs *float64, bw netif.Bandwidth) {
	if latencyMs != nil && *latencyMs > a.st.WorstLatencyMs {
		a.st.WorstLatencyMs = *latencyMs
	}
	mbps := float64(bw.Rx+bw.Tx) / bytesPerMebibyte
	a.foldBandwidthLocked(mbps)
	a.hist.push(Sample{Timestamp: at, LatencyMs: cloneFloat(latencyMs), BandwidthMbps: mbps})
}

func (a *Aggregator) foldBandwidthLocked(mbps float64) {
	if mbps > a.st.BestBandwidthMbps {
		a.st.BestBandwidthMbps = mbps
	}
	if mbps > 0 && (a.st.WorstBandwidthMbps == nil || mbps < *a.st.WorstBandwidthMbps) {
		v := mbps
		a.st.WorstBandwidthMbps = &v
	}
}

// RecordTransition counts an online to non-online edge. It reports whether
// the edge was counted.
func (a *Aggregator) RecordTransition(prev, next Status) bool {
	at := a.now()
	a.mu.Lock()
	down := a.recordTransitionLocked(at, prev, next)
	ev := a.linkEventLocked(prev, next, at)
	a.mu.Unlock()
	a.publishLink(ev)
	return down
}

func (a *Aggregator) recordTransitionLocked(at time.Time, prev, next Status) bool {
	if prev != StatusOnline || next == StatusOnline {
		return false
	}
	t := at
	a.st.LastDownAt = &t
	a.st.DowntimeTransitions++
	return true
}

func (a *Aggregator) linkEventLocked(prev, next Status, at time.Time) *eventbus.Event {
	var typ string
	switch {
	case prev == StatusOnline && next != StatusOnline:
		typ = eventbus.TypeLinkDown
	case prev != StatusOnline && prev != StatusUnknown && next == StatusOnline:
		typ = eventbus.TypeLinkUp
	default:
		return nil
	}
	return &eventbus.Event{Type: typ, Time: at, Data: LinkEvent{
		Interface: a.st.SelectedInterface,
		From:      prev,
		To:        next,
		Message:   a.st.StatusMessage,
		At:        at,
	}}
}

func (a *Aggregator) publishLink(ev *eventbus.Event) {
	if ev == nil {
		return
	}
	a.bus.Publish(*ev)
}

// CompleteCycle applies everything one successful health cycle observed.
func (a *Aggregator) CompleteCycle(rep CycleReport) {
	at := rep.At
	if at.IsZero() {
		at = a.now()
	}
	next := rep.status()

	a.mu.Lock()
	prev := a.st.Status
	a.recordTransitionLocked(at, prev, next)
	a.recordCycleLocked(at, rep.LatencyMs, rep.Bandwidth)

	a.st.AvailableInterfaces = cloneInterfaces(rep.Interfaces)
	a.st.InterfaceFound = rep.InterfaceFound
	a.st.Status = next
	a.st.StatusMessage = rep.Message
	a.st.LatencyMs = cloneFloat(rep.LatencyMs)
	a.st.DNSLatencyMs = cloneFloat(rep.DNSLatencyMs)
	a.st.Bandwidth = rep.Bandwidth
	a.st.UptimeCycles++
	t := at
	a.st.LastCheckedAt = &t
	ev := a.linkEventLocked(prev, next, at)
	a.mu.Unlock()

	a.publishLink(ev)
}

// FailCycle marks the current cycle as failed. The previous status still
// counts for downtime: an online link that starts erroring is down.
func (a *Aggregator) FailCycle(err error) {
	at := a.now()
	msg := "cycle failed"
	if err != nil {
		msg = err.Error()
	}

	a.mu.Lock()
	prev := a.st.Status
	a.recordTransitionLocked(at, prev, StatusError)
	a.st.Status = StatusError
	a.st.StatusMessage = msg
	t := at
	a.st.LastCheckedAt = &t
	ev := a.linkEventLocked(prev, StatusError, at)
	a.mu.Unlock()

	a.publishLink(ev)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFailed, Time: at, Data: msg})
}

// RecordSpeedTest stores r and folds its download figure into the bandwidth
// extrema. The extrema mix counter-derived MiB and measured Mbps.
func (a *Aggregator) RecordSpeedTest(r *speedtest.Result) {
	if r == nil {
		return
	}
	at := r.Timestamp
	if at.IsZero() {
		at = a.now()
	}
	cp := r.Clone()

	a.mu.Lock()
	a.st.LastSpeedTest = cp
	t := at
	a.st.LastSpeedTestAt = &t
	if cp.DownloadMbps != nil {
		a.foldBandwidthLocked(*cp.DownloadMbps)
	}
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeSpeedTestDone, Time: at, Data: r.Clone()})
}

// Reset clears the extrema, the downtime count and the history. Status,
// selection and the last speed test are kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.st.WorstLatencyMs = 0
	a.st.BestBandwidthMbps = 0
	a.st.WorstBandwidthMbps = nil
	a.st.DowntimeTransitions = 0
	a.hist.reset()
	a.mu.Unlock()

	a.log.Info("metrics reset")
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeMetricsReset, Time: a.now()})
}

// SetSelected records a validated interface selection.
func (a *Aggregator) SetSelected(name string) {
	a.mu.Lock()
	prev := a.st.SelectedInterface
	a.st.SelectedInterface = name
	a.mu.Unlock()

	if prev != name {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeInterfaceSelected, Time: a.now(), Data: name})
	}
}

// Selected returns the interface currently monitored.
func (a *Aggregator) Selected() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st.SelectedInterface
}

// SetTargets records the probe targets shown in the state.
func (a *Aggregator) SetTargets(gateway, dns string) {
	a.mu.Lock()
	a.st.Gateway = gateway
	a.st.DNSHost = dns
	a.mu.Unlock()
}

// SetInterfaces replaces the available interface list outside a health cycle.
func (a *Aggregator) SetInterfaces(list []netif.InterfaceInfo) {
	a.mu.Lock()
	a.st.AvailableInterfaces = cloneInterfaces(list)
	a.mu.Unlock()
}
