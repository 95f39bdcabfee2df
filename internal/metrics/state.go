// Package metrics owns the monitoring record: current link status, rolling
// extrema, downtime edges and a bounded performance history.
package metrics

import (
	"time"

	"netmon/internal/netif"
	"netmon/pkg/speedtest"
)

// Status is the link status derived by the health cycle.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// HistoryCapacity bounds the performance history.
const HistoryCapacity = 100

// Sample is one history entry.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	LatencyMs     *float64  `json:"latency_ms"`
	BandwidthMbps float64   `json:"bandwidth_mbps"`
}

// State is a point-in-time copy of the monitoring record.
type State struct {
	SelectedInterface   string                `json:"selected_interface"`
	AvailableInterfaces []netif.InterfaceInfo `json:"available_interfaces"`
	InterfaceFound      bool                  `json:"interface_found"`
	Gateway             string                `json:"gateway"`
	DNSHost             string                `json:"dns"`

	Status        Status          `json:"status"`
	StatusMessage string          `json:"status_message,omitempty"`
	LatencyMs     *float64        `json:"latency_ms"`
	DNSLatencyMs  *float64        `json:"dns_latency_ms"`
	Bandwidth     netif.Bandwidth `json:"bandwidth"`
	UptimeCycles  uint64          `json:"uptime_cycles"`
	LastCheckedAt *time.Time      `json:"last_checked_at"`

	LastDownAt          *time.Time `json:"last_down_at"`
	DowntimeTransitions uint64     `json:"downtime_transitions"`

	WorstLatencyMs     float64  `json:"worst_latency_ms"`
	BestBandwidthMbps  float64  `json:"best_bandwidth_mbps"`
	WorstBandwidthMbps *float64 `json:"worst_bandwidth_mbps"`

	LastSpeedTest   *speedtest.Result `json:"last_speed_test"`
	LastSpeedTestAt *time.Time        `json:"last_speed_test_at"`

	History []Sample `json:"history"`
}

// CycleReport is what one health cycle observed.
type CycleReport struct {
	Interfaces     []netif.InterfaceInfo
	InterfaceFound bool
	Up             bool
	Message        string
	LatencyMs      *float64
	DNSLatencyMs   *float64
	Bandwidth      netif.Bandwidth
	At             time.Time
}

func (r CycleReport) status() Status {
	if r.Up {
		return StatusOnline
	}
	return StatusOffline
}

func cloneState(s State) State {
	cp := s
	cp.AvailableInterfaces = cloneInterfaces(s.AvailableInterfaces)
	cp.LatencyMs = cloneFloat(s.LatencyMs)
	cp.DNSLatencyMs = cloneFloat(s.DNSLatencyMs)
	cp.LastCheckedAt = cloneTime(s.LastCheckedAt)
	cp.LastDownAt = cloneTime(s.LastDownAt)
	cp.WorstBandwidthMbps = cloneFloat(s.WorstBandwidthMbps)
	cp.LastSpeedTest = s.LastSpeedTest.Clone()
	cp.LastSpeedTestAt = cloneTime(s.LastSpeedTestAt)
	cp.History = make([]Sample, len(s.History))
	for i, h := range s.History {
		h.LatencyMs = cloneFloat(h.LatencyMs)
		cp.History[i] = h
	}
	return cp
}

func cloneInterfaces(in []netif.InterfaceInfo) []netif.InterfaceInfo {
	if in == nil {
		return nil
	}
	out := make([]netif.InterfaceInfo, len(in))
	for i, ifc := range in {
		out[i] = netif.InterfaceInfo{Name: ifc.Name, Addresses: append([]netif.Address(nil), ifc.Addresses...)}
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
