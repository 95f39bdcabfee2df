package speedtest

import (
	"math"
	"time"
)

// Method identifies which strategy produced a Result.
type Method string

const (
	MethodThroughput   Method = "throughput-protocol"
	MethodHTTPDownload Method = "http-download"
	MethodICMPEstimate Method = "icmp-estimate"
	MethodError        Method = "error"
)

// Result is one speed-test outcome.
//
// Download/upload figures are optional: the ICMP estimate never measures
// throughput, and the error variant carries only Error plus diagnostics.
type Result struct {
	Method          Method    `json:"method"`
	DownloadMbps    *float64  `json:"download_mbps"`
	UploadMbps      *float64  `json:"upload_mbps"`
	UploadEstimated bool      `json:"upload_estimated,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`

	// throughput-protocol
	Endpoints []EndpointResult `json:"endpoints,omitempty"`

	// http-download
	Bytes int64       `json:"bytes,omitempty"`
	URLs  []URLResult `json:"urls,omitempty"`

	// icmp-estimate
	PayloadSizes  []int     `json:"payload_sizes,omitempty"`
	PingSamples   []float64 `json:"ping_samples,omitempty"`
	AveragePingMs *float64  `json:"average_ping_ms,omitempty"`
	Degraded      bool      `json:"degraded,omitempty"`

	// Attempts lists strategies that ran before this result and why they gave nothing.
	Attempts []Attempt `json:"attempts,omitempty"`
}

// IsError reports whether r is the exhausted-cascade variant.
func (r *Result) IsError() bool { return r != nil && r.Method == MethodError }

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.DownloadMbps = cloneFloat(r.DownloadMbps)
	cp.UploadMbps = cloneFloat(r.UploadMbps)
	cp.AveragePingMs = cloneFloat(r.AveragePingMs)
	cp.Endpoints = append([]EndpointResult(nil), r.Endpoints...)
	for i := range cp.Endpoints {
		cp.Endpoints[i].DownloadMbps = cloneFloat(cp.Endpoints[i].DownloadMbps)
		cp.Endpoints[i].UploadMbps = cloneFloat(cp.Endpoints[i].UploadMbps)
	}
	cp.URLs = append([]URLResult(nil), r.URLs...)
	cp.PayloadSizes = append([]int(nil), r.PayloadSizes...)
	cp.PingSamples = append([]float64(nil), r.PingSamples...)
	cp.Attempts = append([]Attempt(nil), r.Attempts...)
	return &cp
}

// EndpointResult is the per-server diagnostic of the throughput strategy.
type EndpointResult struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Protocol      string   `json:"protocol"`
	DownloadMbps  *float64 `json:"download_mbps,omitempty"`
	UploadMbps    *float64 `json:"upload_mbps,omitempty"`
	DownloadError string   `json:"download_error,omitempty"`
	UploadError   string   `json:"upload_error,omitempty"`
}

// URLResult is the per-URL diagnostic of the HTTP download strategy.
type URLResult struct {
	URL     string  `json:"url"`
	Bytes   int64   `json:"bytes"`
	Seconds float64 `json:"seconds"`
	Error   string  `json:"error,omitempty"`
}

// Attempt records a strategy that produced no result.
type Attempt struct {
	Method Method `json:"method"`
	Error  string `json:"error"`
}

// Endpoint is a dedicated throughput-test server.
type Endpoint struct {
	Host     string
	Port     int
	Protocol string // "iperf3" or "ookla"
	Duration time.Duration
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func ptr(v float64) *float64 { return &v }

// Float formats an optional figure for humans.
func Float(p *float64, unit string) string {
	if p == nil {
		return "n/a"
	}
	return trimFloat(*p) + unit
}
