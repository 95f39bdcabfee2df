package speedtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	logx "netmon/pkg/logx"
)

// Client measures one direction against a throughput server, in Mbps.
type Client interface {
	Download(ctx context.Context, ep Endpoint) (float64, error)
	Upload(ctx context.Context, ep Endpoint) (float64, error)
}

// Throughput tests every configured endpoint. Download and upload are
// independent sub-tests; one failing never skips the other, and one endpoint
// failing never skips the rest.
type Throughput struct {
	clients map[string]Client
	log     logx.Logger

	mu        sync.RWMutex
	endpoints []Endpoint
}

// NewThroughput maps protocol names ("iperf3", "ookla") to clients.
func NewThroughput(clients map[string]Client, log logx.Logger) *Throughput {
	cp := make(map[string]Client, len(clients))
	for k, v := range clients {
		cp[strings.ToLower(k)] = v
	}
	return &Throughput{clients: cp, log: log}
}

func (t *Throughput) Method() Method { return MethodThroughput }

func (t *Throughput) SetEndpoints(eps []Endpoint) {
	t.mu.Lock()
	t.endpoints = append([]Endpoint(nil), eps...)
	t.mu.Unlock()
}

func (t *Throughput) Endpoints() []Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Endpoint(nil), t.endpoints...)
}

func (t *Throughput) Attempt(ctx context.Context) (*Result, error) {
	eps := t.Endpoints()
	if len(eps) == 0 {
		return nil, fmt.Errorf("no throughput endpoints configured: %w", ErrNoResult)
	}

	res := &Result{Method: MethodThroughput, Endpoints: make([]EndpointResult, 0, len(eps))}
	var dlSum, ulSum float64
	var dlN, ulN int

	for _, ep := range eps {
		if ctx.Err() != nil {
			break
		}
		proto := strings.ToLower(strings.TrimSpace(ep.Protocol))
		if proto == "" {
			proto = "iperf3"
		}
		er := EndpointResult{Host: ep.Host, Port: ep.Port, Protocol: proto}
		client := t.clients[proto]
		if client == nil {
			er.DownloadError = "unsupported protocol " + proto
			er.UploadError = er.DownloadError
			res.Endpoints = append(res.Endpoints, er)
			continue
		}

		log := t.log.With(logx.String("host", ep.Host), logx.Int("port", ep.Port), logx.String("protocol", proto))
		if v, err := client.Download(ctx, ep); err != nil {
			er.DownloadError = err.Error()
			log.Debug("download sub-test failed", logx.Err(err))
		} else {
			er.DownloadMbps = ptr(round2(v))
			dlSum += v
			dlN++
		}
		if v, err := client.Upload(ctx, ep); err != nil {
			er.UploadError = err.Error()
			log.Debug("upload sub-test failed", logx.Err(err))
		} else {
			er.UploadMbps = ptr(round2(v))
			ulSum += v
			ulN++
		}
		res.Endpoints = append(res.Endpoints, er)
	}

	if dlN == 0 && ulN == 0 {
		return nil, fmt.Errorf("all %d endpoints failed: %w", len(eps), ErrNoResult)
	}
	if dlN > 0 {
		res.DownloadMbps = ptr(round2(dlSum / float64(dlN)))
	}
	if ulN > 0 {
		res.UploadMbps = ptr(round2(ulSum / float64(ulN)))
	}
	return res, nil
}
