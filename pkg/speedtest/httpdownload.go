package speedtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "netmon/pkg/logx"
)

const bytesPerMebibit = 1024 * 1024

// HTTPConfig configures the HTTP download strategy.
type HTTPConfig struct {
	URLs []string
	// DiscoveryURL is a fast.com-style API answering {"targets":[{"url":...}]}.
	DiscoveryURL string
	// PerURLTimeout bounds each download (default 30s).
	PerURLTimeout time.Duration
	// UploadRatio estimates upload as a fraction of download.
	UploadRatio float64
	Transport   TransportConfig
}

// HTTPDownload downloads each URL in turn and reports summed bytes over
// summed time. Upload is not measured, only estimated.
type HTTPDownload struct {
	log logx.Logger

	mu  sync.RWMutex
	cfg HTTPConfig
}

func NewHTTPDownload(cfg HTTPConfig, log logx.Logger) *HTTPDownload {
	h := &HTTPDownload{log: log}
	h.SetConfig(cfg)
	return h
}

func (h *HTTPDownload) Method() Method { return MethodHTTPDownload }

func (h *HTTPDownload) SetConfig(cfg HTTPConfig) {
	cfg.URLs = append([]string(nil), cfg.URLs...)
	if cfg.PerURLTimeout <= 0 {
		cfg.PerURLTimeout = 30 * time.Second
	}
	if cfg.UploadRatio < 0 {
		cfg.UploadRatio = 0
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func (h *HTTPDownload) config() HTTPConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *HTTPDownload) Attempt(ctx context.Context) (*Result, error) {
	cfg := h.config()
	if cfg.Transport.OperationTimeout <= 0 {
		cfg.Transport.OperationTimeout = cfg.PerURLTimeout
	}
	hc, tr := newHTTPClient(cfg.Transport)
	defer tr.CloseIdleConnections()

	targets := cfg.URLs
	if cfg.DiscoveryURL != "" {
		found, err := discoverTargets(ctx, hc, cfg.DiscoveryURL, cfg.PerURLTimeout)
		if err != nil {
			h.log.Debug("download target discovery failed", logx.String("url", cfg.DiscoveryURL), logx.Err(err))
		}
		targets = append(found, targets...)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no download urls configured: %w", ErrNoResult)
	}

	res := &Result{Method: MethodHTTPDownload, URLs: make([]URLResult, 0, len(targets))}
	var seconds float64
	for _, u := range targets {
		if ctx.Err() != nil {
			break
		}
		ur := fetch(ctx, hc, u, cfg.PerURLTimeout)
		res.URLs = append(res.URLs, ur)
		if ur.Error != "" {
			h.log.Debug("download failed", logx.String("url", u), logx.String("err", ur.Error))
		}
		// Partial bodies still count: bytes that arrived took the time they took.
		if ur.Bytes > 0 {
			res.Bytes += ur.Bytes
			seconds += ur.Seconds
		}
	}

	if res.Bytes == 0 || seconds <= 0 {
		return nil, fmt.Errorf("no bytes downloaded from %d urls: %w", len(targets), ErrNoResult)
	}
	mbps := float64(res.Bytes) * 8 / (seconds * bytesPerMebibit)
	res.DownloadMbps = ptr(round2(mbps))
	res.UploadMbps = ptr(round2(mbps * cfg.UploadRatio))
	res.UploadEstimated = true
	return res, nil
}

func fetch(ctx context.Context, hc *http.Client, url string, timeout time.Duration) URLResult {
	ur := URLResult{URL: url}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		ur.Error = err.Error()
		return ur
	}
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		ur.Error = err.Error()
		return ur
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ur.Error = "unexpected status " + resp.Status
		return ur
	}
	n, err := io.Copy(io.Discard, resp.Body)
	ur.Bytes = n
	ur.Seconds = time.Since(start).Seconds()
	if err != nil {
		ur.Error = err.Error()
	}
	return ur
}

type discoveryResponse struct {
	Targets []struct {
		URL string `json:"url"`
	} `json:"targets"`
}

func discoverTargets(ctx context.Context, hc *http.Client, api string, timeout time.Duration) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, api, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery status %s", resp.Status)
	}
	var dr discoveryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode discovery: %w", err)
	}
	out := make([]string, 0, len(dr.Targets))
	for _, t := range dr.Targets {
		if u := strings.TrimSpace(t.URL); u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}
