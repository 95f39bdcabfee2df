package speedtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandFunc runs an external command and returns its combined output.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Iperf3 drives the iperf3 client binary in JSON mode.
type Iperf3 struct {
	Binary   string
	Duration time.Duration // default per-direction test length
	Run      CommandFunc
}

type iperfReport struct {
	Error string `json:"error"`
	End   struct {
		SumSent     iperfSum `json:"sum_sent"`
		SumReceived iperfSum `json:"sum_received"`
	} `json:"end"`
}

type iperfSum struct {
	Seconds       float64 `json:"seconds"`
	Bytes         int64   `json:"bytes"`
	BitsPerSecond float64 `json:"bits_per_second"`
}

// Download runs in reverse mode (-R): the server sends, we receive.
func (c *Iperf3) Download(ctx context.Context, ep Endpoint) (float64, error) {
	return c.measure(ctx, ep, true)
}

func (c *Iperf3) Upload(ctx context.Context, ep Endpoint) (float64, error) {
	return c.measure(ctx, ep, false)
}

func (c *Iperf3) testSeconds(ep Endpoint) int {
	dur := ep.Duration
	if dur <= 0 {
		dur = c.Duration
	}
	if dur <= 0 {
		dur = 10 * time.Second
	}
	return int(math.Ceil(dur.Seconds()))
}

func (c *Iperf3) args(ep Endpoint, reverse bool) []string {
	port := ep.Port
	if port <= 0 {
		port = 5201
	}
	args := []string{
		"-c", ep.Host,
		"-p", strconv.Itoa(port),
		"-t", strconv.Itoa(c.testSeconds(ep)),
		"-J",
	}
	if reverse {
		args = append(args, "-R")
	}
	return args
}

func (c *Iperf3) measure(ctx context.Context, ep Endpoint, reverse bool) (float64, error) {
	bin := c.Binary
	if bin == "" {
		bin = "iperf3"
	}
	run := c.Run
	if run == nil {
		run = execCommand
	}
	args := c.args(ep, reverse)

	// Test length plus connection setup and result exchange.
	cctx, cancel := context.WithTimeout(ctx, time.Duration(c.testSeconds(ep))*time.Second+15*time.Second)
	defer cancel()

	out, runErr := run(cctx, bin, args...)
	mbps, err := parseIperf3(out)
	if err != nil {
		if runErr != nil && !errors.Is(err, errIperfReported) {
			return 0, fmt.Errorf("iperf3 %s:%d: %w", ep.Host, ep.Port, runErr)
		}
		return 0, fmt.Errorf("iperf3 %s:%d: %w", ep.Host, ep.Port, err)
	}
	return mbps, nil
}

var errIperfReported = errors.New("iperf3 reported error")

// parseIperf3 returns the receiver-side rate in Mbps (bits/s / 1e6).
func parseIperf3(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	if s == "" {
		return 0, errors.New("empty iperf3 output")
	}
	var rep iperfReport
	if err := json.Unmarshal([]byte(s), &rep); err != nil {
		return 0, fmt.Errorf("decode iperf3 json: %w", err)
	}
	if rep.Error != "" {
		return 0, fmt.Errorf("%w: %s", errIperfReported, rep.Error)
	}
	bps := rep.End.SumReceived.BitsPerSecond
	if bps <= 0 {
		bps = rep.End.SumSent.BitsPerSecond
	}
	if bps <= 0 {
		return 0, errors.New("iperf3 reported zero throughput")
	}
	return bps / 1e6, nil
}
