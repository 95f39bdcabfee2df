// Package probe measures round-trip latency with ICMP echo.
//
// The preferred path is an in-process pinger (github.com/go-ping/ping); when
// it cannot run (missing privileges, sandboxed sockets) the platform ping
// utility is executed and its text output parsed.
package probe

import (
	"context"
	"errors"
	"math"
	"time"

	logx "netmon/pkg/logx"
)

// ErrNoReply means the probe ran but no echo reply arrived.
var ErrNoReply = errors.New("no echo reply")

// Options controls one probe burst.
type Options struct {
	Count    int
	Size     int // payload bytes, 0 = pinger default
	Timeout  time.Duration
	Interval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Count <= 0 {
		o.Count = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	return o
}

// Stats summarizes one burst.
type Stats struct {
	Sent     int
	Received int
	Min      time.Duration
	Avg      time.Duration
	Max      time.Duration
}

// Ms converts a duration to milliseconds rounded to 2 decimals.
func Ms(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

// Pinger sends echo requests to host.
type Pinger interface {
	Ping(ctx context.Context, host string, opts Options) (*Stats, error)
}

// Fallback tries Primary and uses Secondary when Primary fails for any reason.
type Fallback struct {
	Primary   Pinger
	Secondary Pinger
	Log       logx.Logger
}

func (f Fallback) Ping(ctx context.Context, host string, opts Options) (*Stats, error) {
	st, err := f.Primary.Ping(ctx, host, opts)
	if err == nil {
		return st, nil
	}
	if ctx.Err() != nil || f.Secondary == nil {
		return nil, err
	}
	f.Log.Debug("primary pinger failed; falling back", logx.String("host", host), logx.Err(err))
	return f.Secondary.Ping(ctx, host, opts)
}

// Probe is the health-cycle view of a Pinger: one echo, optional result.
type Probe struct {
	pinger Pinger
	log    logx.Logger
}

func New(p Pinger, log logx.Logger) *Probe {
	return &Probe{pinger: p, log: log}
}

// Default builds the ICMP-then-exec chain.
func Default(privileged bool, log logx.Logger) *Probe {
	return New(Fallback{
		Primary:   &ICMP{Privileged: privileged},
		Secondary: &System{},
		Log:       log,
	}, log)
}

func (p *Probe) Pinger() Pinger { return p.pinger }

// Latency returns the round-trip time to host in milliseconds. Failures are
// logged at debug level and reported as ok=false; they never propagate.
func (p *Probe) Latency(ctx context.Context, host string, timeout time.Duration) (float64, bool) {
	if host == "" {
		return 0, false
	}
	st, err := p.pinger.Ping(ctx, host, Options{Count: 1, Timeout: timeout})
	if err != nil {
		p.log.Debug("ping failed", logx.String("host", host), logx.Err(err))
		return 0, false
	}
	if st == nil || st.Received == 0 {
		return 0, false
	}
	return Ms(st.Avg), true
}

// Echo sends count probes of size payload bytes and returns the average
// round trip in milliseconds. ok is false when no reply arrived.
func (p *Probe) Echo(ctx context.Context, host string, size, count int, timeout time.Duration) (float64, bool) {
	st, err := p.pinger.Ping(ctx, host, Options{Count: count, Size: size, Timeout: timeout})
	if err != nil {
		p.log.Debug("echo burst failed", logx.String("host", host), logx.Int("size", size), logx.Err(err))
		return 0, false
	}
	if st == nil || st.Received == 0 {
		return 0, false
	}
	return Ms(st.Avg), true
}
