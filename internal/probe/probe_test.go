package probe

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	logx "netmon/pkg/logx"
)

const linuxOut = `PING 10.0.0.1 (10.0.0.1) 56(84) bytes of data.
64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=1.52 ms
64 bytes from 10.0.0.1: icmp_seq=2 ttl=64 time=2.48 ms

--- 10.0.0.1 ping statistics ---
2 packets transmitted, 2 received, 0% packet loss, time 1001ms
rtt min/avg/max/mdev = 1.520/2.000/2.480/0.480 ms
`

const macOut = `PING 10.0.0.1 (10.0.0.1): 1024 data bytes
1032 bytes from 10.0.0.1: icmp_seq=0 ttl=64 time=4.100 ms

--- 10.0.0.1 ping statistics ---
4 packets transmitted, 1 packets received, 75.0% packet loss
round-trip min/avg/max/stddev = 4.100/4.100/4.100/0.000 ms
`

const windowsOut = `Pinging 10.0.0.1 with 32 bytes of data:
Reply from 10.0.0.1: bytes=32 time<1ms TTL=64
Reply from 10.0.0.1: bytes=32 time=3ms TTL=64

Ping statistics for 10.0.0.1:
    Packets: Sent = 2, Received = 2, Lost = 0 (0% loss),
Approximate round trip times in milli-seconds:
    Minimum = 1ms, Maximum = 3ms, Average = 2ms
`

const timeoutOut = `PING 10.0.0.9 (10.0.0.9) 56(84) bytes of data.

--- 10.0.0.9 ping statistics ---
1 packets transmitted, 0 received, 100% packet loss, time 0ms
`

func TestParsePingOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		out      string
		sent     int
		received int
		avgMs    float64
		wantErr  error
	}{
		{"linux", linuxOut, 2, 2, 2, nil},
		{"macos partial loss", macOut, 4, 1, 4.1, nil},
		{"windows", windowsOut, 2, 2, 2, nil},
		{"timeout", timeoutOut, 1, 0, 0, ErrNoReply},
		{"garbage", "ping: unknown host", 0, 0, 0, ErrNoReply},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, err := parsePingOutput(tt.out)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if st.Sent != tt.sent || st.Received != tt.received {
				t.Fatalf("sent/received = %d/%d, want %d/%d", st.Sent, st.Received, tt.sent, tt.received)
			}
			if tt.wantErr == nil && Ms(st.Avg) != tt.avgMs {
				t.Fatalf("avg = %v ms, want %v", Ms(st.Avg), tt.avgMs)
			}
		})
	}
}

func TestSystemArgs(t *testing.T) {
	t.Parallel()
	opts := Options{Count: 4, Size: 512, Timeout: 1500 * time.Millisecond}
	tests := []struct {
		goos string
		want []string
	}{
		{"linux", []string{"-c", "4", "-W", "2", "-s", "512", "gw"}},
		{"darwin", []string{"-c", "4", "-W", "1500", "-s", "512", "gw"}},
		{"windows", []string{"-n", "4", "-w", "1500", "-l", "512", "gw"}},
	}
	for _, tt := range tests {
		if got := systemArgs(tt.goos, "gw", opts); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%s args = %v, want %v", tt.goos, got, tt.want)
		}
	}
}

type stubPinger struct {
	stats *Stats
	err   error
	calls int
}

func (s *stubPinger) Ping(ctx context.Context, host string, opts Options) (*Stats, error) {
	s.calls++
	return s.stats, s.err
}

func TestFallbackUsesSecondaryOnError(t *testing.T) {
	t.Parallel()
	primary := &stubPinger{err: errors.New("socket: operation not permitted")}
	secondary := &stubPinger{stats: &Stats{Sent: 1, Received: 1, Avg: 12346 * time.Microsecond}}
	p := New(Fallback{Primary: primary, Secondary: secondary, Log: logx.Nop()}, logx.Nop())

	ms, ok := p.Latency(context.Background(), "gw", time.Second)
	if !ok || ms != 12.35 {
		t.Fatalf("Latency = %v %v, want 12.35 true", ms, ok)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("calls = %d/%d", primary.calls, secondary.calls)
	}
}

func TestLatencyAbsentOnFailure(t *testing.T) {
	t.Parallel()
	p := New(&stubPinger{err: ErrNoReply}, logx.Nop())
	if _, ok := p.Latency(context.Background(), "gw", time.Second); ok {
		t.Fatalf("expected absent latency")
	}
	if _, ok := p.Latency(context.Background(), "", time.Second); ok {
		t.Fatalf("empty host must be absent")
	}
}

func TestEcho(t *testing.T) {
	t.Parallel()
	rec := &optsPinger{stats: &Stats{Sent: 4, Received: 3, Avg: 8 * time.Millisecond}}
	p := New(rec, logx.Nop())

	ms, ok := p.Echo(context.Background(), "gw", 512, 4, time.Second)
	if !ok || ms != 8 {
		t.Fatalf("Echo = %v %v, want 8 true", ms, ok)
	}
	if rec.opts.Size != 512 || rec.opts.Count != 4 || rec.opts.Timeout != time.Second {
		t.Fatalf("opts = %+v", rec.opts)
	}

	rec.stats = &Stats{Sent: 4}
	if _, ok := p.Echo(context.Background(), "gw", 32, 4, time.Second); ok {
		t.Fatalf("expected no reply")
	}
}

type optsPinger struct {
	stats *Stats
	opts  Options
}

func (o *optsPinger) Ping(_ context.Context, _ string, opts Options) (*Stats, error) {
	o.opts = opts
	return o.stats, nil
}
