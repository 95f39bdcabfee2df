package probe

import (
	"context"
	"fmt"

	"github.com/go-ping/ping"
)

// ICMP pings in-process. Privileged selects raw sockets (root or CAP_NET_RAW);
// unprivileged mode relies on net.ipv4.ping_group_range on Linux.
type ICMP struct {
	Privileged bool
}

func (p *ICMP) Ping(ctx context.Context, host string, opts Options) (*Stats, error) {
	opts = opts.withDefaults()

	pinger, err := ping.NewPinger(host)
	if err != nil {
		return nil, fmt.Errorf("new pinger %s: %w", host, err)
	}
	pinger.Count = opts.Count
	pinger.Interval = opts.Interval
	pinger.Timeout = opts.Timeout
	if opts.Size > 0 {
		pinger.Size = opts.Size
	}
	pinger.SetPrivileged(p.Privileged)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("ping %s: %w", host, err)
		}
	}

	s := pinger.Statistics()
	st := &Stats{
		Sent:     s.PacketsSent,
		Received: s.PacketsRecv,
		Min:      s.MinRtt,
		Avg:      s.AvgRtt,
		Max:      s.MaxRtt,
	}
	if st.Received == 0 {
		return st, ErrNoReply
	}
	return st, nil
}
