package netif

import (
	"context"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// Bandwidth holds cumulative byte counters since boot. It is a snapshot, not a rate.
type Bandwidth struct {
	Rx uint64 `json:"rx"`
	Tx uint64 `json:"tx"`
}

// CountersFunc reads per-NIC counters. Defaults to gopsutil.
type CountersFunc func(ctx context.Context, pernic bool) ([]psnet.IOCountersStat, error)

type Sampler struct {
	counters CountersFunc
}

func NewSampler(fn CountersFunc) *Sampler {
	if fn == nil {
		fn = psnet.IOCountersWithContext
	}
	return &Sampler{counters: fn}
}

// Sample returns the counters for name, or {0,0} when they cannot be read.
func (s *Sampler) Sample(ctx context.Context, name string) Bandwidth {
	stats, err := s.counters(ctx, true)
	if err != nil {
		return Bandwidth{}
	}
	for _, st := range stats {
		if st.Name == name {
			return Bandwidth{Rx: st.BytesRecv, Tx: st.BytesSent}
		}
	}
	return Bandwidth{}
}
