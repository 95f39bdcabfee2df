package speedtest

import (
	"fmt"
	"strconv"
	"strings"
)

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Summary renders a one-line human description of r.
func (r *Result) Summary() string {
	if r == nil {
		return "no result"
	}
	switch r.Method {
	case MethodError:
		return "speed test failed: " + r.Error
	case MethodICMPEstimate:
		s := fmt.Sprintf("icmp estimate: avg %s over %d sizes", Float(r.AveragePingMs, " ms"), len(r.PingSamples))
		if r.Degraded {
			s += " (degraded: no replies)"
		}
		return s
	}
	var b strings.Builder
	b.WriteString(string(r.Method))
	b.WriteString(": down ")
	b.WriteString(Float(r.DownloadMbps, " Mbps"))
	b.WriteString(", up ")
	b.WriteString(Float(r.UploadMbps, " Mbps"))
	if r.UploadEstimated {
		b.WriteString(" (estimated)")
	}
	return b.String()
}
