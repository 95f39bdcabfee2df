package probe

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// System shells out to the platform ping utility.
type System struct {
	// Binary overrides the executable name (default "ping").
	Binary string
	// GOOS overrides runtime.GOOS for argument selection.
	GOOS string
}

func (p *System) Ping(ctx context.Context, host string, opts Options) (*Stats, error) {
	opts = opts.withDefaults()
	bin := p.Binary
	if bin == "" {
		bin = "ping"
	}
	goos := p.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	// Per-probe timeout plus slack for process start and the last reply.
	budget := time.Duration(opts.Count)*opts.Timeout + 2*time.Second
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out, runErr := exec.CommandContext(cctx, bin, systemArgs(goos, host, opts)...).CombinedOutput()
	st, err := parsePingOutput(string(out))
	if err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("%s %s: %w", bin, host, runErr)
		}
		return nil, err
	}
	if st.Sent == 0 {
		st.Sent = opts.Count
	}
	return st, nil
}

func systemArgs(goos, host string, opts Options) []string {
	switch goos {
	case "windows":
		args := []string{"-n", strconv.Itoa(opts.Count), "-w", strconv.FormatInt(opts.Timeout.Milliseconds(), 10)}
		if opts.Size > 0 {
			args = append(args, "-l", strconv.Itoa(opts.Size))
		}
		return append(args, host)
	case "darwin", "freebsd", "openbsd", "netbsd":
		// BSD -W is the per-reply wait in milliseconds.
		args := []string{"-c", strconv.Itoa(opts.Count), "-W", strconv.FormatInt(opts.Timeout.Milliseconds(), 10)}
		if opts.Size > 0 {
			args = append(args, "-s", strconv.Itoa(opts.Size))
		}
		return append(args, host)
	default:
		secs := int(math.Ceil(opts.Timeout.Seconds()))
		if secs < 1 {
			secs = 1
		}
		args := []string{"-c", strconv.Itoa(opts.Count), "-W", strconv.Itoa(secs)}
		if opts.Size > 0 {
			args = append(args, "-s", strconv.Itoa(opts.Size))
		}
		return append(args, host)
	}
}

var (
	reReply       = regexp.MustCompile(`(?i)time\s*[=<]\s*([\d.]+)\s*ms`)
	reUnixSummary = regexp.MustCompile(`(?i)(?:rtt|round-trip)[^=]*=\s*([\d.]+)/([\d.]+)/([\d.]+)`)
	reWinSummary  = regexp.MustCompile(`(?i)Minimum\s*=\s*(\d+)\s*ms,\s*Maximum\s*=\s*(\d+)\s*ms,\s*Average\s*=\s*(\d+)\s*ms`)
	reUnixCounts  = regexp.MustCompile(`(\d+)\s+packets transmitted,\s*(\d+)\s+(?:packets )?received`)
	reWinCounts   = regexp.MustCompile(`(?i)Sent\s*=\s*(\d+),\s*Received\s*=\s*(\d+)`)
)

// parsePingOutput extracts reply times and the summary from Linux, BSD/macOS
// or Windows ping output. Summary lines win over per-reply samples.
func parsePingOutput(out string) (*Stats, error) {
	st := &Stats{}

	var samples []time.Duration
	for _, m := range reReply.FindAllStringSubmatch(out, -1) {
		if d, ok := msToDuration(m[1]); ok {
			samples = append(samples, d)
		}
	}
	if len(samples) > 0 {
		var sum time.Duration
		st.Min, st.Max = samples[0], samples[0]
		for _, d := range samples {
			sum += d
			if d < st.Min {
				st.Min = d
			}
			if d > st.Max {
				st.Max = d
			}
		}
		st.Avg = sum / time.Duration(len(samples))
		st.Received = len(samples)
	}

	if m := reUnixSummary.FindStringSubmatch(out); m != nil {
		st.Min, _ = msToDuration(m[1])
		st.Avg, _ = msToDuration(m[2])
		st.Max, _ = msToDuration(m[3])
	} else if m := reWinSummary.FindStringSubmatch(out); m != nil {
		st.Min, _ = msToDuration(m[1])
		st.Max, _ = msToDuration(m[2])
		st.Avg, _ = msToDuration(m[3])
	}

	if m := reUnixCounts.FindStringSubmatch(out); m != nil {
		st.Sent, _ = strconv.Atoi(m[1])
		st.Received, _ = strconv.Atoi(m[2])
	} else if m := reWinCounts.FindStringSubmatch(out); m != nil {
		st.Sent, _ = strconv.Atoi(m[1])
		st.Received, _ = strconv.Atoi(m[2])
	}

	if st.Received == 0 {
		return st, ErrNoReply
	}
	return st, nil
}

func msToDuration(s string) (time.Duration, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return time.Duration(v * float64(time.Millisecond)), true
}
