package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netmon"

var (
	linkUpDesc       = prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "up"), "Whether the selected interface is up (1) or not (0).", []string{"interface"}, nil)
	linkStatusDesc   = prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "status"), "Current link status, one series per state set to 1 for the active one.", []string{"status"}, nil)
	latencyDesc      = prometheus.NewDesc(prometheus.BuildFQName(namespace, "probe", "latency_seconds"), "Last round-trip time to the probe target.", []string{"target", "role"}, nil)
	rxBytesDesc      = prometheus.NewDesc(prometheus.BuildFQName(namespace, "interface", "receive_bytes_total"), "Bytes received on the selected interface since boot.", []string{"interface"}, nil)
	txBytesDesc      = prometheus.NewDesc(prometheus.BuildFQName(namespace, "interface", "transmit_bytes_total"), "Bytes transmitted on the selected interface since boot.", []string{"interface"}, nil)
	cyclesDesc       = prometheus.NewDesc(prometheus.BuildFQName(namespace, "health", "cycles_total"), "Completed health cycles since start.", nil, nil)
	downtimeDesc     = prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "downtime_transitions_total"), "Online to non-online transitions since the last reset.", nil, nil)
	lastDownDesc     = prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "last_down_timestamp_seconds"), "Unix time of the last downtime transition.", nil, nil)
	worstLatencyDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "probe", "worst_latency_seconds"), "Worst gateway round-trip time since the last reset.", nil, nil)
	bestBwDesc       = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bandwidth", "best_mbps"), "Best bandwidth figure since the last reset.", nil, nil)
	worstBwDesc      = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bandwidth", "worst_mbps"), "Worst non-zero bandwidth figure since the last reset.", nil, nil)
	stDownloadDesc   = prometheus.NewDesc(prometheus.BuildFQName(namespace, "speedtest", "download_mbps"), "Download rate of the last speed test.", []string{"method"}, nil)
	stUploadDesc     = prometheus.NewDesc(prometheus.BuildFQName(namespace, "speedtest", "upload_mbps"), "Upload rate of the last speed test.", []string{"method", "estimated"}, nil)
	stUpDesc         = prometheus.NewDesc(prometheus.BuildFQName(namespace, "speedtest", "up"), "Whether the last speed test produced a result (1) or not (0).", nil, nil)
	stTimestampDesc  = prometheus.NewDesc(prometheus.BuildFQName(namespace, "speedtest", "last_run_timestamp_seconds"), "Unix time of the last speed test.", nil, nil)
)

var allStatuses = []Status{StatusUnknown, StatusOnline, StatusOffline, StatusError}

// Collector exposes snapshots of an Aggregator as Prometheus metrics.
type Collector struct {
	agg *Aggregator
}

func NewCollector(agg *Aggregator) *Collector { return &Collector{agg: agg} }

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		linkUpDesc, linkStatusDesc, latencyDesc, rxBytesDesc, txBytesDesc,
		cyclesDesc, downtimeDesc, lastDownDesc, worstLatencyDesc,
		bestBwDesc, worstBwDesc, stDownloadDesc, stUploadDesc, stUpDesc, stTimestampDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.agg.Snapshot()
	iface := st.SelectedInterface

	ch <- prometheus.MustNewConstMetric(linkUpDesc, prometheus.GaugeValue, boolGauge(st.Status == StatusOnline), iface)
	for _, s := range allStatuses {
		ch <- prometheus.MustNewConstMetric(linkStatusDesc, prometheus.GaugeValue, boolGauge(st.Status == s), string(s))
	}
	if st.LatencyMs != nil {
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, *st.LatencyMs/1000, st.Gateway, "gateway")
	}
	if st.DNSLatencyMs != nil {
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, *st.DNSLatencyMs/1000, st.DNSHost, "dns")
	}
	if iface != "" {
		ch <- prometheus.MustNewConstMetric(rxBytesDesc, prometheus.CounterValue, float64(st.Bandwidth.Rx), iface)
		ch <- prometheus.MustNewConstMetric(txBytesDesc, prometheus.CounterValue, float64(st.Bandwidth.Tx), iface)
	}
	ch <- prometheus.MustNewConstMetric(cyclesDesc, prometheus.CounterValue, float64(st.UptimeCycles))
	ch <- prometheus.MustNewConstMetric(downtimeDesc, prometheus.GaugeValue, float64(st.DowntimeTransitions))
	if st.LastDownAt != nil {
		ch <- prometheus.MustNewConstMetric(lastDownDesc, prometheus.GaugeValue, float64(st.LastDownAt.Unix()))
	}
	ch <- prometheus.MustNewConstMetric(worstLatencyDesc, prometheus.GaugeValue, st.WorstLatencyMs/1000)
	ch <- prometheus.MustNewConstMetric(bestBwDesc, prometheus.GaugeValue, st.BestBandwidthMbps)
	if st.WorstBandwidthMbps != nil {
		ch <- prometheus.MustNewConstMetric(worstBwDesc, prometheus.GaugeValue, *st.WorstBandwidthMbps)
	}

	r := st.LastSpeedTest
	if r == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(stUpDesc, prometheus.GaugeValue, boolGauge(!r.IsError()))
	ch <- prometheus.MustNewConstMetric(stTimestampDesc, prometheus.GaugeValue, float64(r.Timestamp.Unix()))
	if r.DownloadMbps != nil {
		ch <- prometheus.MustNewConstMetric(stDownloadDesc, prometheus.GaugeValue, *r.DownloadMbps, string(r.Method))
	}
	if r.UploadMbps != nil {
		est := "false"
		if r.UploadEstimated {
			est = "true"
		}
		ch <- prometheus.MustNewConstMetric(stUploadDesc, prometheus.GaugeValue, *r.UploadMbps, string(r.Method), est)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
