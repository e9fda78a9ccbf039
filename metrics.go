package diskhash

import "github.com/prometheus/client_golang/prometheus"

// mapCollector implements prometheus.Collector, reading live values off a
// Map on every scrape instead of maintaining its own counters for gauges —
// the same on-demand-read shape the teacher's disk-space collector uses for
// gopsutil stats. Splits and doublings are the exception: they are
// cumulative counts the Map itself tracks (they cannot be recomputed from
// current state alone), so they are reported as counters.
type mapCollector struct {
	m *Map

	bytesAllocatedDesc *prometheus.Desc
	prefixBitsDesc     *prometheus.Desc
	bucketsCountDesc   *prometheus.Desc
	splitsDesc         *prometheus.Desc
	doublingsDesc      *prometheus.Desc
}

// NewCollector returns a prometheus.Collector that reports m's size,
// directory resolution, and cumulative split/doubling counts.
func NewCollector(m *Map) prometheus.Collector {
	return &mapCollector{
		m: m,
		bytesAllocatedDesc: prometheus.NewDesc(
			"diskhash_bytes_allocated",
			"Combined size in bytes of the mapped directory and data files.",
			nil, nil,
		),
		prefixBitsDesc: prometheus.NewDesc(
			"diskhash_directory_prefix_bits",
			"Current resolution of the directory, in bits.",
			nil, nil,
		),
		bucketsCountDesc: prometheus.NewDesc(
			"diskhash_buckets_count",
			"Number of partitions ever allocated, including free ones.",
			nil, nil,
		),
		splitsDesc: prometheus.NewDesc(
			"diskhash_splits_total",
			"Number of partition splits performed since the map was opened.",
			nil, nil,
		),
		doublingsDesc: prometheus.NewDesc(
			"diskhash_directory_doublings_total",
			"Number of directory doublings performed since the map was opened.",
			nil, nil,
		),
	}
}

func (c *mapCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesAllocatedDesc
	ch <- c.prefixBitsDesc
	ch <- c.bucketsCountDesc
	ch <- c.splitsDesc
	ch <- c.doublingsDesc
}

func (c *mapCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.bytesAllocatedDesc, prometheus.GaugeValue, float64(c.m.BytesAllocated()))
	ch <- prometheus.MustNewConstMetric(c.prefixBitsDesc, prometheus.GaugeValue, float64(c.m.dir.PrefixBits()))
	ch <- prometheus.MustNewConstMetric(c.bucketsCountDesc, prometheus.GaugeValue, float64(c.m.pool.BucketsCount()))
	ch <- prometheus.MustNewConstMetric(c.splitsDesc, prometheus.CounterValue, float64(c.m.Splits()))
	ch <- prometheus.MustNewConstMetric(c.doublingsDesc, prometheus.CounterValue, float64(c.m.Doublings()))
}
