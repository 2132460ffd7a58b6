// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of Prometheus collectors a Cache updates as its
// registry and lock state change. Metrics is optional: a Cache
// constructed without WithMetrics simply skips these updates.
type Metrics struct {
	pvCount          prometheus.Gauge
	vgCount          prometheus.Gauge
	unusedDuplicates prometheus.Gauge

	duplicatesFound       prometheus.Counter
	scanMismatches        prometheus.Counter
	lockProgrammingErrors prometheus.Counter
}

// NewMetrics registers the cache's collectors against reg and returns
// the handle to pass to WithMetrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pvCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lvmcache",
			Name:      "pv_count",
			Help:      "Number of physical volumes currently indexed by the cache.",
		}),
		vgCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lvmcache",
			Name:      "vg_count",
			Help:      "Number of volume groups currently indexed by the cache.",
		}),
		unusedDuplicates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lvmcache",
			Name:      "unused_duplicate_pvs",
			Help:      "Number of devices currently parked as unused PV duplicates.",
		}),
		duplicatesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lvmcache",
			Name:      "duplicate_pvs_found_total",
			Help:      "Total number of duplicate PV ids detected across all scans.",
		}),
		scanMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lvmcache",
			Name:      "scan_summary_mismatches_total",
			Help:      "Total number of metadata witness mismatches detected between a VG's devices.",
		}),
		lockProgrammingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lvmcache",
			Name:      "lock_programming_errors_total",
			Help:      "Total number of lock-ordering or nesting programming errors detected.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pvCount, m.vgCount, m.unusedDuplicates, m.duplicatesFound, m.scanMismatches, m.lockProgrammingErrors)
	}
	return m
}
