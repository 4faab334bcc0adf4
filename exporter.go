package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// exporterMetrics is the exporter's own telemetry, served from a separate
// registry on /telemetry so it never mixes with the Mist document.
type exporterMetrics struct {
	scrapes        prometheus.Counter
	scrapeErrors   prometheus.Counter
	scrapeDuration prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

func newExporterMetrics(reg prometheus.Registerer) *exporterMetrics {
	factory := promauto.With(reg)
	return &exporterMetrics{
		scrapes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mist", Subsystem: "exporter", Name: "scrapes_total",
			Help: "Number of times this exporter has scraped the Mist cloud.",
		}),
		scrapeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mist", Subsystem: "exporter", Name: "scrape_errors_total",
			Help: "Number of scrape cycles that ended degraded.",
		}),
		scrapeDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mist", Subsystem: "exporter", Name: "last_scrape_duration_seconds",
			Help: "Duration of the most recent scrape cycle.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mist", Subsystem: "exporter", Name: "last_success_timestamp_seconds",
			Help: "Time of the last fully successful scrape cycle.",
		}),
	}
}

type exporter struct {
	api      *mistClient
	registry *metricRegistry
	logger   log.Logger
	metrics  *exporterMetrics

	scrapeTimeout time.Duration
	maxSkipRatio  float64
	serveStale    bool

	// lastGood holds the most recent fully successful snapshot. One writer
	// (the scrape in flight), many readers; replaced whole, never mutated.
	mu       sync.RWMutex
	lastGood *scrapeSnapshot
}

func (e *exporter) storeLastGood(snap *scrapeSnapshot) {
	e.mu.Lock()
	e.lastGood = snap
	e.mu.Unlock()
}

func (e *exporter) loadLastGood() *scrapeSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastGood
}

// scrapeOnce runs one full fetch-normalize-build cycle. The device and edge
// listings are independent API calls and run concurrently; a failure in
// either degrades the snapshot but never fails the other.
func (e *exporter) scrapeOnce(ctx context.Context) *scrapeSnapshot {
	started := time.Now()
	e.metrics.scrapes.Inc()

	ctx, cancel := context.WithTimeout(ctx, e.scrapeTimeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		devices []rawRecord
		devErr  error
		edges   []rawRecord
		edgeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		devices, devErr = e.api.fetchDevices(ctx)
	}()
	go func() {
		defer wg.Done()
		edges, edgeErr = e.api.fetchEdges(ctx)
	}()
	wg.Wait()

	if devErr != nil {
		level.Warn(e.logger).Log("msg", "device fetch failed", "err", devErr)
	}
	if edgeErr != nil {
		level.Warn(e.logger).Log("msg", "edge fetch failed", "err", edgeErr)
	}

	opts := buildOpts{maxSkipRatio: e.maxSkipRatio}
	if e.serveStale {
		if last := e.loadLastGood(); last != nil {
			opts.staleDevices = last.Devices
			opts.staleEdges = last.Edges
		}
	}
	snap := buildSnapshot(devices, devErr, edges, edgeErr, opts)

	if snap.DevicesSkipped > 0 || snap.EdgesSkipped > 0 {
		level.Warn(e.logger).Log("msg", "skipped records during normalization",
			"devices_skipped", snap.DevicesSkipped, "edges_skipped", snap.EdgesSkipped)
	}

	e.metrics.scrapeDuration.Set(time.Since(started).Seconds())
	if snap.ExporterStatus == 0 {
		e.metrics.lastSuccess.SetToCurrentTime()
		e.storeLastGood(snap)
	} else {
		e.metrics.scrapeErrors.Inc()
	}

	level.Debug(e.logger).Log("msg", "scrape cycle finished",
		"devices", snap.DeviceTotal, "edges", snap.EdgeTotal,
		"status", snap.ExporterStatus, "duration", time.Since(started))
	return snap
}

// metricsHandler serves the Mist exposition document. Each request triggers
// one scrape cycle and always answers 200: health is reported through
// mist_exporter_status, not HTTP status codes.
func (e *exporter) metricsHandler() http.HandlerFunc {
	contentType := string(expfmt.NewFormat(expfmt.TypeTextPlain))
	return func(w http.ResponseWriter, r *http.Request) {
		snap := e.scrapeOnce(r.Context())
		body, err := serialize(snap, e.registry)
		if err != nil {
			// A serialization error is a programming defect, not an API
			// hiccup. Log it loudly and still answer with a valid document.
			level.Error(e.logger).Log("msg", "serialization failed", "err", err)
			e.metrics.scrapeErrors.Inc()
			body = []byte("mist_exporter_status 1\n")
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}
}

// healthzHandler reports on the last-good snapshot cell: 200 once a fully
// successful scrape has happened, 503 before that.
func (e *exporter) healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := e.loadLastGood()
		if last == nil {
			http.Error(w, "no successful scrape yet", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok: %d devices, %d edges at %s\n",
			last.DeviceTotal, last.EdgeTotal, last.BuiltAt.Format(time.RFC3339))
	}
}
