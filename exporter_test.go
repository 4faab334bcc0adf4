package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMistAPI serves the testdata fixtures the way the Mist cloud would.
// Handlers can be overridden per test to simulate outages.
type fakeMistAPI struct {
	*httptest.Server
	failDevices atomic.Bool
	failEdges   atomic.Bool
	edgeDelay   time.Duration
}

func newFakeMistAPI(t *testing.T) *fakeMistAPI {
	t.Helper()
	fake := &fakeMistAPI{}

	serveFixture := func(w http.ResponseWriter, name string) {
		body, err := os.ReadFile(filepath.Join("testdata", name))
		require.NoError(t, err)
		w.Write(body)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/org-1/sites", func(w http.ResponseWriter, r *http.Request) {
		serveFixture(w, "sites_resp.json")
	})
	mux.HandleFunc("/sites/site-1/stats/devices", func(w http.ResponseWriter, r *http.Request) {
		if fake.failDevices.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		serveFixture(w, "devices_resp.json")
	})
	mux.HandleFunc("/sites/site-2/stats/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})
	mux.HandleFunc("/orgs/org-1/stats/mxedges", func(w http.ResponseWriter, r *http.Request) {
		if fake.edgeDelay > 0 {
			select {
			case <-time.After(fake.edgeDelay):
			case <-r.Context().Done():
				return
			}
		}
		if fake.failEdges.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		serveFixture(w, "edges_resp.json")
	})

	fake.Server = httptest.NewServer(mux)
	t.Cleanup(fake.Close)
	return fake
}

func newTestExporter(t *testing.T, fake *fakeMistAPI) *exporter {
	t.Helper()
	return &exporter{
		api:           newMistClient(fake.URL, "test-token", "org-1", regexp.MustCompile(".*"), 100),
		registry:      defaultRegistry,
		logger:        newPromLogger("error"),
		metrics:       newExporterMetrics(prometheus.NewRegistry()),
		scrapeTimeout: 5 * time.Second,
		maxSkipRatio:  0.5,
	}
}

func scrapeBody(t *testing.T, e *exporter) (string, *httptest.ResponseRecorder) {
	t.Helper()
	recorder := httptest.NewRecorder()
	e.metricsHandler()(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return recorder.Body.String(), recorder
}

func TestMetricsEndpoint_FullScrape(t *testing.T) {
	e := newTestExporter(t, newFakeMistAPI(t))
	body, recorder := scrapeBody(t, e)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Type"), "text/plain; version=0.0.4")

	for _, line := range []string{
		`mist_device_info{serial="A18022302011B",model="AP34",hw_rev="A",hostname="MISTDEVICE"} 1`,
		`mist_device_num_clients{hostname="MISTDEVICE"} 2`,
		`mist_device_status{hostname="WAREHOUSE-AP"} 1`,
		`mist_device_radio_util{hostname="MISTDEVICE",band="2.4GHz"} 7`,
		`mist_device_port_rx_bytes{hostname="MISTDEVICE",port="eth0"} 8.1264036e+07`,
		`mist_edge_info{serial="ME000123",model="ME-X1",hostname="EDGE-FRA-1"} 1`,
		`mist_edge_temperature_celsius{hostname="EDGE-FRA-1",sensor="exhaust"} 41.25`,
		`mist_edge_psu_redundancy{hostname="EDGE-FRA-1",kind="fullyredundant"} 1`,
		"mist_device_total_count 3",
		"mist_edge_total_count 1",
		"mist_exporter_status 0",
	} {
		assert.Contains(t, body, line+"\n")
	}

	// The device with the unparsable num_clients stays in the snapshot with
	// the field defaulted, it is not skipped.
	assert.Contains(t, body, `mist_device_num_clients{hostname="LOBBY-AP"} 0`)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.scrapes))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.scrapeErrors))
}

func TestMetricsEndpoint_EdgeFetchFailureKeepsDevices(t *testing.T) {
	fake := newFakeMistAPI(t)
	fake.failEdges.Store(true)
	e := newTestExporter(t, fake)

	body, recorder := scrapeBody(t, e)

	assert.Equal(t, http.StatusOK, recorder.Code, "degraded scrapes still answer 200")
	assert.Contains(t, body, `mist_device_info{serial="A18022302011B"`)
	assert.NotContains(t, body, "mist_edge_info")
	assert.Contains(t, body, "mist_edge_total_count 0\n")
	assert.Contains(t, body, "mist_exporter_status 1\n")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.scrapeErrors))
}

func TestMetricsEndpoint_EdgeTimeoutDegrades(t *testing.T) {
	fake := newFakeMistAPI(t)
	fake.edgeDelay = 2 * time.Second
	e := newTestExporter(t, fake)
	e.scrapeTimeout = 100 * time.Millisecond

	body, _ := scrapeBody(t, e)

	assert.Contains(t, body, `mist_device_info{serial="A18022302011B"`)
	assert.NotContains(t, body, "mist_edge_info")
	assert.Contains(t, body, "mist_exporter_status 1\n")
}

func TestMetricsEndpoint_ServeStaleSubstitutesFailedCategory(t *testing.T) {
	fake := newFakeMistAPI(t)
	e := newTestExporter(t, fake)
	e.serveStale = true

	body, _ := scrapeBody(t, e)
	require.Contains(t, body, "mist_exporter_status 0\n")

	fake.failDevices.Store(true)
	body, _ = scrapeBody(t, e)

	assert.Contains(t, body, `mist_device_info{serial="A18022302011B"`, "previous good devices are served")
	assert.Contains(t, body, "mist_device_total_count 3\n")
	assert.Contains(t, body, "mist_exporter_status 1\n", "stale serving still reports degraded")
}

func TestMetricsEndpoint_WithoutServeStaleFailedCategoryIsEmpty(t *testing.T) {
	fake := newFakeMistAPI(t)
	e := newTestExporter(t, fake)

	body, _ := scrapeBody(t, e)
	require.Contains(t, body, "mist_device_total_count 3\n")

	fake.failDevices.Store(true)
	body, _ = scrapeBody(t, e)

	assert.NotContains(t, body, "mist_device_info")
	assert.Contains(t, body, "mist_device_total_count 0\n")
	assert.Contains(t, body, "mist_exporter_status 1\n")
}

func TestMetricsEndpoint_ScrapesAreIndependent(t *testing.T) {
	e := newTestExporter(t, newFakeMistAPI(t))

	first, _ := scrapeBody(t, e)
	second, _ := scrapeBody(t, e)

	assert.Equal(t, first, second, "identical fleets serialize byte-identically across scrapes")
}

func TestTelemetryRegistryIncludesBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(version.NewCollector("mist_exporter"))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, fam := range families {
		names = append(names, fam.GetName())
	}
	assert.Contains(t, names, "mist_exporter_build_info")
}

func TestHealthzEndpoint(t *testing.T) {
	e := newTestExporter(t, newFakeMistAPI(t))

	recorder := httptest.NewRecorder()
	e.healthzHandler()(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code, "unhealthy before the first good scrape")

	scrapeBody(t, e)

	recorder = httptest.NewRecorder()
	e.healthzHandler()(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "3 devices, 1 edges")
}
