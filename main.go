package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"regexp"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	listenAddress = kingpin.Flag("listen-address", "Metrics exporter listen address.").
			Short('l').Envar("MIST_EXPORTER_LISTEN_ADDRESS").Default(":9583").String()
	mistAPIToken = kingpin.Flag("mist-api-token", "API token for Mist cloud authentication.").
			Envar("MIST_API_TOKEN").Required().String()
	mistOrgID = kingpin.Flag("mist-org-id", "Mist organisation ID.").
			Envar("MIST_ORG_ID").Required().String()
	mistAPIBaseURL = kingpin.Flag("mist-api-base-url", "Mist API base URL, if not EU.").
			Envar("MIST_API_BASE_URL").Default("https://api.eu.mist.com/api/v1").String()
	siteNameFilter = kingpin.Flag("site-name-filter", "Only scrape sites whose name matches this regex.").
			Envar("MIST_SITE_NAME_FILTER").Default(".*").String()
	scrapeTimeoutSeconds = kingpin.Flag("scrape-timeout-seconds", "Deadline for one full scrape cycle.").
				Envar("MIST_EXPORTER_SCRAPE_TIMEOUT_SECONDS").Default("10").Int()
	pageLimit = kingpin.Flag("page-limit", "Page size for paginated Mist API listings.").
			Envar("MIST_EXPORTER_PAGE_LIMIT").Default("100").Int()
	maxSkipRatio = kingpin.Flag("max-skip-ratio", "Fraction of records in a category that may be skipped before the scrape reports degraded.").
			Envar("MIST_EXPORTER_MAX_SKIP_RATIO").Default("0.5").Float64()
	serveStale = kingpin.Flag("serve-stale", "Serve the previous good snapshot for a category whose fetch failed.").
			Envar("MIST_EXPORTER_SERVE_STALE").Default("false").Bool()
	logLevel = kingpin.Flag("log-level", "Log level (debug, info, warn, error).").
			Envar("MIST_EXPORTER_LOG_LEVEL").Default("info").String()
)

func main() {
	kingpin.Parse()

	logger := newPromLogger(*logLevel)
	level.Info(logger).Log("msg", "starting mist exporter")

	siteFilter, err := regexp.Compile(*siteNameFilter)
	if err != nil {
		level.Error(logger).Log("msg", "invalid site name filter", "err", err)
		os.Exit(1)
	}

	telemetryRegistry := prometheus.NewRegistry()
	telemetryRegistry.MustRegister(version.NewCollector("mist_exporter"))

	mistExporter := &exporter{
		api:           newMistClient(*mistAPIBaseURL, *mistAPIToken, *mistOrgID, siteFilter, *pageLimit),
		registry:      defaultRegistry,
		logger:        logger,
		metrics:       newExporterMetrics(telemetryRegistry),
		scrapeTimeout: time.Duration(*scrapeTimeoutSeconds) * time.Second,
		maxSkipRatio:  *maxSkipRatio,
		serveStale:    *serveStale,
	}

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), mistExporter.scrapeTimeout)
	if email, err := mistExporter.api.whoami(probeCtx); err != nil {
		level.Warn(logger).Log("msg", "credential probe failed", "err", err)
	} else {
		level.Info(logger).Log("msg", "authenticated against mist cloud", "email", email)
	}
	cancelProbe()

	router := http.NewServeMux()
	router.Handle("/metrics", mistExporter.metricsHandler())
	router.Handle("/healthz", mistExporter.healthzHandler())
	router.Handle("/telemetry", promhttp.HandlerFor(telemetryRegistry, promhttp.HandlerOpts{}))

	runGroup := run.Group{}

	serverSocket, err := net.Listen("tcp", *listenAddress)
	if err != nil {
		level.Error(logger).Log("msg", "listen failed", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "listening", "address", *listenAddress)
	runGroup.Add(func() error {
		return http.Serve(serverSocket, router)
	}, func(error) {
		serverSocket.Close()
	})

	runGroup.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if err := runGroup.Run(); err != nil {
		if _, ok := err.(run.SignalError); ok {
			level.Info(logger).Log("msg", "shutting down", "reason", err)
			return
		}
		level.Error(logger).Log("msg", "exiting", "err", err)
		os.Exit(1)
	}
}
