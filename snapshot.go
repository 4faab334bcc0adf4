package main

import (
	"sort"
	"time"
)

// deviceSnapshot is the normalized form of one access point stats record.
type deviceSnapshot struct {
	Serial   string
	Model    string
	HwRev    string
	Hostname string

	Status           float64
	UptimeSeconds    float64
	LastSeenSeconds  float64
	NumClients       float64
	PowerConstrained float64
	RadioUtil        []bandUtil
	Ports            []portCounters
}

type bandUtil struct {
	Band    string
	UtilPct float64
}

type portCounters struct {
	Name    string
	RxBytes float64
	TxBytes float64
}

// edgeSnapshot is the normalized form of one Mist Edge stats record.
type edgeSnapshot struct {
	Serial   string
	Model    string
	Hostname string

	Status         float64
	UptimeSeconds  float64
	CPUUsagePct    float64
	MemoryUsagePct float64
	Temperatures   []sensorReading
	PSURedundancy  []redundancyFlag
	FanRedundancy  []redundancyFlag
}

type sensorReading struct {
	Sensor  string
	Celsius float64
}

type redundancyFlag struct {
	Kind  string
	Value float64
}

// scrapeSnapshot is one scrape cycle's worth of normalized entities plus the
// rollups derived from them. It is built fresh per scrape and never mutated
// afterwards.
type scrapeSnapshot struct {
	Devices []deviceSnapshot
	Edges   []edgeSnapshot

	DeviceTotal       int
	EdgeTotal         int
	DeviceMetricTotal int
	EdgeMetricTotal   int

	DevicesSkipped int
	EdgesSkipped   int

	// ExporterStatus is 0 when both fetch stages succeeded and skip ratios
	// stayed below threshold, 1 otherwise.
	ExporterStatus float64

	BuiltAt time.Time
}

type buildOpts struct {
	// maxSkipRatio is the fraction of a category's records that may be
	// skipped during normalization before the whole cycle is marked
	// degraded.
	maxSkipRatio float64

	// staleDevices/staleEdges, when non-nil, substitute for a category whose
	// fetch failed outright. The cycle still reports degraded.
	staleDevices []deviceSnapshot
	staleEdges   []edgeSnapshot
}

// buildSnapshot assembles one scrapeSnapshot from the raw fetch results.
// Per-entity normalization failures are counted as skips and never abort the
// batch; a category-level fetch error empties that category (or substitutes
// the stale copy) and degrades ExporterStatus.
func buildSnapshot(devRecs []rawRecord, devErr error, edgeRecs []rawRecord, edgeErr error, opts buildOpts) *scrapeSnapshot {
	snap := &scrapeSnapshot{BuiltAt: time.Now().UTC()}

	if devErr == nil {
		for _, rec := range devRecs {
			dev, err := normalizeDevice(rec)
			if err != nil {
				snap.DevicesSkipped++
				continue
			}
			snap.Devices = append(snap.Devices, dev)
		}
		// The API's order is stable but not defined; sort by serial so two
		// scrapes of the same fleet serialize identically.
		sort.Slice(snap.Devices, func(i, j int) bool { return snap.Devices[i].Serial < snap.Devices[j].Serial })
	} else if opts.staleDevices != nil {
		snap.Devices = opts.staleDevices
	}

	if edgeErr == nil {
		for _, rec := range edgeRecs {
			edge, err := normalizeEdge(rec)
			if err != nil {
				snap.EdgesSkipped++
				continue
			}
			snap.Edges = append(snap.Edges, edge)
		}
		sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].Serial < snap.Edges[j].Serial })
	} else if opts.staleEdges != nil {
		snap.Edges = opts.staleEdges
	}

	snap.DeviceTotal = len(snap.Devices)
	snap.EdgeTotal = len(snap.Edges)
	for _, dev := range snap.Devices {
		snap.DeviceMetricTotal += len(deviceSamples(dev))
	}
	for _, edge := range snap.Edges {
		snap.EdgeMetricTotal += len(edgeSamples(edge))
	}

	if devErr != nil || edgeErr != nil {
		snap.ExporterStatus = 1
	}
	if skipRatioExceeded(snap.DevicesSkipped, snap.DeviceTotal, opts.maxSkipRatio) ||
		skipRatioExceeded(snap.EdgesSkipped, snap.EdgeTotal, opts.maxSkipRatio) {
		snap.ExporterStatus = 1
	}

	return snap
}

func skipRatioExceeded(skipped, kept int, maxRatio float64) bool {
	if skipped == 0 {
		return false
	}
	return float64(skipped)/float64(skipped+kept) > maxRatio
}
