package main

import (
	"bytes"
	"fmt"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

type labelPair struct {
	name  string
	value string
}

// sample is one exposition line before encoding.
type sample struct {
	metric string
	labels []labelPair
	value  float64
}

// label appends a label pair, dropping empty values: in the exposition
// format an empty label value is equivalent to the label being absent, so we
// leave it out entirely (hw_rev is missing on many models, hostname may be
// blank).
func (s sample) label(name, value string) sample {
	if value == "" {
		return s
	}
	s.labels = append(s.labels, labelPair{name: name, value: value})
	return s
}

func newSample(metric string, value float64) sample {
	return sample{metric: metric, value: value}
}

// deviceSamples expands one device into its exposition samples. The builder
// counts these for mist_device_metric_total_count, so expansion must stay in
// one place.
func deviceSamples(d deviceSnapshot) []sample {
	samples := []sample{
		newSample("mist_device_info", 1).
			label("serial", d.Serial).label("model", d.Model).
			label("hw_rev", d.HwRev).label("hostname", d.Hostname),
		newSample("mist_device_status", d.Status).label("hostname", d.Hostname),
		newSample("mist_device_uptime_seconds", d.UptimeSeconds).label("hostname", d.Hostname),
		newSample("mist_device_last_seen_seconds", d.LastSeenSeconds).label("hostname", d.Hostname),
		newSample("mist_device_num_clients", d.NumClients).label("hostname", d.Hostname),
		newSample("mist_device_power_constrained", d.PowerConstrained).label("hostname", d.Hostname),
	}
	for _, rb := range d.RadioUtil {
		samples = append(samples,
			newSample("mist_device_radio_util", rb.UtilPct).
				label("hostname", d.Hostname).label("band", rb.Band))
	}
	for _, port := range d.Ports {
		samples = append(samples,
			newSample("mist_device_port_rx_bytes", port.RxBytes).
				label("hostname", d.Hostname).label("port", port.Name),
			newSample("mist_device_port_tx_bytes", port.TxBytes).
				label("hostname", d.Hostname).label("port", port.Name))
	}
	return samples
}

// edgeSamples expands one edge appliance into its exposition samples.
func edgeSamples(e edgeSnapshot) []sample {
	samples := []sample{
		newSample("mist_edge_info", 1).
			label("serial", e.Serial).label("model", e.Model).label("hostname", e.Hostname),
		newSample("mist_edge_status", e.Status).label("hostname", e.Hostname),
		newSample("mist_edge_uptime_seconds", e.UptimeSeconds).label("hostname", e.Hostname),
		newSample("mist_edge_cpu_usage_pct", e.CPUUsagePct).label("hostname", e.Hostname),
		newSample("mist_edge_memory_usage_pct", e.MemoryUsagePct).label("hostname", e.Hostname),
	}
	for _, t := range e.Temperatures {
		samples = append(samples,
			newSample("mist_edge_temperature_celsius", t.Celsius).
				label("hostname", e.Hostname).label("sensor", t.Sensor))
	}
	for _, f := range e.PSURedundancy {
		samples = append(samples,
			newSample("mist_edge_psu_redundancy", f.Value).
				label("hostname", e.Hostname).label("kind", f.Kind))
	}
	for _, f := range e.FanRedundancy {
		samples = append(samples,
			newSample("mist_edge_fan_redundancy", f.Value).
				label("hostname", e.Hostname).label("kind", f.Kind))
	}
	return samples
}

// snapshotSamples expands a full snapshot: per-entity samples in snapshot
// order, then the rollups, then the exporter health gauge.
func snapshotSamples(snap *scrapeSnapshot) []sample {
	var samples []sample
	for _, d := range snap.Devices {
		samples = append(samples, deviceSamples(d)...)
	}
	for _, e := range snap.Edges {
		samples = append(samples, edgeSamples(e)...)
	}
	samples = append(samples,
		newSample("mist_device_total_count", float64(snap.DeviceTotal)),
		newSample("mist_device_metric_total_count", float64(snap.DeviceMetricTotal)),
		newSample("mist_edge_total_count", float64(snap.EdgeTotal)),
		newSample("mist_edge_metric_total_count", float64(snap.EdgeMetricTotal)),
		newSample("mist_exporter_status", snap.ExporterStatus),
	)
	return samples
}

// serialize renders a snapshot as Prometheus text exposition. Output is
// deterministic: families come out in registry (name) order, samples within
// a family in snapshot order, and the snapshot itself is sorted by serial at
// build time. A schemaViolation return means a bug in sample expansion.
func serialize(snap *scrapeSnapshot, reg *metricRegistry) ([]byte, error) {
	families := map[string]*dto.MetricFamily{}
	for _, sm := range snapshotSamples(snap) {
		spec, err := reg.describe(sm.metric)
		if err != nil {
			return nil, err
		}
		if err := spec.checkLabels(sm.labels); err != nil {
			return nil, err
		}
		fam, ok := families[sm.metric]
		if !ok {
			fam = &dto.MetricFamily{
				Name: proto.String(spec.Name),
				Help: proto.String(spec.Help),
				Type: spec.Type.Enum(),
			}
			families[sm.metric] = fam
		}
		fam.Metric = append(fam.Metric, sampleToMetric(sm, spec.Type))
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, spec := range reg.allMetrics() {
		fam, ok := families[spec.Name]
		if !ok {
			continue
		}
		if err := enc.Encode(fam); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", spec.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func sampleToMetric(sm sample, typ dto.MetricType) *dto.Metric {
	m := &dto.Metric{}
	for _, lp := range sm.labels {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(lp.name),
			Value: proto.String(lp.value),
		})
	}
	if typ == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: proto.Float64(sm.value)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(sm.value)}
	}
	return m
}
