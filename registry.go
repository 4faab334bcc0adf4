package main

import (
	"fmt"
	"sort"

	dto "github.com/prometheus/client_model/go"
)

// Entity categories, used to pick the rollup counters a metric feeds into.
const (
	categoryDevice   = "device"
	categoryEdge     = "edge"
	categoryExporter = "exporter"
)

// metricSpec declares one metric the exporter is allowed to emit: its
// exposition type and the ordered label names every sample must use.
// Empty-valued labels are dropped at emission, so a sample's labels must be
// an in-order subset of Labels.
type metricSpec struct {
	Name     string
	Help     string
	Type     dto.MetricType
	Category string
	Labels   []string
}

// schemaViolation reports a sample whose label set does not match its
// metricSpec. It indicates a programming defect in the sample expansion, not
// bad API data, and is surfaced loudly rather than swallowed.
type schemaViolation struct {
	metric string
	reason string
}

func (e *schemaViolation) Error() string {
	return fmt.Sprintf("schema violation on %s: %s", e.metric, e.reason)
}

// metricRegistry is the static catalog of every metric in the exposition
// document. The serializer consults it for # HELP/# TYPE lines and validates
// each emitted label set against it.
type metricRegistry struct {
	specs map[string]metricSpec
}

func newMetricRegistry(specs []metricSpec) *metricRegistry {
	byName := make(map[string]metricSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}
	return &metricRegistry{specs: byName}
}

func (r *metricRegistry) describe(name string) (metricSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return metricSpec{}, &schemaViolation{metric: name, reason: "not in registry"}
	}
	return spec, nil
}

// allMetrics returns every spec ordered by name, which fixes the family
// order of the serialized document.
func (r *metricRegistry) allMetrics() []metricSpec {
	specs := make([]metricSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// checkLabels verifies that the sample's label names are an in-order subset
// of the declared label list.
func (spec metricSpec) checkLabels(labels []labelPair) error {
	next := 0
	for _, lp := range labels {
		found := false
		for ; next < len(spec.Labels); next++ {
			if spec.Labels[next] == lp.name {
				found = true
				next++
				break
			}
		}
		if !found {
			return &schemaViolation{
				metric: spec.Name,
				reason: fmt.Sprintf("label %q not declared (declared: %v)", lp.name, spec.Labels),
			}
		}
	}
	return nil
}

// defaultRegistry is the exporter's metric catalog. Port and radio band
// names are labels rather than metric-name suffixes, and redundancy kinds
// and temperature sensors likewise.
var defaultRegistry = newMetricRegistry([]metricSpec{
	{Name: "mist_device_info", Help: "Identity labels for one access point; value is always 1.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice, Labels: []string{"serial", "model", "hw_rev", "hostname"}},
	{Name: "mist_device_status", Help: "Access point status: 0=connected 1=disconnected 2=upgrading 3=restarting.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice, Labels: []string{"hostname"}},
	{Name: "mist_device_uptime_seconds", Help: "Access point uptime in seconds.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice, Labels: []string{"hostname"}},
	{Name: "mist_device_last_seen_seconds", Help: "Unix timestamp at which the access point was last seen by the cloud.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice, Labels: []string{"hostname"}},
	{Name: "mist_device_num_clients", Help: "Number of wireless clients associated to the access point.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice, Labels: []string{"hostname"}},
	{Name: "mist_device_power_constrained", Help: "1 when the access point is power constrained.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice, Labels: []string{"hostname"}},
	{Name: "mist_device_radio_util", Help: "Total radio utilization percentage per band.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice, Labels: []string{"hostname", "band"}},
	{Name: "mist_device_port_rx_bytes", Help: "Bytes received per wired port.",
		Type: dto.MetricType_COUNTER, Category: categoryDevice, Labels: []string{"hostname", "port"}},
	{Name: "mist_device_port_tx_bytes", Help: "Bytes transmitted per wired port.",
		Type: dto.MetricType_COUNTER, Category: categoryDevice, Labels: []string{"hostname", "port"}},
	{Name: "mist_device_total_count", Help: "Number of access points in this scrape.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice},
	{Name: "mist_device_metric_total_count", Help: "Number of per-device samples emitted in this scrape.",
		Type: dto.MetricType_GAUGE, Category: categoryDevice},

	{Name: "mist_edge_info", Help: "Identity labels for one Mist Edge appliance; value is always 1.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"serial", "model", "hostname"}},
	{Name: "mist_edge_status", Help: "Edge status: 0=connected 1=disconnected 2=upgrading 3=restarting.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"hostname"}},
	{Name: "mist_edge_uptime_seconds", Help: "Edge uptime in seconds.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"hostname"}},
	{Name: "mist_edge_cpu_usage_pct", Help: "Edge CPU usage percentage.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"hostname"}},
	{Name: "mist_edge_memory_usage_pct", Help: "Edge memory usage percentage.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"hostname"}},
	{Name: "mist_edge_temperature_celsius", Help: "Edge temperature sensor reading in degrees Celsius.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"hostname", "sensor"}},
	{Name: "mist_edge_psu_redundancy", Help: "Edge PSU redundancy flag per redundancy kind.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"hostname", "kind"}},
	{Name: "mist_edge_fan_redundancy", Help: "Edge fan redundancy flag per redundancy kind.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge, Labels: []string{"hostname", "kind"}},
	{Name: "mist_edge_total_count", Help: "Number of edge appliances in this scrape.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge},
	{Name: "mist_edge_metric_total_count", Help: "Number of per-edge samples emitted in this scrape.",
		Type: dto.MetricType_GAUGE, Category: categoryEdge},

	{Name: "mist_exporter_status", Help: "0 when the last fetch cycle fully succeeded, 1 when degraded.",
		Type: dto.MetricType_GAUGE, Category: categoryExporter},
})
