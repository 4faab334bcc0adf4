package main

import (
	"errors"
	"math"
	"sort"
	"strings"
)

// Device and edge status codes as exposed by mist_device_status and
// mist_edge_status. A missing or unrecognised status field reads as
// connected, never as an error state.
const (
	statusConnected    = 0
	statusDisconnected = 1
	statusUpgrading    = 2
	statusRestarting   = 3
)

// Normalization skip reasons. A skipped record is counted and logged but
// never fails the batch.
var (
	errNotObject = errors.New("record is not a JSON object")
	errNoSerial  = errors.New("record has no serial")
)

var statusCodes = map[string]float64{
	"connected":    statusConnected,
	"disconnected": statusDisconnected,
	"upgrading":    statusUpgrading,
	"restarting":   statusRestarting,
}

var radioBands = []struct {
	path string
	band string
}{
	{"radio_stat.band_24.util_all", "2.4GHz"},
	{"radio_stat.band_5.util_all", "5GHz"},
	{"radio_stat.band_6.util_all", "6GHz"},
}

// normalizeDevice maps one raw AP stats record to a deviceSnapshot. It is a
// pure function and never fails on malformed fields: a field of the wrong
// type is treated as absent and takes its documented default. The only fatal
// conditions are a non-object record and a missing serial, since serial is
// the identity key.
func normalizeDevice(rec rawRecord) (deviceSnapshot, error) {
	if rec == nil {
		return deviceSnapshot{}, errNotObject
	}
	serial, _ := rec.at("serial").str()
	if serial == "" {
		return deviceSnapshot{}, errNoSerial
	}

	d := deviceSnapshot{Serial: serial}
	d.Model, _ = rec.at("model").str()
	d.HwRev, _ = rec.at("hw_rev").str()
	if name, ok := rec.at("name").str(); ok {
		// The Mist UI shows device names upper-cased; match that in the
		// hostname label.
		d.Hostname = strings.ToUpper(name)
	}
	d.Status = statusCode(rec.at("status"))
	d.UptimeSeconds = nonNegative(numberOr(rec.at("uptime"), 0))
	d.LastSeenSeconds = nonNegative(numberOr(rec.at("last_seen"), 0))
	d.NumClients = nonNegative(numberOr(rec.at("num_clients"), 0))
	if constrained, ok := rec.at("power_constrained").boolean(); ok && constrained {
		d.PowerConstrained = 1
	}

	for _, rb := range radioBands {
		if util, ok := rec.at(rb.path).number(); ok {
			d.RadioUtil = append(d.RadioUtil, bandUtil{Band: rb.band, UtilPct: clampPct(util)})
		}
	}

	if ports, ok := rec.at("port_stat").object(); ok {
		for _, name := range sortedKeys(ports) {
			port, ok := ports.at(name).object()
			if !ok {
				continue
			}
			d.Ports = append(d.Ports, portCounters{
				Name:    name,
				RxBytes: nonNegative(numberOr(port.at("rx_bytes"), 0)),
				TxBytes: nonNegative(numberOr(port.at("tx_bytes"), 0)),
			})
		}
	}

	return d, nil
}

// normalizeEdge maps one raw Mist Edge stats record to an edgeSnapshot,
// under the same field extraction policy as normalizeDevice.
func normalizeEdge(rec rawRecord) (edgeSnapshot, error) {
	if rec == nil {
		return edgeSnapshot{}, errNotObject
	}
	serial, _ := rec.at("serial").str()
	if serial == "" {
		return edgeSnapshot{}, errNoSerial
	}

	e := edgeSnapshot{Serial: serial}
	e.Model, _ = rec.at("model").str()
	if name, ok := rec.at("name").str(); ok {
		e.Hostname = strings.ToUpper(name)
	}
	e.Status = statusCode(rec.at("status"))
	e.UptimeSeconds = nonNegative(numberOr(rec.at("uptime"), 0))
	e.CPUUsagePct = clampPct(numberOr(rec.at("cpu_stat.usage"), 0))
	e.MemoryUsagePct = clampPct(numberOr(rec.at("memory_stat.usage"), 0))

	if sensors, ok := rec.at("sensor_stat").object(); ok {
		for _, name := range sortedKeys(sensors) {
			if temp, ok := sensors.at(name).number(); ok {
				e.Temperatures = append(e.Temperatures, sensorReading{Sensor: name, Celsius: temp})
			}
		}
	}
	e.PSURedundancy = redundancyFlags(rec.at("psu_redundancy"))
	e.FanRedundancy = redundancyFlags(rec.at("fan_redundancy"))

	return e, nil
}

func redundancyFlags(f fieldValue) []redundancyFlag {
	obj, ok := f.object()
	if !ok {
		return nil
	}
	var flags []redundancyFlag
	for _, kind := range sortedKeys(obj) {
		if val, ok := obj.at(kind).boolean(); ok {
			flags = append(flags, redundancyFlag{Kind: kind, Value: boolToFloat(val)})
		}
	}
	return flags
}

// statusCode accepts the status either as the API's string form or as an
// already-numeric code 0-3. Anything else, including an absent field, reads
// as connected.
func statusCode(f fieldValue) float64 {
	if s, ok := f.str(); ok {
		if code, ok := statusCodes[strings.ToLower(s)]; ok {
			return code
		}
		return statusConnected
	}
	if n, ok := f.number(); ok && n == math.Trunc(n) && n >= statusConnected && n <= statusRestarting {
		return n
	}
	return statusConnected
}

func numberOr(f fieldValue, fallback float64) float64 {
	if n, ok := f.number(); ok {
		return n
	}
	return fallback
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(r rawRecord) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
