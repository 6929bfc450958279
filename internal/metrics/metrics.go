// Package metrics exports daemon counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/nexus-sensor/internal/ook"
	"github.com/sweeney/nexus-sensor/internal/status"
)

const namespace = "nexus"

var (
	edgesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "edges_total"),
		"Edges seen by the interval classifier.", nil, nil)
	preamblesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "preambles_total"),
		"Preamble gaps classified.", nil, nil)
	payloadsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "payloads_total"),
		"Frames assembled to full width.", nil, nil)
	droppedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "queue_dropped_total"),
		"Payloads dropped because the processing loop fell behind.", nil, nil)
	errorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "errors_total"),
		"Frames discarded, by reason.", []string{"reason"}, nil)
	rejectedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "decoder", "rejected_total"),
		"Decoded readings refused by the filter.", nil, nil)
	candidatesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "reconciler", "candidates_total"),
		"Readings offered to the reconciler.", nil, nil)
	outcomesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "reconciler", "outcomes_total"),
		"Reconciliation outcomes.", []string{"outcome"}, nil)
	sinkDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sink", "deliveries_total"),
		"Readings handed to secondary sinks, by outcome.", []string{"sink", "outcome"}, nil)
	mqttDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "mqtt", "connected"),
		"1 when the broker connection is up.", nil, nil)
	uptimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "uptime_seconds"),
		"Seconds since the daemon started.", nil, nil)
	temperatureDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sensor", "temperature_celsius"),
		"Last published temperature.", []string{"id", "channel"}, nil)
	humidityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sensor", "humidity_percent"),
		"Last published relative humidity.", []string{"id", "channel"}, nil)
	batteryDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sensor", "battery_ok"),
		"Last published battery state.", []string{"id", "channel"}, nil)
	lastSeenDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sensor", "last_reading_timestamp_seconds"),
		"Unix time of the last published reading.", []string{"id", "channel"}, nil)
)

// Collector reads the tracker on every scrape. Counters already live in the
// capture pipeline and reconciler, so nothing is double counted here.
type Collector struct {
	tracker *status.Tracker
}

// NewCollector creates a collector over tracker.
func NewCollector(tracker *status.Tracker) *Collector {
	return &Collector{tracker: tracker}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		edgesDesc, preamblesDesc, payloadsDesc, droppedDesc, errorsDesc, rejectedDesc,
		candidatesDesc, outcomesDesc, sinkDesc, mqttDesc, uptimeDesc,
		temperatureDesc, humidityDesc, batteryDesc, lastSeenDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.tracker.Snapshot()
	dec := snap.Decoder

	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(edgesDesc, float64(dec.Edges))
	counter(preamblesDesc, float64(dec.Preambles))
	counter(payloadsDesc, float64(dec.Payloads))
	counter(droppedDesc, float64(dec.Dropped))
	for i, n := range dec.Errors {
		counter(errorsDesc, float64(n), ook.Reason(i).String())
	}
	counter(rejectedDesc, float64(snap.Rejected))

	counter(candidatesDesc, float64(snap.Counts.Candidates))
	counter(outcomesDesc, float64(snap.Counts.Confirmed), "confirmed")
	counter(outcomesDesc, float64(snap.Counts.LowConfidence), "low_confidence")
	counter(outcomesDesc, float64(snap.Counts.Suppressed), "suppressed")
	counter(outcomesDesc, float64(snap.Counts.Duplicates), "duplicate")

	if tg := snap.Telegraf; tg != nil {
		counter(sinkDesc, float64(tg.Sent), "telegraf", "sent")
		counter(sinkDesc, float64(tg.Failed), "telegraf", "failed")
	}

	gauge(mqttDesc, boolFloat(snap.MQTTConnected))
	gauge(uptimeDesc, snap.Uptime().Seconds())

	if ev := snap.LastReading; ev != nil {
		r := ev.Reading
		id := strconv.Itoa(int(r.ID))
		channel := strconv.Itoa(r.DisplayChannel())
		gauge(temperatureDesc, r.TemperatureC(), id, channel)
		gauge(humidityDesc, float64(r.Humidity), id, channel)
		gauge(batteryDesc, boolFloat(r.BatteryOK), id, channel)
		gauge(lastSeenDesc, float64(ev.Timestamp.Unix()), id, channel)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a registry holding the daemon collector plus the
// standard Go runtime and process collectors.
func NewRegistry(tracker *status.Tracker) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(tracker),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry for scraping.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
