// Package export forwards session telemetry to external monitoring
// systems. PrometheusSink keeps the latest value of every entry as a gauge
// for scraping; InfluxSink batches observations and log records into an
// InfluxDB bucket.
package export
