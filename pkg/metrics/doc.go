// Package metrics exposes the coordinator's Prometheus metrics: tablet
// liveness counts, catalog size, OP Engine throughput and queue depth,
// task RPC latency, failover activity, admin RPC counts, and replica
// cluster drift. Handler() serves them for scraping; Collector polls a
// running Coordinator on a fixed interval to keep the gauges current.
package metrics
