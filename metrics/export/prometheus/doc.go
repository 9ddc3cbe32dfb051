// Package prometheus renders engine metrics in the Prometheus text
// exposition format.
//
// Counters are named authcore_*_total and the login latency histogram is
// authcore_login_latency_seconds. Sources that report rotation status also
// get authcore_signing_secret_* gauges. Nothing is registered globally;
// callers mount [Exporter.Handler] where they want it.
package prometheus
