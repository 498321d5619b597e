// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and the run repository behind the status API.
package sinks
