// Package adminserver exposes a mesh participant to operators over HTTP:
// the admin RPC service (connect, JSON codec), Prometheus metrics on
// /metrics, and liveness and readiness probes on /healthz and /readyz.
package adminserver
