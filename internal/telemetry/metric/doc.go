// Package metric provides Prometheus metrics for Constellation.
//
//   - prometheus.go: the registry, mesh metrics and the /metrics handler
//   - raft.go: a go-metrics sink that bridges raft's internal metrics
//
// Metrics include membership size, leadership, proposal outcomes,
// negotiation outcomes, call and channel errors, relays and admin RPCs.
package metric
