// Package logger provides structured logging for Constellation.
//
// It wraps log/slog:
//
//   - logger.go: handler construction, level control and the global logger
//   - context.go: request IDs carried through a context
//   - redact.go: masking of admission tokens and pre-shared keys
//   - hclog.go: an hclog.Logger adapter for raft and memberlist
//
// Output is JSON by default; text output is available for local runs.
package logger
