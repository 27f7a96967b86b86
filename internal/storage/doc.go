// Package storage provides the durable stores behind the consensus log.
//
// Three backends are available:
//
//   - bolt: raft-boltdb files raft-log.db and raft-stable.db (default)
//   - badger: a single Badger directory holding both logs and stable state
//   - memory: raft's in-memory stores, for tests and throwaway nodes
//
// Durable backends keep consensus snapshots in a file snapshot store next
// to the log. The log store is wrapped in a small in-memory cache.
package storage
