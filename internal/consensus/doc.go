// Package consensus replicates membership events with hashicorp/raft.
//
// The raft leader is the mesh's transponder. On election it commits a
// LeaderChange whose epoch is its raft term; the FSM folds every committed
// event into an addressbook.Book and fans it out to subscribers. The leader
// also tracks heartbeat failures and evicts peers that stay unreachable past
// the liveness timeout.
//
// Raft RPCs run over a StreamLayer on the fabric socket transport, falling
// back to a one-hop relay through another participant when a peer cannot be
// dialed directly.
package consensus
