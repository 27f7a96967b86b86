// Package cmap provides a sharded map safe for concurrent use.
//
// Each shard has its own RWMutex, so writers to different keys rarely
// contend. Iteration visits shards one at a time and is not a consistent
// snapshot of the whole map.
//
//	m := cmap.New[string, *listener]()
//	if !m.SetIfAbsent(addr, ln) {
//		return errAddrInUse
//	}
package cmap
