package addressbook

import (
	"fmt"

	"github.com/norpie/constellation/internal/core/domain"
)

// Fold applies one committed event to s and returns the resulting snapshot.
// s is never modified.
//
// The snapshot index always advances to index, even when the event is
// rejected: a rejected event still occupies its log slot and every node
// rejects it identically. The returned error describes the rejection.
func Fold(s *Snapshot, index uint64, ev *domain.MembershipEvent) (*Snapshot, error) {
	next := s.clone()
	next.index = index

	if err := ev.Validate(); err != nil {
		return next, err
	}

	switch ev.Type {
	case domain.EventJoin:
		e := ev.Join.Entry.Clone()
		e.Normalize()
		e.LastSeen = ev.Timestamp
		e.Epoch = next.epoch
		next.entries[e.Identity] = e

	case domain.EventLeave:
		id := ev.Leave.Identity
		if _, ok := next.entries[id]; !ok {
			return next, domain.ErrNotFound.WithDetails(id.String())
		}
		delete(next.entries, id)

	case domain.EventLeaderChange:
		lc := ev.LeaderChange
		if lc.Epoch <= next.epoch {
			return next, domain.ErrTermConflict.WithDetails(
				fmt.Sprintf("epoch %d is not after current epoch %d", lc.Epoch, next.epoch))
		}
		next.epoch = lc.Epoch
		next.leader = lc.Leader

	case domain.EventEndpointUpdate:
		up := ev.EndpointUpdate
		cur, ok := next.entries[up.Identity]
		if !ok {
			return next, domain.ErrNotFound.WithDetails(up.Identity.String())
		}
		e := cur.Clone()
		e.Transports = append([]domain.TransportKind(nil), up.Transports...)
		e.Endpoints = append([]domain.Endpoint(nil), up.Endpoints...)
		e.Normalize()
		e.LastSeen = ev.Timestamp
		e.Epoch = next.epoch
		next.entries[e.Identity] = e
	}

	return next, nil
}
