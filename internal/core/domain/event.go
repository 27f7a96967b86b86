package domain

import (
	"encoding/json"
	"fmt"
)

// EventType tags a MembershipEvent.
type EventType uint8

const (
	// EventJoin adds (or replaces) an address book entry.
	EventJoin EventType = 1

	// EventLeave removes an entry.
	EventLeave EventType = 2

	// EventLeaderChange records a new transponder for an epoch.
	EventLeaderChange EventType = 3

	// EventEndpointUpdate replaces an entry's endpoints.
	EventEndpointUpdate EventType = 4
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventLeaderChange:
		return "leader_change"
	case EventEndpointUpdate:
		return "endpoint_update"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Leave reasons.
const (
	LeaveReasonGraceful = "graceful"
	LeaveReasonEvicted  = "liveness-timeout"
	LeaveReasonRollback = "join-rollback"
)

// JoinEvent admits a service.
type JoinEvent struct {
	Entry AddressBookEntry `json:"entry"`
}

// LeaveEvent removes a service.
type LeaveEvent struct {
	Identity ServiceIdentity `json:"identity"`
	Reason   string          `json:"reason,omitempty"`
}

// LeaderChangeEvent records the transponder for an epoch.
type LeaderChangeEvent struct {
	Leader ServiceIdentity `json:"leader"`
	Epoch  uint64          `json:"epoch"`
}

// EndpointUpdateEvent replaces endpoints and the advertised transport set.
type EndpointUpdateEvent struct {
	Identity   ServiceIdentity `json:"identity"`
	Transports []TransportKind `json:"transports"`
	Endpoints  []Endpoint      `json:"endpoints"`
}

// MembershipEvent is the unit appended to the consensus log.
//
// Exactly one of the variant pointers is set, matching Type. Timestamp is
// assigned by the proposer so that folding the log is deterministic.
type MembershipEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"ts"`

	Join           *JoinEvent           `json:"join,omitempty"`
	Leave          *LeaveEvent          `json:"leave,omitempty"`
	LeaderChange   *LeaderChangeEvent   `json:"leader_change,omitempty"`
	EndpointUpdate *EndpointUpdateEvent `json:"endpoint_update,omitempty"`
}

// Subject returns the identity the event is about.
func (ev *MembershipEvent) Subject() ServiceIdentity {
	switch ev.Type {
	case EventJoin:
		if ev.Join != nil {
			return ev.Join.Entry.Identity
		}
	case EventLeave:
		if ev.Leave != nil {
			return ev.Leave.Identity
		}
	case EventLeaderChange:
		if ev.LeaderChange != nil {
			return ev.LeaderChange.Leader
		}
	case EventEndpointUpdate:
		if ev.EndpointUpdate != nil {
			return ev.EndpointUpdate.Identity
		}
	}
	return ServiceIdentity{}
}

// Validate checks that the variant payload matches the type tag.
func (ev *MembershipEvent) Validate() error {
	var ok bool
	switch ev.Type {
	case EventJoin:
		ok = ev.Join != nil
		if ok {
			if err := ev.Join.Entry.Validate(); err != nil {
				return err
			}
		}
	case EventLeave:
		ok = ev.Leave != nil
	case EventLeaderChange:
		ok = ev.LeaderChange != nil
	case EventEndpointUpdate:
		ok = ev.EndpointUpdate != nil
		if ok {
			probe := AddressBookEntry{
				Identity:   ev.EndpointUpdate.Identity,
				Transports: ev.EndpointUpdate.Transports,
				Endpoints:  ev.EndpointUpdate.Endpoints,
			}
			if err := probe.Validate(); err != nil {
				return err
			}
		}
	default:
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown event type %d", ev.Type))
	}
	if !ok {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("%s event without payload", ev.Type))
	}
	return nil
}

// Marshal encodes the event for the log.
func (ev *MembershipEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, ErrEncodeFailed.WithCause(err)
	}
	return data, nil
}

// UnmarshalEvent decodes an event from the log.
func UnmarshalEvent(data []byte) (*MembershipEvent, error) {
	var ev MembershipEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, ErrDecodeFailed.WithCause(err)
	}
	return &ev, nil
}

// CommittedEvent is a MembershipEvent together with its log position.
type CommittedEvent struct {
	Index uint64           `json:"index"`
	Term  uint64           `json:"term"`
	Event *MembershipEvent `json:"event"`
}
