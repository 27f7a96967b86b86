package domain

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// TransportKind tags the wire transport an endpoint speaks.
//
// The well-known kinds are listed below; any other non-empty tag is a custom
// kind and is matched by exact string comparison.
type TransportKind string

const (
	// KindSocket is a TCP stream socket.
	KindSocket TransportKind = "socket"
	// KindLocal is a local (unix domain) socket.
	KindLocal TransportKind = "local"
	// KindQUIC is a QUIC stream.
	KindQUIC TransportKind = "quic"
	// KindQueue is an in-process message queue.
	KindQueue TransportKind = "queue"
)

// Endpoint is one concrete way to reach a service instance.
type Endpoint struct {
	// Address is an IPv4/IPv6 host:port, a socket path, or an opaque locator.
	Address string `json:"address"`

	// Kind is the transport this endpoint speaks.
	Kind TransportKind `json:"kind"`

	// VPNOnly restricts the endpoint to callers on the private network.
	VPNOnly bool `json:"vpn_only,omitempty"`

	// RequiresTranslation marks endpoints that can only be reached through a
	// translation node.
	RequiresTranslation bool `json:"requires_translation,omitempty"`
}

// String returns "kind://address".
func (e Endpoint) String() string {
	return string(e.Kind) + "://" + e.Address
}

// AddressBookEntry describes one service in the mesh.
//
// Entries are values owned by the replicated log. Code outside the address
// book only ever sees copies.
type AddressBookEntry struct {
	Identity ServiceIdentity `json:"identity"`

	// Transports is the advertised capability set.
	Transports []TransportKind `json:"transports"`

	// Endpoints is ordered by the service's own preference.
	Endpoints []Endpoint `json:"endpoints"`

	// Translator marks services able to bridge transport kinds.
	Translator bool `json:"translator,omitempty"`

	// RaftAddr is the consensus address of the participant hosting the service.
	RaftAddr string `json:"raft_addr,omitempty"`

	// Hints carries free-form routing hints.
	Hints map[string]string `json:"hints,omitempty"`

	// LastSeen is the liveness timestamp taken from the last Join or
	// EndpointUpdate event (Unix milliseconds).
	LastSeen int64 `json:"last_seen"`

	// Epoch is the membership epoch at which the entry was last written.
	Epoch uint64 `json:"epoch"`
}

// Validate enforces that every endpoint's kind is advertised.
func (e *AddressBookEntry) Validate() error {
	if err := e.Identity.Validate(); err != nil {
		return err
	}
	if len(e.Endpoints) == 0 {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("%s: no endpoints", e.Identity))
	}
	for _, ep := range e.Endpoints {
		if ep.Kind == "" || ep.Address == "" {
			return ErrInvalidArgument.WithDetails(fmt.Sprintf("%s: endpoint missing kind or address", e.Identity))
		}
		if !e.Supports(ep.Kind) {
			return ErrInvalidArgument.WithDetails(fmt.Sprintf("%s: endpoint kind %q not advertised", e.Identity, ep.Kind))
		}
	}
	return nil
}

// Supports reports whether kind is in the advertised set.
func (e *AddressBookEntry) Supports(kind TransportKind) bool {
	return slices.Contains(e.Transports, kind)
}

// EndpointsFor returns the endpoints speaking kind, in entry order.
func (e *AddressBookEntry) EndpointsFor(kind TransportKind) []Endpoint {
	var out []Endpoint
	for _, ep := range e.Endpoints {
		if ep.Kind == kind {
			out = append(out, ep)
		}
	}
	return out
}

// LastSeenTime returns LastSeen as a time.Time.
func (e *AddressBookEntry) LastSeenTime() time.Time {
	return time.UnixMilli(e.LastSeen)
}

// Clone returns a deep copy.
func (e AddressBookEntry) Clone() AddressBookEntry {
	out := e
	out.Transports = slices.Clone(e.Transports)
	out.Endpoints = slices.Clone(e.Endpoints)
	if e.Hints != nil {
		out.Hints = make(map[string]string, len(e.Hints))
		for k, v := range e.Hints {
			out.Hints[k] = v
		}
	}
	return out
}

// Normalize sorts and de-duplicates the advertised transport set so that
// entries built on different nodes encode identically.
func (e *AddressBookEntry) Normalize() {
	sort.Slice(e.Transports, func(i, j int) bool { return e.Transports[i] < e.Transports[j] })
	e.Transports = slices.Compact(e.Transports)
}
