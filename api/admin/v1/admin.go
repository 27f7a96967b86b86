// Package adminv1 defines the meshd admin RPC surface: message types,
// procedure paths, and a connect handler and client pair.
//
// Messages are plain Go structs carried with the JSON codec, so the API can
// be exercised with curl:
//
//	curl -H 'Content-Type: application/json' -d '{}' \
//	    http://127.0.0.1:7080/constellation.admin.v1.AdminService/Status
package adminv1

import (
	"time"

	"github.com/norpie/constellation/internal/core/domain"
)

// ServiceName is the fully-qualified admin service name.
const ServiceName = "constellation.admin.v1.AdminService"

// Procedure paths.
const (
	StatusProcedure          = "/" + ServiceName + "/Status"
	MembersProcedure         = "/" + ServiceName + "/Members"
	ResolveProcedure         = "/" + ServiceName + "/Resolve"
	NegotiateProcedure       = "/" + ServiceName + "/Negotiate"
	PingProcedure            = "/" + ServiceName + "/Ping"
	CallProcedure            = "/" + ServiceName + "/Call"
	UpdateEndpointsProcedure = "/" + ServiceName + "/UpdateEndpoints"
	LeaveProcedure           = "/" + ServiceName + "/Leave"
	EventsProcedure          = "/" + ServiceName + "/Events"
)

type StatusRequest struct{}

type StatusResponse struct {
	Identity   string            `json:"identity" yaml:"identity"`
	State      string            `json:"state" yaml:"state"`
	IsLeader   bool              `json:"is_leader" yaml:"is_leader"`
	Leader     string            `json:"leader,omitempty" yaml:"leader,omitempty"`
	Epoch      uint64            `json:"epoch" yaml:"epoch"`
	Index      uint64            `json:"index" yaml:"index"`
	Members    int               `json:"members" yaml:"members"`
	Endpoints  []domain.Endpoint `json:"endpoints" yaml:"endpoints"`
	RaftAddr   string            `json:"raft_addr" yaml:"raft_addr"`
	GossipAddr string            `json:"gossip_addr,omitempty" yaml:"gossip_addr,omitempty"`
	Version    string            `json:"version" yaml:"version"`
	Stats      map[string]string `json:"stats,omitempty" yaml:"stats,omitempty"`
}

type MembersRequest struct{}

// Member joins an address book entry with its consensus role. Voter and
// Consensus are false for entries whose raft server is already gone.
type Member struct {
	Entry     domain.AddressBookEntry `json:"entry" yaml:"entry"`
	Consensus bool                    `json:"consensus" yaml:"consensus"`
	Voter     bool                    `json:"voter" yaml:"voter"`
	Leader    bool                    `json:"leader" yaml:"leader"`
}

type MembersResponse struct {
	Index   uint64   `json:"index" yaml:"index"`
	Epoch   uint64   `json:"epoch" yaml:"epoch"`
	Members []Member `json:"members" yaml:"members"`
}

type ResolveRequest struct {
	Identity string `json:"identity"`
}

type ResolveResponse struct {
	Endpoints []domain.Endpoint `json:"endpoints" yaml:"endpoints"`
}

type NegotiateRequest struct {
	Identity string `json:"identity"`
}

type NegotiateResponse struct {
	Outcome         string           `json:"outcome" yaml:"outcome"`
	Kind            string           `json:"kind,omitempty" yaml:"kind,omitempty"`
	Endpoint        *domain.Endpoint `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Intermediary    string           `json:"intermediary,omitempty" yaml:"intermediary,omitempty"`
	IngressEndpoint *domain.Endpoint `json:"ingress_endpoint,omitempty" yaml:"ingress_endpoint,omitempty"`
}

// PingRequest targets an endpoint in "kind://address" form.
type PingRequest struct {
	Address string `json:"address"`
}

type PingResponse struct {
	Identity string        `json:"identity" yaml:"identity"`
	RTT      time.Duration `json:"rtt_ns" yaml:"rtt"`
}

type CallRequest struct {
	Identity string `json:"identity"`
	Payload  []byte `json:"payload"`
}

type CallResponse struct {
	Payload []byte `json:"payload" yaml:"payload"`
	Path    string `json:"path" yaml:"path"`
}

type UpdateEndpointsRequest struct {
	Endpoints []domain.Endpoint `json:"endpoints"`
}

type UpdateEndpointsResponse struct {
	Endpoints []domain.Endpoint `json:"endpoints" yaml:"endpoints"`
}

type LeaveRequest struct{}

type LeaveResponse struct{}

// EventsRequest filters the in-memory event ring. Zero Limit returns every
// retained event; an empty Kind matches all kinds.
type EventsRequest struct {
	Limit int    `json:"limit,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

type Event struct {
	Time  time.Time         `json:"time" yaml:"time"`
	Kind  string            `json:"kind" yaml:"kind"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

type EventsResponse struct {
	Events []Event `json:"events" yaml:"events"`
}
