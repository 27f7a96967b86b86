package adminserver

import (
	"context"
	"time"

	"connectrpc.com/connect"

	adminv1 "github.com/norpie/constellation/api/admin/v1"
	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/consensus"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/infra/buildinfo"
	"github.com/norpie/constellation/internal/mesh"
	"github.com/norpie/constellation/internal/negotiator"
)

// Mesh is the participant surface the admin server drives.
type Mesh interface {
	Identity() domain.ServiceIdentity
	Endpoints() []domain.Endpoint
	Snapshot() *addressbook.Snapshot
	IsLeader() bool
	Leader() (domain.ServiceIdentity, bool)
	Engine() *consensus.Engine
	GossipAddr() string
	Resolve(ctx context.Context, id domain.ServiceIdentity) ([]domain.Endpoint, error)
	Negotiate(id domain.ServiceIdentity) (negotiator.Result, error)
	Ping(ctx context.Context, ep domain.Endpoint) (domain.ServiceIdentity, error)
	Call(ctx context.Context, id domain.ServiceIdentity, payload []byte) ([]byte, error)
	UpdateEndpoints(ctx context.Context, endpoints []domain.Endpoint) error
	Leave(ctx context.Context) error
	Events() []mesh.Event
}

// handler implements adminv1.AdminServiceHandler.
type handler struct {
	mesh    Mesh
	onLeave func()
}

var _ adminv1.AdminServiceHandler = (*handler)(nil)

func (h *handler) Status(ctx context.Context, req *connect.Request[adminv1.StatusRequest]) (*connect.Response[adminv1.StatusResponse], error) {
	snap := h.mesh.Snapshot()
	engine := h.mesh.Engine()
	resp := &adminv1.StatusResponse{
		Identity:   h.mesh.Identity().String(),
		State:      engine.State(),
		IsLeader:   h.mesh.IsLeader(),
		Epoch:      snap.Epoch(),
		Index:      snap.Index(),
		Members:    snap.Len(),
		Endpoints:  h.mesh.Endpoints(),
		RaftAddr:   engine.LocalAddr(),
		GossipAddr: h.mesh.GossipAddr(),
		Version:    buildinfo.Get().Version,
		Stats:      engine.Stats(),
	}
	if leader, ok := h.mesh.Leader(); ok {
		resp.Leader = leader.String()
	}
	return connect.NewResponse(resp), nil
}

func (h *handler) Members(ctx context.Context, req *connect.Request[adminv1.MembersRequest]) (*connect.Response[adminv1.MembersResponse], error) {
	snap := h.mesh.Snapshot()
	servers, err := h.mesh.Engine().Members()
	if err != nil {
		return nil, toConnectError(err)
	}
	byID := make(map[string]consensus.Member, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}

	entries := snap.Entries()
	resp := &adminv1.MembersResponse{
		Index:   snap.Index(),
		Epoch:   snap.Epoch(),
		Members: make([]adminv1.Member, 0, len(entries)),
	}
	for _, e := range entries {
		m := adminv1.Member{Entry: e}
		if s, ok := byID[e.Identity.String()]; ok {
			m.Consensus, m.Voter, m.Leader = true, s.Voter, s.Leader
		}
		resp.Members = append(resp.Members, m)
	}
	return connect.NewResponse(resp), nil
}

func (h *handler) Resolve(ctx context.Context, req *connect.Request[adminv1.ResolveRequest]) (*connect.Response[adminv1.ResolveResponse], error) {
	id, err := parseIdentity(req.Msg.Identity)
	if err != nil {
		return nil, err
	}
	eps, err := h.mesh.Resolve(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&adminv1.ResolveResponse{Endpoints: eps}), nil
}

func (h *handler) Negotiate(ctx context.Context, req *connect.Request[adminv1.NegotiateRequest]) (*connect.Response[adminv1.NegotiateResponse], error) {
	id, err := parseIdentity(req.Msg.Identity)
	if err != nil {
		return nil, err
	}
	res, err := h.mesh.Negotiate(id)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &adminv1.NegotiateResponse{
		Outcome: res.Outcome.String(),
		Kind:    string(res.Kind),
	}
	if res.Outcome != negotiator.Unreachable {
		ep := res.Endpoint
		resp.Endpoint = &ep
	}
	if res.Outcome == negotiator.Translated {
		ingress := res.IngressEndpoint
		resp.Intermediary = res.Intermediary.String()
		resp.IngressEndpoint = &ingress
	}
	return connect.NewResponse(resp), nil
}

func (h *handler) Ping(ctx context.Context, req *connect.Request[adminv1.PingRequest]) (*connect.Response[adminv1.PingResponse], error) {
	ep, err := mesh.ParseAddress(req.Msg.Address)
	if err != nil {
		return nil, toConnectError(err)
	}
	start := time.Now()
	id, err := h.mesh.Ping(ctx, ep)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&adminv1.PingResponse{Identity: id.String(), RTT: time.Since(start)}), nil
}

func (h *handler) Call(ctx context.Context, req *connect.Request[adminv1.CallRequest]) (*connect.Response[adminv1.CallResponse], error) {
	id, err := parseIdentity(req.Msg.Identity)
	if err != nil {
		return nil, err
	}
	path := "unreachable"
	if res, nerr := h.mesh.Negotiate(id); nerr == nil {
		path = res.Outcome.String()
	}
	out, err := h.mesh.Call(ctx, id, req.Msg.Payload)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&adminv1.CallResponse{Payload: out, Path: path}), nil
}

func (h *handler) UpdateEndpoints(ctx context.Context, req *connect.Request[adminv1.UpdateEndpointsRequest]) (*connect.Response[adminv1.UpdateEndpointsResponse], error) {
	if len(req.Msg.Endpoints) == 0 {
		return nil, toConnectError(domain.ErrInvalidArgument.WithDetails("at least one endpoint is required"))
	}
	if err := h.mesh.UpdateEndpoints(ctx, req.Msg.Endpoints); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&adminv1.UpdateEndpointsResponse{Endpoints: h.mesh.Endpoints()}), nil
}

func (h *handler) Leave(ctx context.Context, req *connect.Request[adminv1.LeaveRequest]) (*connect.Response[adminv1.LeaveResponse], error) {
	if err := h.mesh.Leave(ctx); err != nil {
		return nil, toConnectError(err)
	}
	if h.onLeave != nil {
		h.onLeave()
	}
	return connect.NewResponse(&adminv1.LeaveResponse{}), nil
}

func (h *handler) Events(ctx context.Context, req *connect.Request[adminv1.EventsRequest]) (*connect.Response[adminv1.EventsResponse], error) {
	if req.Msg.Limit < 0 {
		return nil, toConnectError(domain.ErrInvalidArgument.WithDetails("limit must not be negative"))
	}
	var out []adminv1.Event
	for _, e := range h.mesh.Events() {
		if req.Msg.Kind != "" && string(e.Kind) != req.Msg.Kind {
			continue
		}
		out = append(out, adminv1.Event{Time: e.Time, Kind: string(e.Kind), Attrs: e.Attrs})
	}
	if req.Msg.Limit > 0 && len(out) > req.Msg.Limit {
		out = out[len(out)-req.Msg.Limit:]
	}
	return connect.NewResponse(&adminv1.EventsResponse{Events: out}), nil
}

func parseIdentity(s string) (domain.ServiceIdentity, error) {
	id, err := domain.ParseServiceIdentity(s)
	if err != nil {
		return domain.ServiceIdentity{}, toConnectError(domain.ErrInvalidArgument.WithDetails(s).WithCause(err))
	}
	return id, nil
}
