package adminv1

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/norpie/constellation/internal/fabric/codec"
)

// Codec is the wire codec for admin messages. It replaces connect's
// protobuf-backed "json" codec.
var Codec connect.Codec = codec.JSON{}

// AdminServiceHandler is implemented by the meshd admin server.
type AdminServiceHandler interface {
	Status(context.Context, *connect.Request[StatusRequest]) (*connect.Response[StatusResponse], error)
	Members(context.Context, *connect.Request[MembersRequest]) (*connect.Response[MembersResponse], error)
	Resolve(context.Context, *connect.Request[ResolveRequest]) (*connect.Response[ResolveResponse], error)
	Negotiate(context.Context, *connect.Request[NegotiateRequest]) (*connect.Response[NegotiateResponse], error)
	Ping(context.Context, *connect.Request[PingRequest]) (*connect.Response[PingResponse], error)
	Call(context.Context, *connect.Request[CallRequest]) (*connect.Response[CallResponse], error)
	UpdateEndpoints(context.Context, *connect.Request[UpdateEndpointsRequest]) (*connect.Response[UpdateEndpointsResponse], error)
	Leave(context.Context, *connect.Request[LeaveRequest]) (*connect.Response[LeaveResponse], error)
	Events(context.Context, *connect.Request[EventsRequest]) (*connect.Response[EventsResponse], error)
}

// NewAdminServiceHandler returns the mount path and handler for svc.
func NewAdminServiceHandler(svc AdminServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec)}, opts...)
	mux := http.NewServeMux()
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, svc.Status, opts...))
	mux.Handle(MembersProcedure, connect.NewUnaryHandler(MembersProcedure, svc.Members, opts...))
	mux.Handle(ResolveProcedure, connect.NewUnaryHandler(ResolveProcedure, svc.Resolve, opts...))
	mux.Handle(NegotiateProcedure, connect.NewUnaryHandler(NegotiateProcedure, svc.Negotiate, opts...))
	mux.Handle(PingProcedure, connect.NewUnaryHandler(PingProcedure, svc.Ping, opts...))
	mux.Handle(CallProcedure, connect.NewUnaryHandler(CallProcedure, svc.Call, opts...))
	mux.Handle(UpdateEndpointsProcedure, connect.NewUnaryHandler(UpdateEndpointsProcedure, svc.UpdateEndpoints, opts...))
	mux.Handle(LeaveProcedure, connect.NewUnaryHandler(LeaveProcedure, svc.Leave, opts...))
	mux.Handle(EventsProcedure, connect.NewUnaryHandler(EventsProcedure, svc.Events, opts...))
	return "/" + ServiceName + "/", mux
}

// AdminServiceClient calls a meshd admin server.
type AdminServiceClient struct {
	status          *connect.Client[StatusRequest, StatusResponse]
	members         *connect.Client[MembersRequest, MembersResponse]
	resolve         *connect.Client[ResolveRequest, ResolveResponse]
	negotiate       *connect.Client[NegotiateRequest, NegotiateResponse]
	ping            *connect.Client[PingRequest, PingResponse]
	call            *connect.Client[CallRequest, CallResponse]
	updateEndpoints *connect.Client[UpdateEndpointsRequest, UpdateEndpointsResponse]
	leave           *connect.Client[LeaveRequest, LeaveResponse]
	events          *connect.Client[EventsRequest, EventsResponse]
}

// NewAdminServiceClient creates a client for the server at baseURL, for
// example http://127.0.0.1:7080.
func NewAdminServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AdminServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec)}, opts...)
	return &AdminServiceClient{
		status:          connect.NewClient[StatusRequest, StatusResponse](httpClient, baseURL+StatusProcedure, opts...),
		members:         connect.NewClient[MembersRequest, MembersResponse](httpClient, baseURL+MembersProcedure, opts...),
		resolve:         connect.NewClient[ResolveRequest, ResolveResponse](httpClient, baseURL+ResolveProcedure, opts...),
		negotiate:       connect.NewClient[NegotiateRequest, NegotiateResponse](httpClient, baseURL+NegotiateProcedure, opts...),
		ping:            connect.NewClient[PingRequest, PingResponse](httpClient, baseURL+PingProcedure, opts...),
		call:            connect.NewClient[CallRequest, CallResponse](httpClient, baseURL+CallProcedure, opts...),
		updateEndpoints: connect.NewClient[UpdateEndpointsRequest, UpdateEndpointsResponse](httpClient, baseURL+UpdateEndpointsProcedure, opts...),
		leave:           connect.NewClient[LeaveRequest, LeaveResponse](httpClient, baseURL+LeaveProcedure, opts...),
		events:          connect.NewClient[EventsRequest, EventsResponse](httpClient, baseURL+EventsProcedure, opts...),
	}
}

func (c *AdminServiceClient) Status(ctx context.Context, req *connect.Request[StatusRequest]) (*connect.Response[StatusResponse], error) {
	return c.status.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Members(ctx context.Context, req *connect.Request[MembersRequest]) (*connect.Response[MembersResponse], error) {
	return c.members.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Resolve(ctx context.Context, req *connect.Request[ResolveRequest]) (*connect.Response[ResolveResponse], error) {
	return c.resolve.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Negotiate(ctx context.Context, req *connect.Request[NegotiateRequest]) (*connect.Response[NegotiateResponse], error) {
	return c.negotiate.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Ping(ctx context.Context, req *connect.Request[PingRequest]) (*connect.Response[PingResponse], error) {
	return c.ping.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Call(ctx context.Context, req *connect.Request[CallRequest]) (*connect.Response[CallResponse], error) {
	return c.call.CallUnary(ctx, req)
}

func (c *AdminServiceClient) UpdateEndpoints(ctx context.Context, req *connect.Request[UpdateEndpointsRequest]) (*connect.Response[UpdateEndpointsResponse], error) {
	return c.updateEndpoints.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Leave(ctx context.Context, req *connect.Request[LeaveRequest]) (*connect.Response[LeaveResponse], error) {
	return c.leave.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Events(ctx context.Context, req *connect.Request[EventsRequest]) (*connect.Response[EventsResponse], error) {
	return c.events.CallUnary(ctx, req)
}
