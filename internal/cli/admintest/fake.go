// Package admintest provides an in-memory meshd admin server for CLI
// tests.
package admintest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"connectrpc.com/connect"

	adminv1 "github.com/norpie/constellation/api/admin/v1"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/server/adminserver"
)

// Fake answers admin RPCs from canned data. Set fields before the first
// request; Err, when set, fails every RPC.
type Fake struct {
	Info   adminv1.StatusResponse
	Roster []adminv1.Member
	Book   map[string][]domain.Endpoint
	Plan   map[string]adminv1.NegotiateResponse
	Log    []adminv1.Event
	Token  string
	Err    error
	Ready  bool

	mu        sync.Mutex
	left      bool
	endpoints []domain.Endpoint
	calls     []adminv1.CallRequest
}

// Server starts an httptest server for f. It is closed with the test.
func (f *Fake) Server(t interface{ Cleanup(func()) }) *httptest.Server {
	path, h := adminv1.NewAdminServiceHandler(f, connect.WithInterceptors(f.auth()))
	mux := http.NewServeMux()
	mux.Handle(path, h)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !f.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("no transponder\n"))
			return
		}
		_, _ = w.Write([]byte("ready\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// Left reports whether Leave was called.
func (f *Fake) Left() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.left
}

// Endpoints returns the last UpdateEndpoints request.
func (f *Fake) Endpoints() []domain.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints
}

// Calls returns the Call requests received.
func (f *Fake) Calls() []adminv1.CallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adminv1.CallRequest(nil), f.calls...)
}

func (f *Fake) auth() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if f.Token != "" && req.Header().Get("Authorization") != "Bearer "+f.Token {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("bad token"))
			}
			if f.Err != nil {
				return nil, meshError(f.Err)
			}
			return next(ctx, req)
		}
	}
}

// meshError encodes err the way meshd does.
func meshError(err error) error {
	ce := connect.NewError(connect.CodeUnavailable, err)
	if code := domain.GetErrorCode(err); code != "" {
		ce.Meta().Set(adminserver.ErrorCodeHeader, code)
	}
	return ce
}

func (f *Fake) Status(context.Context, *connect.Request[adminv1.StatusRequest]) (*connect.Response[adminv1.StatusResponse], error) {
	st := f.Info
	return connect.NewResponse(&st), nil
}

func (f *Fake) Members(context.Context, *connect.Request[adminv1.MembersRequest]) (*connect.Response[adminv1.MembersResponse], error) {
	return connect.NewResponse(&adminv1.MembersResponse{
		Index:   f.Info.Index,
		Epoch:   f.Info.Epoch,
		Members: f.Roster,
	}), nil
}

func (f *Fake) Resolve(_ context.Context, req *connect.Request[adminv1.ResolveRequest]) (*connect.Response[adminv1.ResolveResponse], error) {
	eps, ok := f.Book[req.Msg.Identity]
	if !ok {
		return nil, meshError(domain.ErrNotFound)
	}
	return connect.NewResponse(&adminv1.ResolveResponse{Endpoints: eps}), nil
}

func (f *Fake) Negotiate(_ context.Context, req *connect.Request[adminv1.NegotiateRequest]) (*connect.Response[adminv1.NegotiateResponse], error) {
	plan, ok := f.Plan[req.Msg.Identity]
	if !ok {
		return nil, meshError(domain.ErrNotFound)
	}
	return connect.NewResponse(&plan), nil
}

func (f *Fake) Ping(_ context.Context, req *connect.Request[adminv1.PingRequest]) (*connect.Response[adminv1.PingResponse], error) {
	for id, eps := range f.Book {
		for _, ep := range eps {
			if ep.String() == req.Msg.Address {
				return connect.NewResponse(&adminv1.PingResponse{Identity: id, RTT: 1500}), nil
			}
		}
	}
	return nil, meshError(domain.ErrConnectFailed)
}

// Call echoes "<identity>:<payload>".
func (f *Fake) Call(_ context.Context, req *connect.Request[adminv1.CallRequest]) (*connect.Response[adminv1.CallResponse], error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req.Msg)
	f.mu.Unlock()
	if _, ok := f.Book[req.Msg.Identity]; !ok {
		return nil, meshError(domain.ErrNotFound)
	}
	return connect.NewResponse(&adminv1.CallResponse{
		Payload: []byte(req.Msg.Identity + ":" + string(req.Msg.Payload)),
		Path:    "direct",
	}), nil
}

func (f *Fake) UpdateEndpoints(_ context.Context, req *connect.Request[adminv1.UpdateEndpointsRequest]) (*connect.Response[adminv1.UpdateEndpointsResponse], error) {
	if len(req.Msg.Endpoints) == 0 {
		return nil, meshError(domain.ErrInvalidArgument)
	}
	f.mu.Lock()
	f.endpoints = req.Msg.Endpoints
	f.mu.Unlock()
	return connect.NewResponse(&adminv1.UpdateEndpointsResponse{Endpoints: req.Msg.Endpoints}), nil
}

func (f *Fake) Leave(context.Context, *connect.Request[adminv1.LeaveRequest]) (*connect.Response[adminv1.LeaveResponse], error) {
	f.mu.Lock()
	f.left = true
	f.mu.Unlock()
	return connect.NewResponse(&adminv1.LeaveResponse{}), nil
}

func (f *Fake) Events(_ context.Context, req *connect.Request[adminv1.EventsRequest]) (*connect.Response[adminv1.EventsResponse], error) {
	var out []adminv1.Event
	for _, ev := range f.Log {
		if req.Msg.Kind == "" || strings.EqualFold(ev.Kind, req.Msg.Kind) {
			out = append(out, ev)
		}
	}
	if req.Msg.Limit > 0 && len(out) > req.Msg.Limit {
		out = out[len(out)-req.Msg.Limit:]
	}
	return connect.NewResponse(&adminv1.EventsResponse{Events: out}), nil
}
