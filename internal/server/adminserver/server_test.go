package adminserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adminv1 "github.com/norpie/constellation/api/admin/v1"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/transport"
	"github.com/norpie/constellation/internal/mesh"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newParticipant(t *testing.T, name string) *mesh.Participant {
	t.Helper()
	cfg := mesh.DefaultConfig(domain.MustParseServiceIdentity(name))
	cfg.Listeners = []mesh.Listener{{Endpoint: domain.Endpoint{Kind: domain.KindSocket, Address: "127.0.0.1:0"}}}
	cfg.RaftBind = "127.0.0.1:0"
	cfg.Registry = transport.NewRegistry(transport.NewTCP(transport.TCPOptions{}))
	cfg.Handler = mesh.HandlerFunc(func(_ context.Context, from domain.ServiceIdentity, payload []byte) ([]byte, error) {
		return []byte(name + ":" + string(payload)), nil
	})
	cfg.Logger = quietLogger()
	cfg.JoinTimeout = 10 * time.Second
	cfg.Consensus.HeartbeatTimeout = 100 * time.Millisecond
	cfg.Consensus.ElectionTimeout = 100 * time.Millisecond
	cfg.Consensus.LeaderLeaseTimeout = 100 * time.Millisecond
	cfg.Consensus.CommitTimeout = 5 * time.Millisecond
	cfg.Consensus.ProposeAttempts = 30
	cfg.Consensus.ProposeBackoff = 10 * time.Millisecond
	cfg.Consensus.LivenessTimeout = 0

	p, err := mesh.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

type fixture struct {
	alpha, beta *mesh.Participant
	srv         *httptest.Server
	client      *adminv1.AdminServiceClient
	metrics     *metric.Registry
	left        atomic.Bool
}

// newFixture starts a two-node mesh and an admin server for beta.
func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mesh-backed admin test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	f := &fixture{metrics: metric.NewRegistry()}
	f.alpha = newParticipant(t, "alpha.v1")
	f.beta = newParticipant(t, "beta.v1")
	require.NoError(t, f.alpha.Join(ctx, ""))
	require.NoError(t, f.beta.Join(ctx, f.alpha.Endpoints()[0].String()))
	require.Eventually(t, func() bool {
		return f.alpha.Snapshot().Len() == 2 && f.beta.Snapshot().Len() == 2
	}, 15*time.Second, 20*time.Millisecond)

	s := New(Config{
		Token:   token,
		Logger:  quietLogger(),
		Metrics: f.metrics,
		OnLeave: func() { f.left.Store(true) },
	}, f.beta)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)

	var opts []connect.ClientOption
	if token != "" {
		opts = append(opts, connect.WithInterceptors(BearerToken(token)))
	}
	f.client = adminv1.NewAdminServiceClient(f.srv.Client(), f.srv.URL, opts...)
	return f
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAdmin_StatusAndMembers(t *testing.T) {
	f := newFixture(t, "")
	ctx := testCtx(t)

	st, err := f.client.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, "beta.v1", st.Msg.Identity)
	assert.Equal(t, "alpha.v1", st.Msg.Leader)
	assert.False(t, st.Msg.IsLeader)
	assert.Equal(t, 2, st.Msg.Members)
	assert.NotEmpty(t, st.Msg.RaftAddr)
	assert.NotEmpty(t, st.Msg.Version)

	ms, err := f.client.Members(ctx, connect.NewRequest(&adminv1.MembersRequest{}))
	require.NoError(t, err)
	require.Len(t, ms.Msg.Members, 2)
	leaders := 0
	for _, m := range ms.Msg.Members {
		assert.True(t, m.Consensus, m.Entry.Identity.String())
		if m.Leader {
			leaders++
			assert.Equal(t, "alpha.v1", m.Entry.Identity.String())
		}
	}
	assert.Equal(t, 1, leaders)
}

func TestAdmin_ResolveNegotiateCall(t *testing.T) {
	f := newFixture(t, "")
	ctx := testCtx(t)

	res, err := f.client.Resolve(ctx, connect.NewRequest(&adminv1.ResolveRequest{Identity: "alpha.v1"}))
	require.NoError(t, err)
	assert.Equal(t, f.alpha.Endpoints(), res.Msg.Endpoints)

	neg, err := f.client.Negotiate(ctx, connect.NewRequest(&adminv1.NegotiateRequest{Identity: "alpha.v1"}))
	require.NoError(t, err)
	assert.Equal(t, "direct", neg.Msg.Outcome)
	assert.Equal(t, "socket", neg.Msg.Kind)
	require.NotNil(t, neg.Msg.Endpoint)
	assert.Nil(t, neg.Msg.IngressEndpoint)

	out, err := f.client.Call(ctx, connect.NewRequest(&adminv1.CallRequest{Identity: "alpha.v1", Payload: []byte("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "alpha.v1:hi", string(out.Msg.Payload))
	assert.Equal(t, "direct", out.Msg.Path)

	ping, err := f.client.Ping(ctx, connect.NewRequest(&adminv1.PingRequest{Address: f.alpha.Endpoints()[0].String()}))
	require.NoError(t, err)
	assert.Equal(t, "alpha.v1", ping.Msg.Identity)
}

func TestAdmin_ErrorCodes(t *testing.T) {
	f := newFixture(t, "")
	ctx := testCtx(t)

	_, err := f.client.Resolve(ctx, connect.NewRequest(&adminv1.ResolveRequest{Identity: "ghost.v1"}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	assert.True(t, errors.Is(FromConnectError(err), domain.ErrNotFound))

	_, err = f.client.Negotiate(ctx, connect.NewRequest(&adminv1.NegotiateRequest{Identity: "not an identity"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = f.client.Events(ctx, connect.NewRequest(&adminv1.EventsRequest{Limit: -1}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = f.client.UpdateEndpoints(ctx, connect.NewRequest(&adminv1.UpdateEndpointsRequest{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestAdmin_Events(t *testing.T) {
	f := newFixture(t, "")
	ctx := testCtx(t)

	require.Eventually(t, func() bool {
		resp, err := f.client.Events(ctx, connect.NewRequest(&adminv1.EventsRequest{Kind: string(mesh.EventMemberJoined)}))
		return err == nil && len(resp.Msg.Events) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := f.client.Events(ctx, connect.NewRequest(&adminv1.EventsRequest{Limit: 1}))
	require.NoError(t, err)
	assert.Len(t, resp.Msg.Events, 1)
}

func TestAdmin_Auth(t *testing.T) {
	f := newFixture(t, "s3cret")
	ctx := testCtx(t)

	_, err := f.client.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	require.NoError(t, err)

	anon := adminv1.NewAdminServiceClient(f.srv.Client(), f.srv.URL)
	_, err = anon.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	wrong := adminv1.NewAdminServiceClient(f.srv.Client(), f.srv.URL, connect.WithInterceptors(BearerToken("nope")))
	_, err = wrong.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestAdmin_ProbesAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	ctx := testCtx(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := f.srv.Client().Get(f.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	_, err := f.client.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	require.NoError(t, err)

	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "Status"), "request metric labelled by procedure")
}

func TestAdmin_Leave(t *testing.T) {
	f := newFixture(t, "")
	ctx := testCtx(t)

	_, err := f.client.Leave(ctx, connect.NewRequest(&adminv1.LeaveRequest{}))
	require.NoError(t, err)
	assert.True(t, f.left.Load())
	require.Eventually(t, func() bool {
		return !f.alpha.Snapshot().Has(f.beta.Identity())
	}, 10*time.Second, 20*time.Millisecond)
}

func TestAdmin_RequestID(t *testing.T) {
	f := newFixture(t, "secret")
	ctx := testCtx(t)

	st, err := f.client.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	require.NoError(t, err)
	assert.Len(t, st.Header().Get(RequestIDHeader), 26, "server-assigned ULID")

	req := connect.NewRequest(&adminv1.StatusRequest{})
	req.Header().Set(RequestIDHeader, "client-chosen")
	st, err = f.client.Status(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "client-chosen", st.Header().Get(RequestIDHeader))

	anon := adminv1.NewAdminServiceClient(f.srv.Client(), f.srv.URL)
	_, err = anon.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	var cerr *connect.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, connect.CodeUnauthenticated, cerr.Code())
	assert.NotEmpty(t, cerr.Meta().Get(RequestIDHeader))
}
