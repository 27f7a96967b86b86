package tests

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norpie/constellation/internal/cli/connection"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/mesh"
	"github.com/norpie/constellation/internal/server/adminserver"
	"github.com/norpie/constellation/internal/server/config"
	"github.com/norpie/constellation/internal/telemetry/metric"
	"github.com/norpie/constellation/pkg/admission"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nodeConfig returns a meshd configuration for one test node.
func nodeConfig(t *testing.T, identity, backend, psk string) *config.ServerConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Node.Identity = identity
	cfg.Node.Mesh = "integration"
	cfg.Listen = []config.ListenerConfig{{Endpoint: "socket://127.0.0.1:0"}}
	cfg.Raft.Bind = "127.0.0.1:0"
	cfg.Raft.HeartbeatTimeout = 100 * time.Millisecond
	cfg.Raft.ElectionTimeout = 100 * time.Millisecond
	cfg.Raft.LeaderLeaseTimeout = 100 * time.Millisecond
	cfg.Raft.CommitTimeout = 5 * time.Millisecond
	cfg.Raft.ProposeTimeout = 2 * time.Second
	cfg.Raft.ProposeAttempts = 40
	cfg.Raft.LivenessTimeout = time.Second
	cfg.Storage.Backend = backend
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), identity)
	cfg.Channel.Codec = "msgpack"
	cfg.Join.Timeout = 15 * time.Second
	cfg.Admission.PSK = psk
	require.NoError(t, config.Verify(cfg))
	return cfg
}

// startNode builds a participant from cfg the way meshd does and joins it
// through joinAddr.
func startNode(t *testing.T, ctx context.Context, cfg *config.ServerConfig, joinAddr string) *mesh.Participant {
	t.Helper()
	setup, err := config.ToMeshConfig(cfg, quiet(), metric.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(setup.Close)

	name := cfg.Node.Identity
	setup.Mesh.Handler = mesh.HandlerFunc(func(_ context.Context, from domain.ServiceIdentity, payload []byte) ([]byte, error) {
		return []byte(name + " <- " + from.String() + ": " + string(payload)), nil
	})

	p, err := mesh.New(setup.Mesh)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Join(ctx, joinAddr))
	return p
}

func socketAddr(t *testing.T, p *mesh.Participant) string {
	t.Helper()
	for _, ep := range p.Endpoints() {
		if ep.Kind == domain.KindSocket {
			return ep.String()
		}
	}
	t.Fatalf("%s has no socket endpoint", p.Identity())
	return ""
}

func TestMesh_ThreeNode_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	key, err := admission.GenerateKey()
	require.NoError(t, err)
	psk := key.String()

	alpha := startNode(t, ctx, nodeConfig(t, "alpha.v1", "bolt", psk), "")
	beta := startNode(t, ctx, nodeConfig(t, "beta.v1", "badger", psk), socketAddr(t, alpha))
	gamma := startNode(t, ctx, nodeConfig(t, "gamma.v1", "bolt", psk), socketAddr(t, beta))
	nodes := []*mesh.Participant{alpha, beta, gamma}

	require.Eventually(t, func() bool {
		for _, p := range nodes {
			if p.Snapshot().Len() != 3 {
				return false
			}
		}
		return true
	}, 20*time.Second, 50*time.Millisecond, "address books did not converge")

	leader, ok := alpha.Leader()
	require.True(t, ok)
	assert.Equal(t, "alpha.v1", leader.String(), "the bootstrapping node is the first transponder")

	t.Run("admin API over the CLI client", func(t *testing.T) {
		admin := adminserver.New(adminserver.Config{Token: "integration", Logger: quiet()}, gamma)
		srv := httptest.NewServer(admin.Handler())
		defer srv.Close()

		client, err := connection.NewClient(srv.URL, "integration", 10*time.Second)
		require.NoError(t, err)

		st, err := client.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, "gamma.v1", st.Identity)
		assert.Equal(t, "alpha.v1", st.Leader)
		assert.Equal(t, 3, st.Members)

		eps, err := client.Resolve(ctx, "beta.v1")
		require.NoError(t, err)
		assert.Equal(t, beta.Endpoints(), eps)

		resp, err := client.Call(ctx, "alpha.v1", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "alpha.v1 <- gamma.v1: hello", string(resp.Payload))

		ready, _, err := client.Ready(ctx)
		require.NoError(t, err)
		assert.True(t, ready)
	})

	t.Run("transponder failover", func(t *testing.T) {
		require.NoError(t, alpha.Close())

		require.Eventually(t, func() bool {
			id, ok := beta.Leader()
			return ok && id.String() != "alpha.v1"
		}, 20*time.Second, 50*time.Millisecond, "no new transponder elected")

		require.Eventually(t, func() bool {
			_, err := gamma.Resolve(ctx, domain.MustParseServiceIdentity("alpha.v1"))
			return err != nil
		}, 30*time.Second, 100*time.Millisecond, "crashed transponder was not evicted")

		out, err := beta.Call(ctx, domain.MustParseServiceIdentity("gamma.v1"), []byte("after failover"))
		require.NoError(t, err)
		assert.Equal(t, "gamma.v1 <- beta.v1: after failover", string(out))
	})
}

func TestMesh_AdmissionRejectsWrongKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	k1, err := admission.GenerateKey()
	require.NoError(t, err)
	k2, err := admission.GenerateKey()
	require.NoError(t, err)

	alpha := startNode(t, ctx, nodeConfig(t, "alpha.v1", "memory", k1.String()), "")

	cfg := nodeConfig(t, "intruder.v1", "memory", k2.String())
	setup, err := config.ToMeshConfig(cfg, quiet(), nil)
	require.NoError(t, err)
	defer setup.Close()
	p, err := mesh.New(setup.Mesh)
	require.NoError(t, err)
	defer p.Close()

	joinCtx, joinCancel := context.WithTimeout(ctx, 10*time.Second)
	defer joinCancel()
	err = p.Join(joinCtx, socketAddr(t, alpha))
	require.Error(t, err)
	assert.Equal(t, 1, alpha.Snapshot().Len())
}
