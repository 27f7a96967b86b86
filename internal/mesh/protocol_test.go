package mesh

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/codec"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.Endpoint
		wantErr bool
	}{
		{in: "10.0.0.1:7000", want: domain.Endpoint{Kind: domain.KindSocket, Address: "10.0.0.1:7000"}},
		{in: "socket://[::1]:7000", want: domain.Endpoint{Kind: domain.KindSocket, Address: "[::1]:7000"}},
		{in: "local:///run/mesh.sock", want: domain.Endpoint{Kind: domain.KindLocal, Address: "/run/mesh.sock"}},
		{in: " queue://billing ", want: domain.Endpoint{Kind: domain.KindQueue, Address: "billing"}},
		{in: "", wantErr: true},
		{in: "://nowhere", wantErr: true},
		{in: "quic://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReply_ErrorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *domain.DomainError
	}{
		{"domain error", domain.ErrAdmissionDenied.WithDetails("beta.v1"), domain.ErrAdmissionDenied},
		{"wrapped domain error", fmt.Errorf("propose: %w", domain.ErrNoQuorum), domain.ErrNoQuorum},
		{"plain error", errors.New("disk on fire"), domain.ErrInternal},
		{"with cause", domain.ErrConnectFailed.WithCause(errors.New("refused")), domain.ErrConnectFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := errorReply("01J", tt.err, nil)
			assert.False(t, r.OK)
			assert.Equal(t, "01J", r.ID)

			// The reply survives both envelope codecs.
			for _, c := range []codec.Codec{codec.JSON{}, codec.Msgpack{}} {
				data, err := c.Marshal(r)
				require.NoError(t, err)
				var got Reply
				require.NoError(t, c.Unmarshal(data, &got))
				assert.True(t, errors.Is(got.Err(), tt.want), "%s: %v", c.Name(), got.Err())
			}
		})
	}

	r := errorReply("x", domain.ErrConnectFailed.WithCause(errors.New("refused")), nil)
	assert.Contains(t, r.Err().Error(), "refused")
}

func TestReply_Redirect(t *testing.T) {
	redirect := &Redirect{
		LeaderID:   "alpha.v1",
		LeaderAddr: "10.0.0.1:7100",
		Endpoints:  []domain.Endpoint{{Kind: domain.KindSocket, Address: "10.0.0.1:7000"}},
	}
	r := errorReply("1", &domain.NotLeaderError{LeaderID: "alpha.v1"}, redirect)

	err := r.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotLeader))
	var nle *domain.NotLeaderError
	require.True(t, errors.As(err, &nle))
	assert.Equal(t, "alpha.v1", nle.LeaderID)
	assert.Equal(t, "10.0.0.1:7100", nle.LeaderAddr)
	assert.Equal(t, domain.ErrNotLeader.Code, r.Error.Code)
}

func TestReply_OK(t *testing.T) {
	r := okReply("1")
	assert.NoError(t, r.Err())
	assert.Error(t, (&Reply{}).Err())
}

func TestEnvelope_Codecs(t *testing.T) {
	env := newEnvelope(MsgJoin, domain.MustParseServiceIdentity("beta.v1"))
	env.Join = &JoinRequest{
		Entry: domain.AddressBookEntry{
			Identity:   domain.MustParseServiceIdentity("beta.v1"),
			Transports: []domain.TransportKind{domain.KindSocket},
			Endpoints:  []domain.Endpoint{{Kind: domain.KindSocket, Address: "10.0.0.2:7000"}},
			RaftAddr:   "10.0.0.2:7100",
		},
		Token: "cmat_x",
	}
	require.Len(t, env.ID, 26)

	for _, c := range []codec.Codec{codec.JSON{}, codec.Msgpack{}} {
		data, err := c.Marshal(env)
		require.NoError(t, err)
		var got Envelope
		require.NoError(t, c.Unmarshal(data, &got))
		assert.Equal(t, env.ID, got.ID, c.Name())
		assert.Equal(t, MsgJoin, got.Type, c.Name())
		require.NotNil(t, got.Join, c.Name())
		assert.Equal(t, env.Join.Entry.RaftAddr, got.Join.Entry.RaftAddr, c.Name())
		assert.Equal(t, env.Join.Entry.Endpoints, got.Join.Entry.Endpoints, c.Name())
	}
}

func TestAdvertisedAddress(t *testing.T) {
	bound := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 41000}
	tests := []struct {
		name string
		ep   domain.Endpoint
		want string
	}{
		{"port zero", domain.Endpoint{Kind: domain.KindSocket, Address: "10.0.0.1:0"}, "10.0.0.1:41000"},
		{"fixed port", domain.Endpoint{Kind: domain.KindSocket, Address: "10.0.0.1:7000"}, "10.0.0.1:7000"},
		{"empty", domain.Endpoint{Kind: domain.KindQUIC}, "127.0.0.1:41000"},
		{"queue keeps name", domain.Endpoint{Kind: domain.KindQueue, Address: "billing"}, "billing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, advertisedAddress(tt.ep, bound))
		})
	}
}

func TestConfig_RejectsOpaqueCodec(t *testing.T) {
	cfg := DefaultConfig(domain.MustParseServiceIdentity("alpha.v1"))
	cfg.Listeners = []Listener{socketListener()}
	cfg.RaftBind = "127.0.0.1:0"
	cfg.Channel = cfg.Channel.WithCodec(codec.Raw{})
	assert.Error(t, cfg.setDefaults())

	cfg.Channel = cfg.Channel.WithCodec(codec.Msgpack{})
	require.NoError(t, cfg.setDefaults())
	assert.NotNil(t, cfg.Registry)
	assert.Equal(t, cfg.Identity, cfg.Consensus.ID)
}
