package command

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	adminv1 "github.com/norpie/constellation/api/admin/v1"
	"github.com/norpie/constellation/internal/cli/admintest"
	"github.com/norpie/constellation/internal/core/domain"
)

// newFake returns a two-member mesh seen from alpha.v1.
func newFake() *admintest.Fake {
	alpha := domain.AddressBookEntry{
		Identity:   domain.MustParseServiceIdentity("alpha.v1"),
		Transports: []domain.TransportKind{domain.KindSocket},
		Endpoints:  []domain.Endpoint{{Kind: domain.KindSocket, Address: "10.0.0.1:7000"}},
		RaftAddr:   "10.0.0.1:7100",
		Epoch:      2,
	}
	beta := domain.AddressBookEntry{
		Identity:   domain.MustParseServiceIdentity("beta.v1"),
		Transports: []domain.TransportKind{domain.KindSocket, domain.KindQUIC},
		Endpoints: []domain.Endpoint{
			{Kind: domain.KindQUIC, Address: "10.0.0.2:7001", VPNOnly: true},
			{Kind: domain.KindSocket, Address: "10.0.0.2:7000"},
		},
		Translator: true,
		RaftAddr:   "10.0.0.2:7100",
		Epoch:      2,
	}
	return &admintest.Fake{
		Info: adminv1.StatusResponse{
			Identity:  "alpha.v1",
			State:     "Leader",
			IsLeader:  true,
			Leader:    "alpha.v1",
			Epoch:     2,
			Index:     14,
			Members:   2,
			Endpoints: alpha.Endpoints,
			RaftAddr:  alpha.RaftAddr,
			Version:   "v0.3.0",
			Stats:     map[string]string{"term": "2", "num_peers": "1"},
		},
		Roster: []adminv1.Member{
			{Entry: alpha, Consensus: true, Voter: true, Leader: true},
			{Entry: beta, Consensus: true, Voter: true},
		},
		Book: map[string][]domain.Endpoint{
			"alpha.v1": alpha.Endpoints,
			"beta.v1":  beta.Endpoints,
		},
		Plan: map[string]adminv1.NegotiateResponse{
			"beta.v1": {Outcome: "direct", Kind: "socket", Endpoint: &beta.Endpoints[1]},
		},
		Log: []adminv1.Event{
			{Kind: "member_joined", Attrs: map[string]string{"identity": "alpha.v1"}},
			{Kind: "leader_changed", Attrs: map[string]string{"leader": "alpha.v1"}},
			{Kind: "member_joined", Attrs: map[string]string{"identity": "beta.v1"}},
		},
		Ready: true,
	}
}

type result struct {
	stdout string
	stderr string
	err    error
}

// run executes meshctl with args against fake, isolated from the user's
// configuration. stdin feeds commands that read it.
func run(t *testing.T, fake *admintest.Fake, stdin string, args ...string) result {
	t.Helper()
	t.Setenv("MESHCTL_SERVER", "")
	t.Setenv("MESHCTL_TOKEN", "")
	t.Setenv("MESHCTL_PROFILE", "")

	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(stdin)

	full := []string{"meshctl", "--config", filepath.Join(t.TempDir(), "meshctl.yaml")}
	if fake != nil {
		full = append(full, "--server", fake.Server(t).URL)
	}
	full = append(full, args...)

	err := app.RunContext(context.Background(), full)
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func mustContain(t *testing.T, s string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(s, w) {
			t.Errorf("output missing %q:\n%s", w, s)
		}
	}
}
