package negotiator

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/core/domain"
)

const customLink domain.TransportKind = "custom-link"

func entry(id string, translator bool, kinds ...domain.TransportKind) domain.AddressBookEntry {
	e := domain.AddressBookEntry{
		Identity:   domain.MustParseServiceIdentity(id),
		Transports: kinds,
		Translator: translator,
	}
	for _, k := range kinds {
		e.Endpoints = append(e.Endpoints, domain.Endpoint{Kind: k, Address: fmt.Sprintf("%s/%s", id, k)})
	}
	return e
}

func book(t *testing.T, entries ...domain.AddressBookEntry) *addressbook.Snapshot {
	t.Helper()
	b := addressbook.New()
	for i, e := range entries {
		require.NoError(t, b.Apply(uint64(i+1), &domain.MembershipEvent{
			Type: domain.EventJoin, Join: &domain.JoinEvent{Entry: e},
		}))
	}
	return b.Snapshot()
}

func caps(kinds ...domain.TransportKind) Capabilities {
	return Capabilities{Identity: domain.MustParseServiceIdentity("caller.v1"), Transports: kinds}
}

func TestScenario_DirectSocket(t *testing.T) {
	callee := entry("catalog.search.v1", false, domain.KindQueue, domain.KindSocket)
	snap := book(t, callee)

	r := Negotiate(caps(domain.KindSocket, customLink), callee, snap)
	require.Equal(t, Direct, r.Outcome, r.String())
	assert.Equal(t, domain.KindSocket, r.Kind)
	assert.Equal(t, "catalog.search.v1/socket", r.Endpoint.Address)
	assert.Equal(t, 0, r.Hops())
}

func TestScenario_Translated(t *testing.T) {
	callee := entry("catalog.search.v1", false, domain.KindQueue)
	bridge := entry("bridge.v1", true, customLink, domain.KindQueue)
	snap := book(t, callee, bridge)

	r := Negotiate(caps(customLink), callee, snap)
	require.Equal(t, Translated, r.Outcome, r.String())
	assert.Equal(t, "bridge.v1", r.Intermediary.String())
	assert.Equal(t, domain.KindQueue, r.Kind)
	assert.Equal(t, customLink, r.IngressKind)
	assert.Equal(t, "bridge.v1/custom-link", r.IngressEndpoint.Address)
	assert.Equal(t, "catalog.search.v1/queue", r.Endpoint.Address)
	assert.Equal(t, 1, r.Hops())
}

func TestScenario_Unreachable(t *testing.T) {
	callee := entry("catalog.search.v1", false, domain.KindQueue)
	// Translator bridges neither side, and a non-translator that would.
	snap := book(t, callee,
		entry("bridge.v1", true, domain.KindSocket, domain.KindLocal),
		entry("plain.v1", false, customLink, domain.KindQueue),
	)

	r := Negotiate(caps(customLink), callee, snap)
	assert.Equal(t, Unreachable, r.Outcome, r.String())
	assert.Equal(t, "unreachable", r.String())
}

func TestPreferenceOrder(t *testing.T) {
	callee := entry("svc.v1", false, domain.KindQueue, domain.KindQUIC, domain.KindLocal, domain.KindSocket, customLink, "alpha-link")
	tests := []struct {
		caller []domain.TransportKind
		want   domain.TransportKind
	}{
		{[]domain.TransportKind{domain.KindQueue, domain.KindSocket}, domain.KindSocket},
		{[]domain.TransportKind{domain.KindQueue, domain.KindLocal}, domain.KindLocal},
		{[]domain.TransportKind{domain.KindQueue, domain.KindQUIC}, domain.KindQUIC},
		{[]domain.TransportKind{customLink, domain.KindQueue}, domain.KindQueue},
		{[]domain.TransportKind{customLink, "alpha-link"}, "alpha-link"},
	}
	for _, tt := range tests {
		r := Negotiate(caps(tt.caller...), callee, nil)
		require.Equal(t, Direct, r.Outcome)
		assert.Equal(t, tt.want, r.Kind, "caller %v", tt.caller)
	}

	custom := New(domain.KindQueue, domain.KindSocket)
	r := custom.Negotiate(caps(domain.KindQueue, domain.KindSocket), callee, nil)
	assert.Equal(t, domain.KindQueue, r.Kind)
}

func TestDirectSkipsTranslationOnlyEndpoints(t *testing.T) {
	callee := entry("svc.v1", false, domain.KindSocket)
	callee.Endpoints[0].RequiresTranslation = true
	bridge := entry("bridge.v1", true, domain.KindQueue, domain.KindSocket)
	snap := book(t, callee, bridge)

	r := Negotiate(caps(domain.KindSocket, domain.KindQueue), callee, snap)
	require.Equal(t, Translated, r.Outcome, r.String())
	assert.Equal(t, domain.KindSocket, r.Kind)
	assert.Equal(t, domain.KindSocket, r.IngressKind)
}

func TestVPNOnly(t *testing.T) {
	callee := entry("svc.v1", false, domain.KindSocket)
	callee.Endpoints[0].VPNOnly = true
	snap := book(t, callee)

	c := caps(domain.KindSocket)
	assert.Equal(t, Unreachable, Negotiate(c, callee, snap).Outcome)

	c.OnVPN = true
	assert.Equal(t, Direct, Negotiate(c, callee, snap).Outcome)
}

func TestTranslatorNeverSelf(t *testing.T) {
	// The callee itself is a translator but the caller cannot reach it.
	callee := entry("svc.v1", true, domain.KindQueue)
	snap := book(t, callee)
	assert.Equal(t, Unreachable, Negotiate(caps(customLink), callee, snap).Outcome)

	// The caller is a translator: it must not route through itself.
	c := caps(customLink)
	self := entry("caller.v1", true, customLink, domain.KindQueue)
	snap = book(t, callee, self)
	assert.Equal(t, Unreachable, Negotiate(c, callee, snap).Outcome)
}

func TestTranslatorChoice(t *testing.T) {
	callee := entry("svc.v1", false, domain.KindQueue, domain.KindSocket)
	slow := entry("slow.v1", true, customLink, domain.KindQueue)
	fast := entry("fast.v1", true, customLink, domain.KindSocket)
	snap := book(t, callee, slow, fast)

	r := Negotiate(caps(customLink), callee, snap)
	require.Equal(t, Translated, r.Outcome)
	assert.Equal(t, "fast.v1", r.Intermediary.String(), "best egress kind wins")

	// Equal ranks: choice is deterministic for a given caller/callee pair.
	a := entry("a.v1", true, customLink, domain.KindQueue)
	b := entry("b.v1", true, customLink, domain.KindQueue)
	snap = book(t, entry("svc.v1", false, domain.KindQueue), a, b)
	first := Negotiate(caps(customLink), callee, snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Intermediary, Negotiate(caps(customLink), callee, snap).Intermediary)
	}
}

// TestSoundness checks, over random inputs, that results never use a kind
// missing from either side and never involve more than one intermediary.
func TestSoundness(t *testing.T) {
	kinds := []domain.TransportKind{domain.KindSocket, domain.KindLocal, domain.KindQUIC, domain.KindQueue, customLink, "serial"}
	pick := func(r *rand.Rand) []domain.TransportKind {
		var out []domain.TransportKind
		for _, k := range kinds {
			if r.Intn(3) == 0 {
				out = append(out, k)
			}
		}
		if len(out) == 0 {
			out = append(out, kinds[r.Intn(len(kinds))])
		}
		return out
	}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		callee := entry("callee.v1", false, pick(r)...)
		for j := range callee.Endpoints {
			callee.Endpoints[j].VPNOnly = r.Intn(5) == 0
			callee.Endpoints[j].RequiresTranslation = r.Intn(5) == 0
		}
		all := []domain.AddressBookEntry{callee}
		for j := 0; j < r.Intn(4); j++ {
			all = append(all, entry(fmt.Sprintf("t%d.v1", j), r.Intn(2) == 0, pick(r)...))
		}
		snap := book(t, all...)
		c := caps(pick(r)...)
		c.OnVPN = r.Intn(2) == 0

		res := Negotiate(c, callee, snap)
		switch res.Outcome {
		case Direct:
			require.True(t, c.Supports(res.Kind), "caller lacks %s", res.Kind)
			require.True(t, slices.Contains(callee.Transports, res.Kind), "callee lacks %s", res.Kind)
			require.Equal(t, res.Kind, res.Endpoint.Kind)
			require.False(t, res.Endpoint.RequiresTranslation)
		case Translated:
			via, ok := snap.Get(res.Intermediary)
			require.True(t, ok)
			require.True(t, via.Translator)
			require.True(t, c.Supports(res.IngressKind))
			require.True(t, via.Supports(res.IngressKind))
			require.True(t, via.Supports(res.Kind))
			require.True(t, slices.Contains(callee.Transports, res.Kind))
			require.Equal(t, 1, res.Hops())
			// Translation is only chosen when no direct path exists.
			_, direct := New().direct(c, callee)
			require.False(t, direct)
		}
	}
}
