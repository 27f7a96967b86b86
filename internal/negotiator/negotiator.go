// Package negotiator selects how a caller reaches a callee: directly over a
// shared transport kind, through exactly one translation intermediary, or
// not at all.
//
// Negotiation is a pure function of the caller's capabilities, the callee's
// address book entry and an address book snapshot. It never dials anything
// and never reports a transport kind that either side does not advertise.
package negotiator

import (
	"fmt"
	"slices"
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/core/domain"
)

// Outcome tags a Result.
type Outcome uint8

const (
	// Unreachable means no direct or one-hop path exists.
	Unreachable Outcome = iota
	// Direct means caller and callee share a usable transport kind.
	Direct
	// Translated means the call goes through one intermediary.
	Translated
)

func (o Outcome) String() string {
	switch o {
	case Direct:
		return "direct"
	case Translated:
		return "translated"
	default:
		return "unreachable"
	}
}

// Capabilities describes the caller side of a negotiation.
type Capabilities struct {
	// Identity of the caller. Optional; used to spread load across
	// equally ranked intermediaries and to avoid routing through itself.
	Identity domain.ServiceIdentity

	// Transports the caller can dial.
	Transports []domain.TransportKind

	// OnVPN allows VPN-only endpoints to be used directly.
	OnVPN bool
}

// Supports reports whether the caller can dial kind.
func (c Capabilities) Supports(kind domain.TransportKind) bool {
	return slices.Contains(c.Transports, kind)
}

// Result is the outcome of a negotiation.
type Result struct {
	Outcome Outcome

	// Kind and Endpoint describe the hop that reaches the callee: for Direct
	// the caller dials it, for Translated the intermediary does.
	Kind     domain.TransportKind
	Endpoint domain.Endpoint

	// Intermediary, IngressKind and IngressEndpoint are set for Translated
	// results; the caller dials IngressEndpoint.
	Intermediary    domain.ServiceIdentity
	IngressKind     domain.TransportKind
	IngressEndpoint domain.Endpoint
}

// Hops returns the number of intermediaries on the path.
func (r Result) Hops() int {
	if r.Outcome == Translated {
		return 1
	}
	return 0
}

func (r Result) String() string {
	switch r.Outcome {
	case Direct:
		return fmt.Sprintf("direct(%s, %s)", r.Kind, r.Endpoint.Address)
	case Translated:
		return fmt.Sprintf("translated(%s, %s via %s)", r.Intermediary, r.Kind, r.IngressKind)
	default:
		return "unreachable"
	}
}

// DefaultPreference ranks well-known kinds. Kinds not listed rank after
// these, in lexical order.
var DefaultPreference = []domain.TransportKind{
	domain.KindSocket,
	domain.KindLocal,
	domain.KindQUIC,
	domain.KindQueue,
}

// Negotiator holds a static preference order.
type Negotiator struct {
	rank map[domain.TransportKind]int
}

// New creates a negotiator. With no arguments DefaultPreference is used.
func New(preference ...domain.TransportKind) *Negotiator {
	if len(preference) == 0 {
		preference = DefaultPreference
	}
	rank := make(map[domain.TransportKind]int, len(preference))
	for i, k := range preference {
		if _, dup := rank[k]; !dup {
			rank[k] = i
		}
	}
	return &Negotiator{rank: rank}
}

var defaultNegotiator = New()

// Negotiate uses the default preference order.
func Negotiate(caller Capabilities, callee domain.AddressBookEntry, snap *addressbook.Snapshot) Result {
	return defaultNegotiator.Negotiate(caller, callee, snap)
}

// Less reports whether kind a is preferred over kind b.
func (n *Negotiator) Less(a, b domain.TransportKind) bool {
	ra, oka := n.rank[a]
	rb, okb := n.rank[b]
	switch {
	case oka && okb:
		return ra < rb
	case oka != okb:
		return oka
	default:
		return a < b
	}
}

// Negotiate computes the path from caller to callee.
func (n *Negotiator) Negotiate(caller Capabilities, callee domain.AddressBookEntry, snap *addressbook.Snapshot) Result {
	if r, ok := n.direct(caller, callee); ok {
		return r
	}
	if snap != nil {
		if r, ok := n.translated(caller, callee, snap); ok {
			return r
		}
	}
	return Result{Outcome: Unreachable}
}

func (n *Negotiator) direct(caller Capabilities, callee domain.AddressBookEntry) (Result, bool) {
	for _, kind := range n.shared(caller.Transports, callee.Transports) {
		if ep, ok := firstEndpoint(callee, kind, func(ep domain.Endpoint) bool {
			return !ep.RequiresTranslation && (!ep.VPNOnly || caller.OnVPN)
		}); ok {
			return Result{Outcome: Direct, Kind: kind, Endpoint: ep}, true
		}
	}
	return Result{}, false
}

type candidate struct {
	via     domain.AddressBookEntry
	ingress domain.TransportKind
	ingEP   domain.Endpoint
	egress  domain.TransportKind
	egEP    domain.Endpoint
	weight  uint64
}

func (n *Negotiator) translated(caller Capabilities, callee domain.AddressBookEntry, snap *addressbook.Snapshot) (Result, bool) {
	var cands []candidate
	for _, t := range snap.Translators() {
		if t.Identity == callee.Identity || t.Identity == caller.Identity {
			continue
		}

		var (
			ingress domain.TransportKind
			ingEP   domain.Endpoint
			found   bool
		)
		for _, kind := range n.shared(caller.Transports, t.Transports) {
			if ep, ok := firstEndpoint(t, kind, func(ep domain.Endpoint) bool {
				return !ep.RequiresTranslation && (!ep.VPNOnly || caller.OnVPN)
			}); ok {
				ingress, ingEP, found = kind, ep, true
				break
			}
		}
		if !found {
			continue
		}

		// The intermediary delivers directly, so the callee endpoint may be
		// VPN-only or translation-only from the caller's point of view.
		for _, kind := range n.shared(t.Transports, callee.Transports) {
			if ep, ok := firstEndpoint(callee, kind, func(domain.Endpoint) bool { return true }); ok {
				cands = append(cands, candidate{
					via:     t,
					ingress: ingress,
					ingEP:   ingEP,
					egress:  kind,
					egEP:    ep,
					weight:  rendezvous(caller.Identity, callee.Identity, t.Identity),
				})
				break
			}
		}
	}
	if len(cands) == 0 {
		return Result{}, false
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.egress != b.egress {
			return n.Less(a.egress, b.egress)
		}
		if a.ingress != b.ingress {
			return n.Less(a.ingress, b.ingress)
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		return a.via.Identity.Compare(b.via.Identity) < 0
	})

	best := cands[0]
	return Result{
		Outcome:         Translated,
		Kind:            best.egress,
		Endpoint:        best.egEP,
		Intermediary:    best.via.Identity,
		IngressKind:     best.ingress,
		IngressEndpoint: best.ingEP,
	}, true
}

// shared returns the kinds present in both sets, best first.
func (n *Negotiator) shared(a, b []domain.TransportKind) []domain.TransportKind {
	var out []domain.TransportKind
	for _, k := range a {
		if slices.Contains(b, k) && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return n.Less(out[i], out[j]) })
	return out
}

// firstEndpoint returns the entry's first endpoint of kind accepted by ok.
// Endpoints whose kind is not advertised are never returned.
func firstEndpoint(e domain.AddressBookEntry, kind domain.TransportKind, ok func(domain.Endpoint) bool) (domain.Endpoint, bool) {
	if !e.Supports(kind) {
		return domain.Endpoint{}, false
	}
	for _, ep := range e.Endpoints {
		if ep.Kind == kind && ok(ep) {
			return ep, true
		}
	}
	return domain.Endpoint{}, false
}

// rendezvous scores an intermediary for a caller/callee pair (highest
// random weight hashing).
func rendezvous(caller, callee, via domain.ServiceIdentity) uint64 {
	return murmur3.Sum64([]byte(caller.String() + "\x00" + callee.String() + "\x00" + via.String()))
}
