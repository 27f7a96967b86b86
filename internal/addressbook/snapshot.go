package addressbook

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/norpie/constellation/internal/core/domain"
)

// Snapshot is an immutable view of the address book as of a log index.
//
// Snapshots are never modified after publication. Accessors return copies so
// callers cannot reach into shared state.
type Snapshot struct {
	index   uint64
	epoch   uint64
	leader  domain.ServiceIdentity
	entries map[domain.ServiceIdentity]domain.AddressBookEntry
}

// Empty returns the snapshot at index 0.
func Empty() *Snapshot {
	return &Snapshot{entries: map[domain.ServiceIdentity]domain.AddressBookEntry{}}
}

// Index returns the last log index folded into the snapshot.
func (s *Snapshot) Index() uint64 { return s.index }

// Epoch returns the current membership epoch.
func (s *Snapshot) Epoch() uint64 { return s.epoch }

// Leader returns the transponder recorded for the current epoch.
func (s *Snapshot) Leader() (domain.ServiceIdentity, bool) {
	return s.leader, !s.leader.IsZero()
}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Get returns a copy of the entry for id.
func (s *Snapshot) Get(id domain.ServiceIdentity) (domain.AddressBookEntry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return domain.AddressBookEntry{}, false
	}
	return e.Clone(), true
}

// Has reports whether id is present.
func (s *Snapshot) Has(id domain.ServiceIdentity) bool {
	_, ok := s.entries[id]
	return ok
}

// Resolve returns the endpoints of id in the service's preference order.
func (s *Snapshot) Resolve(id domain.ServiceIdentity) ([]domain.Endpoint, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrNotFound.WithDetails(id.String())
	}
	out := make([]domain.Endpoint, len(e.Endpoints))
	copy(out, e.Endpoints)
	return out, nil
}

// Entries returns copies of all entries ordered by identity.
func (s *Snapshot) Entries() []domain.AddressBookEntry {
	out := make([]domain.AddressBookEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.Compare(out[j].Identity) < 0
	})
	return out
}

// Translators returns the translation-capable entries ordered by identity.
func (s *Snapshot) Translators() []domain.AddressBookEntry {
	var out []domain.AddressBookEntry
	for _, e := range s.Entries() {
		if e.Translator {
			out = append(out, e)
		}
	}
	return out
}

// FindByRaftAddr returns the entry hosted at a consensus address.
func (s *Snapshot) FindByRaftAddr(addr string) (domain.AddressBookEntry, bool) {
	for _, e := range s.Entries() {
		if e.RaftAddr == addr {
			return e, true
		}
	}
	return domain.AddressBookEntry{}, false
}

// wireSnapshot is the canonical encoding: entries sorted by identity, map
// keys sorted by encoding/json.
type wireSnapshot struct {
	Index   uint64                    `json:"index"`
	Epoch   uint64                    `json:"epoch"`
	Leader  domain.ServiceIdentity    `json:"leader"`
	Entries []domain.AddressBookEntry `json:"entries"`
}

// MarshalBinary returns the canonical encoding. Two snapshots folded from the
// same committed prefix encode to identical bytes.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	data, err := json.Marshal(wireSnapshot{
		Index:   s.index,
		Epoch:   s.epoch,
		Leader:  s.leader,
		Entries: s.Entries(),
	})
	if err != nil {
		return nil, domain.ErrEncodeFailed.WithCause(err)
	}
	return data, nil
}

// Decode parses a canonical encoding.
func Decode(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, domain.ErrDecodeFailed.WithDetails("address book snapshot").WithCause(err)
	}
	s := &Snapshot{
		index:   w.Index,
		epoch:   w.Epoch,
		leader:  w.Leader,
		entries: make(map[domain.ServiceIdentity]domain.AddressBookEntry, len(w.Entries)),
	}
	for _, e := range w.Entries {
		if _, dup := s.entries[e.Identity]; dup {
			return nil, domain.ErrDecodeFailed.WithDetails(fmt.Sprintf("duplicate entry %s", e.Identity))
		}
		s.entries[e.Identity] = e
	}
	return s, nil
}

// clone returns a shallow copy with its own entry map. Entries are values
// and are replaced, never mutated, so sharing them is safe.
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		index:   s.index,
		epoch:   s.epoch,
		leader:  s.leader,
		entries: make(map[domain.ServiceIdentity]domain.AddressBookEntry, len(s.entries)+1),
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	return out
}
