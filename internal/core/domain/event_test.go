package domain

import (
	"errors"
	"testing"
)

func TestMembershipEvent_Validate(t *testing.T) {
	entry := sampleEntry()
	tests := []struct {
		name    string
		ev      MembershipEvent
		wantErr bool
	}{
		{"join", MembershipEvent{Type: EventJoin, Join: &JoinEvent{Entry: entry}}, false},
		{"join without payload", MembershipEvent{Type: EventJoin}, true},
		{"join invalid entry", MembershipEvent{Type: EventJoin, Join: &JoinEvent{}}, true},
		{"leave", MembershipEvent{Type: EventLeave, Leave: &LeaveEvent{Identity: entry.Identity}}, false},
		{"leader change", MembershipEvent{Type: EventLeaderChange, LeaderChange: &LeaderChangeEvent{Leader: entry.Identity, Epoch: 3}}, false},
		{"endpoint update", MembershipEvent{Type: EventEndpointUpdate, EndpointUpdate: &EndpointUpdateEvent{
			Identity:   entry.Identity,
			Transports: []TransportKind{KindQUIC},
			Endpoints:  []Endpoint{{Address: "10.0.0.5:9443", Kind: KindQUIC}},
		}}, false},
		{"endpoint update unadvertised", MembershipEvent{Type: EventEndpointUpdate, EndpointUpdate: &EndpointUpdateEvent{
			Identity:  entry.Identity,
			Endpoints: []Endpoint{{Address: "10.0.0.5:9443", Kind: KindQUIC}},
		}}, true},
		{"unknown type", MembershipEvent{Type: 9}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Validate() = %v, want invalid argument", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestMembershipEvent_MarshalRoundTrip(t *testing.T) {
	ev := &MembershipEvent{
		ID:        "01HZX",
		Type:      EventLeave,
		Timestamp: 1700000000000,
		Leave:     &LeaveEvent{Identity: MustParseServiceIdentity("billing.v1"), Reason: LeaveReasonGraceful},
	}
	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalEvent() error = %v", err)
	}
	if got.Type != EventLeave || got.Leave == nil || got.Leave.Reason != LeaveReasonGraceful {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Subject() != ev.Leave.Identity {
		t.Errorf("Subject() = %v", got.Subject())
	}
}

func TestUnmarshalEvent_Garbage(t *testing.T) {
	if _, err := UnmarshalEvent([]byte("{nope")); !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("UnmarshalEvent() = %v, want decode failed", err)
	}
}

func TestEventType_String(t *testing.T) {
	if EventLeaderChange.String() != "leader_change" {
		t.Errorf("String() = %q", EventLeaderChange.String())
	}
	if EventType(42).String() != "unknown(42)" {
		t.Errorf("String() = %q", EventType(42).String())
	}
}
