package domain

import (
	"errors"
	"testing"
)

func TestParseServiceIdentity(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		version string
		wantErr bool
	}{
		{"billing.v1", "billing", "v1", false},
		{"catalog.search.v12", "catalog.search", "v12", false},
		{"gateway.v2beta", "gateway", "v2beta", false},
		{"billing", "", "", true},
		{"billing.", "", "", true},
		{".v1", "", "", true},
		{"billing.1", "", "", true},
		{"Billing.v1", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := ParseServiceIdentity(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("ParseServiceIdentity(%q) err = %v, want invalid argument", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServiceIdentity(%q) error = %v", tt.in, err)
			}
			if id.Name != tt.name || id.Version != tt.version {
				t.Errorf("got %+v, want %s/%s", id, tt.name, tt.version)
			}
			if id.String() != tt.in {
				t.Errorf("String() = %q, want %q", id.String(), tt.in)
			}
		})
	}
}

func TestServiceIdentity_VersionsAreDistinct(t *testing.T) {
	v1 := MustParseServiceIdentity("billing.v1")
	v2 := MustParseServiceIdentity("billing.v2")
	if v1 == v2 {
		t.Fatal("different versions must be different identities")
	}
	if v1.Compare(v2) >= 0 {
		t.Errorf("Compare(v1, v2) = %d, want < 0", v1.Compare(v2))
	}
}

func TestServiceIdentity_IsZero(t *testing.T) {
	var id ServiceIdentity
	if !id.IsZero() || id.String() != "" {
		t.Errorf("zero identity: IsZero=%v String=%q", id.IsZero(), id.String())
	}
}

func TestMustParseServiceIdentity_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustParseServiceIdentity("noversion")
}
