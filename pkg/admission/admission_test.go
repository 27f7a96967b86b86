package admission

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(k) != KeyLength {
		t.Errorf("key length = %d, want %d", len(k), KeyLength)
	}

	s := k.String()
	if !strings.HasPrefix(s, PSKPrefix) {
		t.Errorf("String() = %q, missing prefix", s)
	}
	if len(s) != len(PSKPrefix)+43 {
		t.Errorf("String() length = %d, want %d", len(s), len(PSKPrefix)+43)
	}

	parsed, err := ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if !bytes.Equal(parsed, k) {
		t.Error("ParseKey(String()) did not return the same key")
	}
}

func TestGenerateKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() error = %v", err)
		}
		if seen[k.String()] {
			t.Fatal("GenerateKey() produced a duplicate")
		}
		seen[k.String()] = true
	}
}

func TestParseKey_Invalid(t *testing.T) {
	short := PSKPrefix + base64.RawURLEncoding.EncodeToString([]byte("short"))
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no prefix", base64.RawURLEncoding.EncodeToString(make([]byte, KeyLength))},
		{"bad base64", PSKPrefix + "!!!"},
		{"wrong length", short},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKey(tt.input); err != ErrInvalidKey {
				t.Errorf("ParseKey(%q) error = %v, want ErrInvalidKey", tt.input, err)
			}
		})
	}
}

func TestPassphraseKey(t *testing.T) {
	a, err := PassphraseKey("correct horse", "prod")
	if err != nil {
		t.Fatalf("PassphraseKey() error = %v", err)
	}
	b, _ := PassphraseKey("correct horse", "prod")
	c, _ := PassphraseKey("correct horse", "staging")

	if !bytes.Equal(a, b) {
		t.Error("same passphrase and mesh should derive the same key")
	}
	if bytes.Equal(a, c) {
		t.Error("different meshes should derive different keys")
	}
	if _, err := PassphraseKey("", "prod"); err == nil {
		t.Error("empty passphrase should be rejected")
	}
}

func TestIssueVerify(t *testing.T) {
	k, _ := GenerateKey()
	other, _ := GenerateKey()

	tok, err := k.Issue("catalog.search.v1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !strings.HasPrefix(tok, TokenPrefix) {
		t.Errorf("token %q missing prefix", tok)
	}

	tests := []struct {
		name     string
		key      Key
		identity string
		token    string
		want     bool
	}{
		{"valid", k, "catalog.search.v1", tok, true},
		{"other identity", k, "catalog.search.v2", tok, false},
		{"other key", other, "catalog.search.v1", tok, false},
		{"no prefix", k, "catalog.search.v1", strings.TrimPrefix(tok, TokenPrefix), false},
		{"garbage", k, "catalog.search.v1", TokenPrefix + "%%%", false},
		{"empty", k, "catalog.search.v1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Verify(tt.identity, tt.token); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubkeys(t *testing.T) {
	k, _ := GenerateKey()

	g1, err := k.GossipKey()
	if err != nil {
		t.Fatalf("GossipKey() error = %v", err)
	}
	g2, _ := k.GossipKey()
	if len(g1) != 32 || !bytes.Equal(g1, g2) {
		t.Error("GossipKey() should be a deterministic 32-byte key")
	}

	s, _ := k.Subkey("other purpose", 32)
	if bytes.Equal(s, g1) {
		t.Error("subkeys for different purposes should differ")
	}

	if _, err := Key([]byte("short")).Subkey("x", 16); err != ErrInvalidKey {
		t.Errorf("Subkey() on a short key error = %v, want ErrInvalidKey", err)
	}
}
