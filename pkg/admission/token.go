package admission

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// TokenPrefix marks an admission token.
const TokenPrefix = "cmat_"

// Issue returns the admission token for identity.
func (k Key) Issue(identity string) (string, error) {
	mac, err := k.mac(identity)
	if err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify reports whether token was issued for identity under k.
//
// Uses constant-time comparison.
func (k Key) Verify(identity, token string) bool {
	body, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return false
	}
	got, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return false
	}
	want, err := k.mac(identity)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (k Key) mac(identity string) ([]byte, error) {
	macKey, err := k.Subkey("constellation admission v1", 32)
	if err != nil {
		return nil, err
	}
	h, err := blake2b.New256(macKey)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(identity))
	return h.Sum(nil), nil
}
