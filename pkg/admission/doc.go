// Package admission provides an optional pre-shared-key admission check for
// mesh joins.
//
// Every participant shares one key. A joining service presents a token
// bound to its identity; the leader recomputes it and admits the join only
// on a match.
//
// Key format:
//
//   - Prefix: cmpsk_ (6 characters)
//   - Body: 43 characters of Base64 RawURL encoded key bytes (32 bytes)
//
// Token format:
//
//   - Prefix: cmat_ (5 characters)
//   - Body: Base64 RawURL encoded keyed BLAKE2b-256 of the identity
//
// The same key also derives the gossip encryption key used by discovery.
package admission
