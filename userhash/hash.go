// Package userhash provides pseudonymous voter tags.
//
// A tag identifies a user consistently within one poll, so that results can
// show that two listings belong to the same voter, but tags for the same
// user differ between polls. Specifically, a tag is an HMAC of the user ID
// and the poll ID.
//
// The key used to generate tags must be preserved across program instances.
//
// Tags are not intended to guarantee privacy.
package userhash

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Size is the size of a userhash in bytes.
const Size = 28

// TagSize is the number of bytes of a userhash shown in a tag.
const TagSize = 4

// Hash is an obfuscated hash identifying a user in a poll.
type Hash [Size]byte

// Tag formats the leading bytes of the hash for display.
func (h *Hash) Tag() string {
	return "voter-" + hex.EncodeToString(h[:TagSize])
}

// A Hasher creates Hash values. A Hasher is not safe for concurrent use.
type Hasher struct {
	// mac is the HMAC hasher.
	mac hash.Hash
}

// New creates a Hasher.
func New(prk []byte) Hasher {
	return Hasher{
		mac: hmac.New(sha3.New224, prk),
	}
}

// Hash computes a userhash and writes it into dst.
func (h Hasher) Hash(dst *Hash, uid, poll string) *Hash {
	h.mac.Reset()
	b := make([]byte, 0, len(uid)+1+len(poll))
	b = append(b, uid...)
	b = append(b, 0xaa)
	b = append(b, poll...)
	h.mac.Write(b)
	return (*Hash)(h.mac.Sum(dst[:0]))
}

// Tag computes the display tag for a user in a poll.
func (h Hasher) Tag(uid, poll string) string {
	var d Hash
	return h.Hash(&d, uid, poll).Tag()
}
