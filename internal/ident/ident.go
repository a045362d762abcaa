// Package ident mints the opaque 128-bit hex identifiers used for upload
// sessions, download sessions, and match tokens.
package ident

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns 32 lowercase hex characters of cryptographic randomness.
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform entropy source is broken;
		// no identifier we could return would be safe to use.
		panic("ident: " + err.Error())
	}
	return hex.EncodeToString(b)
}
