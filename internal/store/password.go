package store

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 120_000
	saltLen          = 16
	keyLen           = 32
)

// HashPassword derives a PBKDF2-HMAC-SHA256 hash with a fresh random salt.
func HashPassword(password string) (salt, hash []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generating salt: %w", err)
	}
	hash = pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
	return salt, hash, nil
}

// VerifyPassword checks password against a stored salt and hash in constant
// time.
func VerifyPassword(password string, salt, hash []byte) bool {
	test := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
	return subtle.ConstantTimeCompare(test, hash) == 1
}
