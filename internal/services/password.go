package services

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashScheme = "pbkdf2-sha512"

	// DefaultHashRounds matches the passlib default for pbkdf2_sha512.
	DefaultHashRounds = 25000

	saltLen   = 16
	digestLen = sha512.Size
)

// errMalformedHash is returned by Verify for strings that are not
// pbkdf2-sha512 hashes.
var errMalformedHash = errors.New("malformed password hash")

// ab64 is passlib's "adapted base64": standard alphabet without padding and
// with '.' in place of '+'.
var ab64 = base64.RawStdEncoding

func ab64Encode(b []byte) string {
	return strings.ReplaceAll(ab64.EncodeToString(b), "+", ".")
}

func ab64Decode(s string) ([]byte, error) {
	return ab64.DecodeString(strings.ReplaceAll(s, ".", "+"))
}

// PasswordHasher derives and verifies PBKDF2-HMAC-SHA512 password hashes in
// the modular crypt format used by passlib:
//
//	$pbkdf2-sha512$<rounds>$<ab64 salt>$<ab64 digest>
//
// By default each hash gets its own random salt. With LegacyGlobalSalt set,
// new hashes reuse the process-wide GlobalSalt instead; verification reads
// the salt from the stored string, so both kinds verify either way.
type PasswordHasher struct {
	Rounds           int
	GlobalSalt       []byte
	LegacyGlobalSalt bool

	dummyOnce sync.Once
	dummy     string
}

// NewPasswordHasher returns a hasher using rounds iterations (DefaultHashRounds
// when rounds <= 0).
func NewPasswordHasher(rounds int, globalSalt []byte, legacy bool) *PasswordHasher {
	if rounds <= 0 {
		rounds = DefaultHashRounds
	}
	return &PasswordHasher{Rounds: rounds, GlobalSalt: globalSalt, LegacyGlobalSalt: legacy}
}

// Hash derives a new encoded hash for password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	var salt []byte
	if h.LegacyGlobalSalt && len(h.GlobalSalt) > 0 {
		salt = h.GlobalSalt
	} else {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("password salt: %w", err)
		}
	}
	return encodeHash(h.Rounds, salt, derive(password, salt, h.Rounds)), nil
}

// Verify reports whether password matches encoded. The comparison is
// constant time.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	rounds, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	got := pbkdf2.Key([]byte(password), salt, rounds, len(want), sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// VerifyDummy performs a full verification against a fixed hash so that
// a lookup miss costs the same as a wrong password.
func (h *PasswordHasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		salt := make([]byte, saltLen)
		h.dummy = encodeHash(h.Rounds, salt, derive("dummy-password", salt, h.Rounds))
	})
	_, _ = h.Verify(password, h.dummy)
}

func derive(password string, salt []byte, rounds int) []byte {
	return pbkdf2.Key([]byte(password), salt, rounds, digestLen, sha512.New)
}

func encodeHash(rounds int, salt, digest []byte) string {
	return "$" + hashScheme + "$" + strconv.Itoa(rounds) + "$" + ab64Encode(salt) + "$" + ab64Encode(digest)
}

func decodeHash(encoded string) (rounds int, salt, digest []byte, err error) {
	parts := strings.Split(encoded, "$")
	// "", scheme, rounds, salt, digest
	if len(parts) != 5 || parts[0] != "" || parts[1] != hashScheme {
		return 0, nil, nil, errMalformedHash
	}
	rounds, err = strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 {
		return 0, nil, nil, errMalformedHash
	}
	if salt, err = ab64Decode(parts[3]); err != nil {
		return 0, nil, nil, errMalformedHash
	}
	if digest, err = ab64Decode(parts[4]); err != nil || len(digest) == 0 {
		return 0, nil, nil, errMalformedHash
	}
	return rounds, salt, digest, nil
}
