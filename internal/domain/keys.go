package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store key layout.
const (
	UserKeyPrefix = "user:"

	// Primary store: session mappings.
	TokenToUserKey = "auth:by_token"
	UserToTokenKey = "auth:by_user"

	// Index store: uniqueness lookups.
	UsernameIndexKey = "user:by_username"
	EmailIndexKey    = "user:by_email"
)

// UserKey returns the primary key of the identity record for id.
func UserKey(id string) string { return UserKeyPrefix + id }

// IDFromUserKey extracts the identity id from a record key. It returns false
// for keys that are not identity records.
func IDFromUserKey(key string) (string, bool) {
	if !strings.HasPrefix(key, UserKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, UserKeyPrefix)
	if _, err := ParseIdentityID(id); err != nil {
		return "", false
	}
	return id, true
}

// IndexKey returns the Index store hash holding lookups for f.
func IndexKey(f Field) (string, error) {
	switch f {
	case FieldUsername:
		return UsernameIndexKey, nil
	case FieldEmail:
		return EmailIndexKey, nil
	}
	return "", fmt.Errorf("field %q is not indexed", f)
}

// NewIdentityID returns a fresh UUIDv7: 48 bits of millisecond timestamp
// followed by 74 random bits. Ids sort by creation time and have a fixed
// width of 36 characters. With 74 random bits, a collision inside a single
// millisecond stays below 1e-9 up to roughly 6 million ids per millisecond.
func NewIdentityID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ParseIdentityID validates id and returns its canonical form.
func ParseIdentityID(id string) (string, error) {
	if len(id) != 36 {
		return "", fmt.Errorf("malformed identity id %q", id)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("malformed identity id %q", id)
	}
	return u.String(), nil
}
