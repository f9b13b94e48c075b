// Package domain defines the identity record, its field schema and the key
// layout used in the Primary and Index stores.
//
// Records are stored as flat string hashes. Every field has a declared type
// and is decoded explicitly by DecodeIdentity; values are never sniffed.
package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Role is the authorization level of an identity. It is stored and returned
// but not enforced anywhere.
type Role int

const (
	RoleUser      Role = 0
	RoleModerator Role = 1
	RoleAdmin     Role = 2
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r >= RoleUser && r <= RoleAdmin }

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// Identity is the authoritative record for a registered user.
type Identity struct {
	ID           string
	Username     string
	Fullname     string
	About        string
	Email        string
	PasswordHash string
	Role         Role
	RegisteredAt time.Time
}

// Profile is the externally visible projection of an Identity. It never
// carries the password hash.
type Profile struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Fullname     string `json:"fullname"`
	About        string `json:"about"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	RegisteredAt int64  `json:"registered_at"`
}

// Profile returns the public projection of i.
func (i *Identity) Profile() Profile {
	return Profile{
		ID:           i.ID,
		Username:     i.Username,
		Fullname:     i.Fullname,
		About:        i.About,
		Email:        i.Email,
		Role:         i.Role,
		RegisteredAt: i.RegisteredAt.Unix(),
	}
}

// Encode renders i as the hash stored under UserKey(i.ID).
func (i *Identity) Encode() map[string]string {
	return map[string]string{
		string(FieldUsername):     i.Username,
		string(FieldFullname):     i.Fullname,
		string(FieldAbout):        i.About,
		string(FieldEmail):        i.Email,
		string(FieldPasswordHash): i.PasswordHash,
		string(FieldRole):         strconv.Itoa(int(i.Role)),
		string(FieldRegisteredAt): strconv.FormatInt(i.RegisteredAt.Unix(), 10),
	}
}

// DecodeIdentity parses a stored hash into an Identity. Missing optional
// fields take their defaults (empty about, RoleUser); a missing required
// field or a malformed integer is an error.
func DecodeIdentity(id string, h map[string]string) (*Identity, error) {
	out := &Identity{ID: id}
	var ok bool

	if out.Username, ok = h[string(FieldUsername)]; !ok {
		return nil, fmt.Errorf("identity %s: missing %s", id, FieldUsername)
	}
	if out.Email, ok = h[string(FieldEmail)]; !ok {
		return nil, fmt.Errorf("identity %s: missing %s", id, FieldEmail)
	}
	if out.PasswordHash, ok = h[string(FieldPasswordHash)]; !ok {
		return nil, fmt.Errorf("identity %s: missing %s", id, FieldPasswordHash)
	}
	out.Fullname = h[string(FieldFullname)]
	out.About = h[string(FieldAbout)]

	if raw, ok := h[string(FieldRole)]; ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !Role(n).Valid() {
			return nil, fmt.Errorf("identity %s: bad %s %q", id, FieldRole, raw)
		}
		out.Role = Role(n)
	}

	raw, ok := h[string(FieldRegisteredAt)]
	if !ok {
		return nil, fmt.Errorf("identity %s: missing %s", id, FieldRegisteredAt)
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("identity %s: bad %s %q", id, FieldRegisteredAt, raw)
	}
	out.RegisteredAt = time.Unix(sec, 0).UTC()

	return out, nil
}
