package domain

import "fmt"

// Field names one attribute of an identity record. The set is closed.
type Field string

const (
	FieldUsername     Field = "username"
	FieldFullname     Field = "fullname"
	FieldAbout        Field = "about"
	FieldEmail        Field = "email"
	FieldPasswordHash Field = "password_hash"
	FieldRole         Field = "role"
	FieldRegisteredAt Field = "registered_at"

	// FieldPassword is accepted from clients but never stored under this name.
	FieldPassword Field = "password"
)

var knownFields = map[Field]struct{}{
	FieldUsername:     {},
	FieldFullname:     {},
	FieldAbout:        {},
	FieldEmail:        {},
	FieldPasswordHash: {},
	FieldRole:         {},
	FieldRegisteredAt: {},
	FieldPassword:     {},
}

// ParseField maps a client-supplied name to a Field.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if _, ok := knownFields[f]; !ok {
		return "", fmt.Errorf("unknown field %q", name)
	}
	return f, nil
}

// Settable reports whether f may be changed through a profile update.
// Passwords go through a dedicated path; role and registration time are
// never client-writable.
func (f Field) Settable() bool {
	switch f {
	case FieldUsername, FieldFullname, FieldEmail, FieldAbout:
		return true
	}
	return false
}

// Indexed reports whether f has a uniqueness index.
func (f Field) Indexed() bool {
	return f == FieldUsername || f == FieldEmail
}

// Length bounds, counted in runes.
const (
	UsernameMinLen = 1
	UsernameMaxLen = 20
	FullnameMinLen = 1
	FullnameMaxLen = 60
	AboutMaxLen    = 500
	EmailMinLen    = 3
	EmailMaxLen    = 254
	PasswordMinLen = 6
	PasswordMaxLen = 254
	LoginMaxLen    = 254
)
