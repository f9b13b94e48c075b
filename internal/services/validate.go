package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-identity-backend/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// emailRE accepts local@domain.tld with a conservative character set.
var emailRE = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

var lowerEmail = cases.Lower(language.Und)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

func checkLen(name, v string, min, max int) error {
	n := utf8.RuneCountInString(v)
	if n < min {
		if n == 0 {
			return invalid("%s is empty", name)
		}
		return invalid("%s too short", name)
	}
	if n > max {
		return invalid("%s too long", name)
	}
	return nil
}

// normalizeText trims surrounding whitespace and composes to NFC so that
// visually identical names compare equal.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizeEmail(s string) string {
	return lowerEmail.String(strings.TrimSpace(s))
}

func validateUsername(v string) error {
	if err := checkLen("username", v, domain.UsernameMinLen, domain.UsernameMaxLen); err != nil {
		return err
	}
	if strings.ContainsAny(v, " \t\r\n") {
		return invalid("username contains whitespace")
	}
	return nil
}

func validateFullname(v string) error {
	return checkLen("fullname", v, domain.FullnameMinLen, domain.FullnameMaxLen)
}

func validateAbout(v string) error {
	return checkLen("about", v, 0, domain.AboutMaxLen)
}

func validateEmail(v string) error {
	if err := checkLen("email", v, domain.EmailMinLen, domain.EmailMaxLen); err != nil {
		return err
	}
	if !emailRE.MatchString(v) {
		return invalid("email is malformed")
	}
	return nil
}

func validatePassword(v string) error {
	return checkLen("password", v, domain.PasswordMinLen, domain.PasswordMaxLen)
}

// ValidatePassword reports whether v is acceptable as a new password. It lets
// callers reject a bad password before writing anything else.
func ValidatePassword(v string) error { return validatePassword(v) }

// normalizeField applies the per-field normalization used on both register
// and update.
func normalizeField(f domain.Field, v string) string {
	switch f {
	case domain.FieldEmail:
		return normalizeEmail(v)
	case domain.FieldAbout:
		return norm.NFC.String(v)
	default:
		return normalizeText(v)
	}
}

func validateField(f domain.Field, v string) error {
	switch f {
	case domain.FieldUsername:
		return validateUsername(v)
	case domain.FieldFullname:
		return validateFullname(v)
	case domain.FieldEmail:
		return validateEmail(v)
	case domain.FieldAbout:
		return validateAbout(v)
	}
	return invalid("field %s cannot be updated", f)
}
