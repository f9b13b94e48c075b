// internal/domain/identity_test.go
package domain

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestIdentity_EncodeDecode(t *testing.T) {
	id, err := NewIdentityID()
	if err != nil {
		t.Fatalf("NewIdentityID: %v", err)
	}
	in := &Identity{
		ID:           id,
		Username:     "alice",
		Fullname:     "Alice Liddell",
		About:        "",
		Email:        "alice@example.com",
		PasswordHash: "$pbkdf2-sha512$1000$c2FsdA$ZGlnZXN0",
		Role:         RoleAdmin,
		RegisteredAt: time.Unix(1700000000, 0).UTC(),
	}
	h := in.Encode()
	if h["role"] != "2" || h["registered_at"] != "1700000000" {
		t.Fatalf("unexpected encoding: %#v", h)
	}

	out, err := DecodeIdentity(id, h)
	if err != nil {
		t.Fatalf("DecodeIdentity: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch:\n got  %#v\n want %#v", out, in)
	}
}

func TestDecodeIdentity_Defaults(t *testing.T) {
	out, err := DecodeIdentity("x", map[string]string{
		"username":      "bob",
		"email":         "bob@example.com",
		"password_hash": "h",
		"registered_at": "5",
	})
	if err != nil {
		t.Fatalf("DecodeIdentity: %v", err)
	}
	if out.Role != RoleUser || out.About != "" {
		t.Fatalf("defaults not applied: %#v", out)
	}
}

func TestDecodeIdentity_Errors(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			"username":      "bob",
			"email":         "bob@example.com",
			"password_hash": "h",
			"registered_at": "5",
		}
	}
	cases := map[string]func(map[string]string){
		"missing username":   func(h map[string]string) { delete(h, "username") },
		"missing email":      func(h map[string]string) { delete(h, "email") },
		"missing hash":       func(h map[string]string) { delete(h, "password_hash") },
		"missing registered": func(h map[string]string) { delete(h, "registered_at") },
		"bad registered":     func(h map[string]string) { h["registered_at"] = "yesterday" },
		"bad role":           func(h map[string]string) { h["role"] = "9" },
		"non-numeric role":   func(h map[string]string) { h["role"] = "admin" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := base()
			mutate(h)
			if _, err := DecodeIdentity("x", h); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIdentity_ProfileOmitsHash(t *testing.T) {
	i := &Identity{ID: "1", Username: "u", PasswordHash: "secret", RegisteredAt: time.Unix(42, 0)}
	p := i.Profile()
	if p.RegisteredAt != 42 || p.Username != "u" {
		t.Fatalf("unexpected profile: %#v", p)
	}
}

func TestRole_String(t *testing.T) {
	if RoleModerator.String() != "moderator" || Role(7).String() != "role(7)" {
		t.Fatal("unexpected role names")
	}
}

func TestParseField(t *testing.T) {
	for _, name := range []string{"username", "fullname", "about", "email", "password", "role", "registered_at"} {
		if _, err := ParseField(name); err != nil {
			t.Errorf("ParseField(%q): %v", name, err)
		}
	}
	if _, err := ParseField("nickname"); err == nil {
		t.Error("expected error for unknown field")
	}

	var settable []string
	for f := range knownFields {
		if f.Settable() {
			settable = append(settable, string(f))
		}
	}
	sort.Strings(settable)
	if got := strings.Join(settable, ","); got != "about,email,fullname,username" {
		t.Fatalf("settable = %s", got)
	}
}

func TestIndexKey(t *testing.T) {
	if k, _ := IndexKey(FieldUsername); k != "user:by_username" {
		t.Fatalf("username index = %q", k)
	}
	if k, _ := IndexKey(FieldEmail); k != "user:by_email" {
		t.Fatalf("email index = %q", k)
	}
	if _, err := IndexKey(FieldAbout); err == nil {
		t.Fatal("about must not be indexed")
	}
}

func TestIdentityIDs(t *testing.T) {
	a, _ := NewIdentityID()
	time.Sleep(2 * time.Millisecond)
	b, _ := NewIdentityID()
	if len(a) != 36 || len(b) != 36 {
		t.Fatalf("unexpected widths %d %d", len(a), len(b))
	}
	if a >= b {
		t.Fatalf("ids not time ordered: %s >= %s", a, b)
	}
	if _, err := ParseIdentityID(a); err != nil {
		t.Fatalf("ParseIdentityID: %v", err)
	}
	for _, bad := range []string{"", "1", "not-a-uuid-not-a-uuid-not-a-uuid-xxx", strings.Repeat("a", 300)} {
		if _, err := ParseIdentityID(bad); err == nil {
			t.Errorf("ParseIdentityID(%q) should fail", bad)
		}
	}

	if id, ok := IDFromUserKey(UserKey(a)); !ok || id != a {
		t.Fatalf("IDFromUserKey = %q %v", id, ok)
	}
	if _, ok := IDFromUserKey("user:by_email"); ok {
		t.Fatal("index key must not parse as a user key")
	}
}
