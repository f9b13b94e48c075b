package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-identity-backend/internal/domain"
	"github.com/tbourn/go-identity-backend/internal/http/middleware"
	"github.com/tbourn/go-identity-backend/internal/services"
	"github.com/tbourn/go-identity-backend/internal/store"
)

// ---------- wiring over an in-memory SQLite store ----------

type apiEnv struct {
	r        *gin.Engine
	sessions *services.SessionService
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.OpenSQLite(fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	primary := store.NewGormStore(db, store.NamespacePrimary)
	index := store.NewGormStore(db, store.NamespaceIndex)
	b := services.NewIndexBuilder(primary, index)
	sess := services.NewSessionService(primary)
	svc := services.NewIdentityService(primary, b, sess, services.NewPasswordHasher(1000, nil, false))

	return &apiEnv{r: mount(New(svc, "test-1.0"), sess), sessions: sess}
}

func mount(h *Handlers, sessions middleware.TokenResolver) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.GET("/version", h.Version)
	authed := r.Group("/", middleware.Authenticate(sessions))
	authed.GET("/test", h.Echo)
	authed.GET("/user", h.GetUser)
	authed.PATCH("/user", h.UpdateUser)
	return r
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func regBody(username, email string) map[string]string {
	return map[string]string{
		"username": username,
		"name":     "Jane",
		"surname":  "Doe",
		"email":    email,
		"password": "s3cret-pass",
	}
}

func (e *apiEnv) register(t *testing.T, username, email string) string {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/register", "", regBody(username, email))
	if w.Code != http.StatusOK || out["status"] != StatusOK {
		t.Fatalf("register %s: %d %v", username, w.Code, out)
	}
	return out["token"].(string)
}

// ---------- register / login ----------

func TestRegister_IssuesTokenAndBuildsFullname(t *testing.T) {
	e := newAPI(t)
	tok := e.register(t, "jdoe", "Jane@Example.com")

	w, out := e.do(t, http.MethodGet, "/user", "Bearer "+tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get user: %d %v", w.Code, out)
	}
	user := out["user"].(map[string]any)
	if user["fullname"] != "Jane Doe" || user["email"] != "jane@example.com" || user["about"] != "" {
		t.Fatalf("user = %v", user)
	}
	if user["role"].(float64) != float64(domain.RoleUser) {
		t.Fatalf("role = %v", user["role"])
	}
}

func TestRegister_FullnameTrimmedWhenSurnameEmpty(t *testing.T) {
	e := newAPI(t)
	body := regBody("solo", "solo@example.com")
	body["surname"] = ""
	w, out := e.do(t, http.MethodPost, "/register", "", body)
	if w.Code != http.StatusOK {
		t.Fatalf("register: %d %v", w.Code, out)
	}
	_, got := e.do(t, http.MethodGet, "/user", out["token"].(string), nil)
	if got["user"].(map[string]any)["fullname"] != "Jane" {
		t.Fatalf("fullname = %v", got["user"])
	}
}

func TestRegister_Outcomes(t *testing.T) {
	e := newAPI(t)
	e.register(t, "taken", "taken@example.com")

	cases := []struct {
		name   string
		body   any
		code   int
		status string
	}{
		{"username collision", regBody("taken", "other@example.com"), 403, StatusUserAlreadyExists},
		{"email collision case-insensitive", regBody("other", "TAKEN@example.com"), 403, StatusEmailRegistered},
		{"empty username", regBody("", "x@example.com"), 403, StatusInvalidArgument},
		{"username 21 chars", regBody(strings.Repeat("u", 21), "y@example.com"), 403, StatusInvalidArgument},
		{"bad email", regBody("bademail", "nope"), 403, StatusInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, out := e.do(t, http.MethodPost, "/register", "", tc.body)
			if w.Code != tc.code || out["status"] != tc.status {
				t.Fatalf("got %d %v; want %d %s", w.Code, out, tc.code, tc.status)
			}
			if _, has := out["token"]; has {
				t.Fatalf("failed register returned a token")
			}
		})
	}
}

func TestRegister_MalformedIs400(t *testing.T) {
	e := newAPI(t)
	missing := regBody("jdoe", "j@example.com")
	delete(missing, "surname")

	for name, body := range map[string]any{
		"not json":      "{",
		"missing field": missing,
		"wrong type":    `{"username":1,"name":"a","surname":"b","email":"e@x.io","password":"pppppp"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w, out := e.do(t, http.MethodPost, "/register", "", body)
			if w.Code != http.StatusBadRequest || out["code"] != ErrCodeBadRequest {
				t.Fatalf("got %d %v", w.Code, out)
			}
		})
	}
}

func TestLogin_ByEmailOrUsernameRotatesToken(t *testing.T) {
	e := newAPI(t)
	first := e.register(t, "jdoe", "jane@example.com")

	w, out := e.do(t, http.MethodPost, "/login", "", map[string]string{"primary": "JANE@example.com", "password": "s3cret-pass"})
	if w.Code != http.StatusOK || out["status"] != StatusOK {
		t.Fatalf("login by email: %d %v", w.Code, out)
	}
	second := out["token"].(string)

	w, out = e.do(t, http.MethodPost, "/login", "", map[string]string{"primary": "jdoe", "password": "s3cret-pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("login by username: %d %v", w.Code, out)
	}
	third := out["token"].(string)

	for _, stale := range []string{first, second} {
		if w, _ := e.do(t, http.MethodGet, "/user", stale, nil); w.Code != http.StatusForbidden {
			t.Fatalf("stale token still works: %d", w.Code)
		}
	}
	if w, _ := e.do(t, http.MethodGet, "/user", third, nil); w.Code != http.StatusOK {
		t.Fatalf("current token rejected: %d", w.Code)
	}
}

func TestLogin_Failures(t *testing.T) {
	e := newAPI(t)
	e.register(t, "jdoe", "jane@example.com")

	cases := []struct {
		name   string
		body   map[string]string
		status string
	}{
		{"wrong password", map[string]string{"primary": "jdoe", "password": "nope-nope"}, StatusWrongLoginInfo},
		{"unknown user", map[string]string{"primary": "ghost", "password": "s3cret-pass"}, StatusWrongLoginInfo},
		{"empty primary", map[string]string{"primary": "", "password": "s3cret-pass"}, StatusInvalidArgument},
		{"oversized primary", map[string]string{"primary": strings.Repeat("a", 300), "password": "x"}, StatusInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, out := e.do(t, http.MethodPost, "/login", "", tc.body)
			if w.Code != http.StatusForbidden || out["status"] != tc.status {
				t.Fatalf("got %d %v; want 403 %s", w.Code, out, tc.status)
			}
		})
	}
}

// ---------- profile ----------

func TestUser_RequiresToken(t *testing.T) {
	e := newAPI(t)
	for _, tok := range []string{"", "forged"} {
		w, out := e.do(t, http.MethodGet, "/user", tok, nil)
		if w.Code != http.StatusForbidden || out["code"] != ErrCodeForbidden || out["message"] != "invalid token" {
			t.Fatalf("token %q: %d %v", tok, w.Code, out)
		}
	}
}

func TestUpdateUser_ProfileFields(t *testing.T) {
	e := newAPI(t)
	tok := e.register(t, "jdoe", "jane@example.com")

	w, out := e.do(t, http.MethodPatch, "/user", tok, map[string]string{
		"username": "jane",
		"about":    "hello",
		"email":    "Jane.Doe@Example.com",
	})
	if w.Code != http.StatusOK || out["status"] != StatusOK {
		t.Fatalf("patch: %d %v", w.Code, out)
	}

	_, got := e.do(t, http.MethodGet, "/user", tok, nil)
	user := got["user"].(map[string]any)
	if user["username"] != "jane" || user["about"] != "hello" || user["email"] != "jane.doe@example.com" {
		t.Fatalf("user = %v", user)
	}

	// the old username is free again, the new one is not
	if w, out := e.do(t, http.MethodPost, "/register", "", regBody("jdoe", "new@example.com")); w.Code != http.StatusOK {
		t.Fatalf("old username not released: %d %v", w.Code, out)
	}
	if _, out := e.do(t, http.MethodPost, "/register", "", regBody("jane", "n2@example.com")); out["status"] != StatusUserAlreadyExists {
		t.Fatalf("new username not claimed: %v", out)
	}
}

func TestUpdateUser_Rejections(t *testing.T) {
	e := newAPI(t)
	tok := e.register(t, "jdoe", "jane@example.com")
	e.register(t, "other", "other@example.com")

	cases := []struct {
		name   string
		body   any
		code   int
		status string
	}{
		{"unknown field", map[string]any{"nickname": "x"}, 403, StatusInvalidArgument},
		{"role not settable", map[string]any{"role": "2"}, 403, StatusInvalidArgument},
		{"registered_at not settable", map[string]any{"registered_at": "0"}, 403, StatusInvalidArgument},
		{"non-string value", map[string]any{"about": 5}, 403, StatusInvalidArgument},
		{"password without current", map[string]any{"password": "n3w-secret"}, 403, StatusInvalidArgument},
		{"current without password", map[string]any{"passwordCurrent": "s3cret-pass"}, 403, StatusInvalidArgument},
		{"username taken", map[string]any{"username": "other"}, 403, StatusUserAlreadyExists},
		{"email taken", map[string]any{"email": "OTHER@example.com"}, 403, StatusEmailRegistered},
		{"wrong current password", map[string]any{"password": "n3w-secret", "passwordCurrent": "guess-again"}, 403, StatusWrongLoginInfo},
		{"too short new password", map[string]any{"password": "123", "passwordCurrent": "s3cret-pass"}, 403, StatusInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, out := e.do(t, http.MethodPatch, "/user", tok, tc.body)
			if w.Code != tc.code || out["status"] != tc.status {
				t.Fatalf("got %d %v; want %d %s", w.Code, out, tc.code, tc.status)
			}
		})
	}

	// nothing above may have changed the profile
	_, got := e.do(t, http.MethodGet, "/user", tok, nil)
	if u := got["user"].(map[string]any); u["username"] != "jdoe" || u["email"] != "jane@example.com" {
		t.Fatalf("profile changed by rejected updates: %v", u)
	}

	if w, _ := e.do(t, http.MethodPatch, "/user", tok, "[1,2]"); w.Code != http.StatusBadRequest {
		t.Fatalf("array body: %d", w.Code)
	}
}

func TestUpdateUser_InvalidFieldBlocksWholeUpdate(t *testing.T) {
	e := newAPI(t)
	tok := e.register(t, "jdoe", "jane@example.com")

	w, out := e.do(t, http.MethodPatch, "/user", tok, map[string]string{
		"about":    "changed",
		"username": strings.Repeat("x", 21),
	})
	if w.Code != http.StatusForbidden || out["status"] != StatusInvalidArgument {
		t.Fatalf("got %d %v", w.Code, out)
	}
	_, got := e.do(t, http.MethodGet, "/user", tok, nil)
	if got["user"].(map[string]any)["about"] != "" {
		t.Fatalf("partial update applied: %v", got["user"])
	}
}

func TestUpdateUser_PasswordChange(t *testing.T) {
	e := newAPI(t)
	tok := e.register(t, "jdoe", "jane@example.com")

	w, out := e.do(t, http.MethodPatch, "/user", tok, map[string]string{
		"password":        "n3w-secret",
		"passwordCurrent": "s3cret-pass",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("change password: %d %v", w.Code, out)
	}

	if _, out := e.do(t, http.MethodPost, "/login", "", map[string]string{"primary": "jdoe", "password": "s3cret-pass"}); out["status"] != StatusWrongLoginInfo {
		t.Fatalf("old password still accepted: %v", out)
	}
	if w, out := e.do(t, http.MethodPost, "/login", "", map[string]string{"primary": "jdoe", "password": "n3w-secret"}); w.Code != http.StatusOK {
		t.Fatalf("new password rejected: %d %v", w.Code, out)
	}
}

func TestVersion(t *testing.T) {
	e := newAPI(t)
	w, out := e.do(t, http.MethodGet, "/version", "", nil)
	if w.Code != http.StatusOK || out["version"] != "test-1.0" {
		t.Fatalf("got %d %v", w.Code, out)
	}
}

func TestEcho_RequiresTokenAndAnswersInRange(t *testing.T) {
	e := newAPI(t)
	if w, _ := e.do(t, http.MethodGet, "/test", "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("without token: %d", w.Code)
	}

	_, out := e.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": "echo", "name": "E", "surname": "Cho", "email": "echo@example.com", "password": "s3cret-pass",
	})
	tok := out["token"].(string)
	for i := 0; i < 20; i++ {
		w, out := e.do(t, http.MethodGet, "/test", tok, nil)
		n, isNum := out["echo"].(float64)
		if w.Code != http.StatusOK || !isNum || n < 1 || n > 150 {
			t.Fatalf("got %d %v", w.Code, out)
		}
	}
}

// ---------- infrastructure failures ----------

type brokenIdentity struct{}

var errStoreDown = errors.New("redis: connection refused")

func (brokenIdentity) Register(context.Context, string, string, string, string) (string, error) {
	return "", errStoreDown
}
func (brokenIdentity) Login(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: %w", services.ErrIndexUnavailable, errStoreDown)
}
func (brokenIdentity) GetProfile(context.Context, string) (domain.Profile, error) {
	return domain.Profile{}, errStoreDown
}
func (brokenIdentity) Update(context.Context, string, map[domain.Field]string) error {
	return errStoreDown
}
func (brokenIdentity) VerifyPassword(context.Context, string, string) error { return nil }
func (brokenIdentity) SetPassword(context.Context, string, string) error    { return errStoreDown }

type staticResolver struct{}

func (staticResolver) Resolve(context.Context, string) (string, error) {
	return "0190a5e2-7b3c-7def-8abc-0123456789ab", nil
}

func TestInfraFailuresAre500WithoutDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := &apiEnv{r: mount(New(brokenIdentity{}, "x"), staticResolver{})}

	calls := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/register", regBody("jdoe", "jane@example.com")},
		{http.MethodPost, "/login", map[string]string{"primary": "jdoe", "password": "pw"}},
		{http.MethodGet, "/user", nil},
		{http.MethodPatch, "/user", map[string]string{"about": "x"}},
	}
	for _, call := range calls {
		w, out := e.do(t, call.method, call.path, "tok", call.body)
		if w.Code != http.StatusInternalServerError || out["code"] != ErrCodeInternal {
			t.Fatalf("%s %s: %d %v", call.method, call.path, w.Code, out)
		}
		if strings.Contains(w.Body.String(), "connection refused") {
			t.Fatalf("%s %s leaked detail: %s", call.method, call.path, w.Body.String())
		}
	}
}
