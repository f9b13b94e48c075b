package handlers

import (
	"context"

	"github.com/tbourn/go-identity-backend/internal/domain"
)

// IdentityService is the identity surface consumed by the handlers. It is
// implemented by *services.IdentityService.
type IdentityService interface {
	Register(ctx context.Context, username, fullname, email, password string) (string, error)
	Login(ctx context.Context, primary, password string) (string, error)
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	Update(ctx context.Context, id string, changes map[domain.Field]string) error
	VerifyPassword(ctx context.Context, id, password string) error
	SetPassword(ctx context.Context, id, password string) error
}

// Handlers groups the HTTP endpoints of the identity API.
type Handlers struct {
	identity IdentityService
	version  string
}

// New constructs Handlers bound to svc. version is reported by GET /version.
func New(svc IdentityService, version string) *Handlers {
	return &Handlers{identity: svc, version: version}
}
