// Profile endpoints of the authenticated identity:
//   - GET   /user
//   - PATCH /user
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-identity-backend/internal/domain"
	"github.com/tbourn/go-identity-backend/internal/http/middleware"
	"github.com/tbourn/go-identity-backend/internal/services"
)

// passwordCurrentField carries the re-authentication secret of a password
// change. It is not a record field.
const passwordCurrentField = "passwordCurrent"

// UpdateUserRequest documents the PATCH /user payload. Any subset of the
// profile fields may be sent; Password requires PasswordCurrent.
type UpdateUserRequest struct {
	Username        string `json:"username,omitempty" example:"jdoe2"`
	Fullname        string `json:"fullname,omitempty" example:"Jane Doe"`
	Email           string `json:"email,omitempty" example:"jane.doe@example.com"`
	About           string `json:"about,omitempty" example:"Hello there"`
	Password        string `json:"password,omitempty" example:"n3w-secret"`
	PasswordCurrent string `json:"passwordCurrent,omitempty" example:"s3cret-pass"`
}

// GetUser godoc
// @ID          getUser
// @Summary     Get the current profile
// @Description Returns the profile of the identity owning the session token.
// @Tags        User
// @Produce     json
// @Security    SessionToken
//
// @Success     200  {object}  handlers.UserResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     404  {object}  handlers.ErrorResponse  "Identity no longer exists"
// @Failure     429  {object}  map[string]any          "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /user [get]
func (h *Handlers) GetUser(c *gin.Context) {
	p, err := h.identity.GetProfile(c.Request.Context(), middleware.IdentityID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, UserResponse{Status: StatusOK, User: p})
}

// UpdateUser godoc
// @ID          updateUser
// @Summary     Update the current profile
// @Description Changes any of username, fullname, email and about. A password
// @Description change needs passwordCurrent. Nothing is written unless every
// @Description field is valid.
// @Tags        User
// @Accept      json
// @Produce     json
// @Security    SessionToken
//
// @Param       body  body  handlers.UpdateUserRequest  true  "Fields to change"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse   "Malformed JSON"
// @Failure     403  {object}  handlers.StatusResponse  "invalid_argument, wrong_login_info, user_already_exists or email_registered"
// @Failure     429  {object}  map[string]any           "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /user [patch]
func (h *Handlers) UpdateUser(c *gin.Context) {
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil || raw == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	changes, password, current, err := parseUpdate(raw)
	if err != nil {
		failService(c, err)
		return
	}

	ctx := c.Request.Context()
	id := middleware.IdentityID(c)

	if password != nil {
		if err := services.ValidatePassword(*password); err != nil {
			failService(c, err)
			return
		}
		if err := h.identity.VerifyPassword(ctx, id, *current); err != nil {
			failService(c, err)
			return
		}
	}
	if err := h.identity.Update(ctx, id, changes); err != nil {
		failService(c, err)
		return
	}
	if password != nil {
		if err := h.identity.SetPassword(ctx, id, *password); err != nil {
			failService(c, err)
			return
		}
	}
	ok(c, StatusResponse{Status: StatusOK})
}

var errPasswordPair = errors.New("password and passwordCurrent must be sent together")

func fmtInvalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{services.ErrInvalidArgument}, args...)...)
}

// parseUpdate splits a PATCH body into profile changes and an optional
// password change. Unknown keys, non-settable fields and non-string values
// are invalid arguments.
func parseUpdate(raw map[string]json.RawMessage) (changes map[domain.Field]string, password, current *string, err error) {
	changes = make(map[domain.Field]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, nil, nil, fmtInvalid("%s must be a string", k)
		}
		switch {
		case k == passwordCurrentField:
			current = &s
			continue
		case k == string(domain.FieldPassword):
			password = &s
			continue
		}
		f, perr := domain.ParseField(k)
		if perr != nil || !f.Settable() {
			return nil, nil, nil, fmtInvalid("field %s cannot be updated", k)
		}
		changes[f] = s
	}
	if (password == nil) != (current == nil) {
		return nil, nil, nil, fmtInvalid("%v", errPasswordPair)
	}
	return changes, password, current, nil
}
