// Registration and login endpoints:
//   - POST /register
//   - POST /login
//
// Both return a fresh session token; any previous token of the identity stops
// working.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RegisterRequest is the JSON payload for POST /register. Fields are
// pointers so that an absent field (400) differs from an empty one (403
// invalid_argument).
type RegisterRequest struct {
	Username *string `json:"username" binding:"required" example:"jdoe"`
	Name     *string `json:"name" binding:"required" example:"Jane"`
	Surname  *string `json:"surname" binding:"required" example:"Doe"`
	Email    *string `json:"email" binding:"required" example:"jane@example.com"`
	Password *string `json:"password" binding:"required" example:"s3cret-pass"`
}

// LoginRequest is the JSON payload for POST /login. Primary is a username or
// an email address.
type LoginRequest struct {
	Primary  *string `json:"primary" binding:"required" example:"jane@example.com"`
	Password *string `json:"password" binding:"required" example:"s3cret-pass"`
}

// Register godoc
// @ID          register
// @Summary     Register an identity
// @Description Creates an identity and returns its first session token. The
// @Description full name is "name surname" with surrounding space trimmed.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Registration payload"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse   "Malformed JSON or missing field"
// @Failure     403  {object}  handlers.StatusResponse  "invalid_argument, user_already_exists or email_registered"
// @Failure     429  {object}  map[string]any           "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	fullname := strings.TrimSpace(*req.Name + " " + *req.Surname)

	tok, err := h.identity.Register(c.Request.Context(), *req.Username, fullname, *req.Email, *req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, StatusResponse{Status: StatusOK, Token: tok})
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Authenticates by username or email and rotates the session token.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse   "Malformed JSON or missing field"
// @Failure     403  {object}  handlers.StatusResponse  "invalid_argument or wrong_login_info"
// @Failure     429  {object}  map[string]any           "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	tok, err := h.identity.Login(c.Request.Context(), *req.Primary, *req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, StatusResponse{Status: StatusOK, Token: tok})
}
