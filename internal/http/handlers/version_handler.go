package handlers

import (
	"math/rand/v2"

	"github.com/gin-gonic/gin"
)

// VersionResponse reports the running build.
type VersionResponse struct {
	Version string `json:"version" example:"1.4.0"`
}

// EchoResponse carries a random number so clients can tell fresh responses
// from cached ones.
type EchoResponse struct {
	Echo int `json:"echo" example:"42"`
}

// Version godoc
// @ID          version
// @Summary     Service version
// @Tags        Meta
// @Produce     json
// @Success     200  {object}  handlers.VersionResponse
// @Router      /version [get]
func (h *Handlers) Version(c *gin.Context) {
	ok(c, VersionResponse{Version: h.version})
}

// Echo godoc
// @ID          echo
// @Summary     Authenticated connectivity check
// @Description Answers with a random number in [1,150] when the session token is valid.
// @Tags        Meta
// @Security    SessionToken
// @Produce     json
// @Success     200  {object}  handlers.EchoResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     429  {object}  map[string]any          "Rate limited"
// @Router      /test [get]
func (h *Handlers) Echo(c *gin.Context) {
	ok(c, EchoResponse{Echo: 1 + rand.IntN(150)})
}
