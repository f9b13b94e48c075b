// Package handlers defines the HTTP-layer vocabularies used across endpoints.
//
// Two vocabularies coexist:
//
//   - Error codes travel in ErrorResponse for transport-level failures (bad
//     JSON, unknown route, missing token, infrastructure errors).
//   - Statuses travel in StatusResponse for identity outcomes the client is
//     expected to branch on (taken username, wrong credentials).
//
// Example status response:
//
//	HTTP/1.1 403 Forbidden
//	{ "status": "email_registered" }
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"
)

const (
	StatusOK                = "ok"
	StatusInvalidArgument   = "invalid_argument"
	StatusWrongLoginInfo    = "wrong_login_info"
	StatusUserAlreadyExists = "user_already_exists"
	StatusEmailRegistered   = "email_registered"
)
