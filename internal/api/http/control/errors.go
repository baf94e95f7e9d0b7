package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oshokin/zephyr-tools/internal/service/common"
)

// Error codes carried in error bodies.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnknownCommand     = "UNKNOWN_COMMAND"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeInternal           = "INTERNAL"
)

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody the way every error is returned.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrNotSetup),
		errors.Is(err, common.ErrNoProject),
		errors.Is(err, common.ErrProjectNotInit),
		errors.Is(err, common.ErrNoBoard):
		return http.StatusConflict, CodePreconditionFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
