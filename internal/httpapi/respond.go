package httpapi

import (
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

// envelope wraps every response body.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, c codec, status int, data any) {
	writeBody(w, c, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, c codec, status int, code, msg string) {
	writeBody(w, c, status, envelope{Error: &apiError{Code: code, Message: msg}})
}

// fail maps a service error to its HTTP status. Anything unrecognised is
// logged and reported as a 500 without leaking the cause.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, c codec, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, c, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, c, http.StatusForbidden, "forbidden", err.Error())
	default:
		s.logger.Error(op+" failed", "path", r.URL.Path, "err", err)
		writeError(w, c, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
