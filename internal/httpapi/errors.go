package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/auth"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// writeServiceError maps ledger and auth errors to HTTP responses. Anything
// unrecognised is logged and reported as a bare 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidExamID):
		writeError(w, http.StatusBadRequest, "invalid_exam_id", err.Error())
	case errors.Is(err, service.ErrInvalidKind):
		writeError(w, http.StatusBadRequest, "invalid_kind", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrClosed):
		writeError(w, http.StatusConflict, "closed", err.Error())
	case errors.Is(err, service.ErrForbidden), errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "caller may not perform this operation")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid bearer token")
	default:
		s.logger.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
