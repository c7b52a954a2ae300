package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/domain"
)

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError maps a domain error onto its stable code and HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeInternalError
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrInvalidSessionID):
		code = domain.CodeInvalidSessionID
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrPTYNotFound):
		code = domain.CodeSessionNotFound
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMissingSession):
		code = domain.CodeMissingSession
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrMissingContent):
		code = domain.CodeMissingContent
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCwd):
		code = domain.CodeInvalidCwd
		status = http.StatusBadRequest
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
