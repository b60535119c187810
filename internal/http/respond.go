package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pagestack/platform/internal/repository"
	"github.com/pagestack/platform/internal/service/account"
	"github.com/pagestack/platform/internal/service/team"
	"github.com/pagestack/platform/pkg/signature"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError translates service sentinels to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFromError(err), err.Error())
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, account.ErrValidation), errors.Is(err, team.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrInvalidCredentials),
		errors.Is(err, account.ErrInvalidToken),
		errors.Is(err, signature.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, account.ErrAccountLocked),
		errors.Is(err, team.ErrPermissionDenied),
		errors.Is(err, team.ErrLastOwner):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrEmailTaken),
		errors.Is(err, team.ErrAlreadyMember),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, account.ErrActivationExpired):
		return http.StatusGone
	case errors.Is(err, team.ErrTeamQuota), errors.Is(err, team.ErrMemberQuota):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
