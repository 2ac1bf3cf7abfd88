package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rpggio/aipair/internal/domain/mergegate"
	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/dvcs"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleDomainError maps the §7 error taxonomy to HTTP status codes:
// NotFound/Ambiguous -> 404/400, PreconditionFailed -> 400, everything
// else -> 500.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrReviewNotFound),
		errors.Is(err, review.ErrThreadNotFound),
		errors.Is(err, session.ErrSessionNotFound):
		writeErrorJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrAmbiguousChangeID),
		errors.Is(err, review.ErrAmbiguousThreadID):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrInvalidName),
		errors.Is(err, session.ErrSessionExists),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrBookmarkMissing):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	default:
		var dvcsErr *dvcs.Error
		if errors.As(err, &dvcsErr) {
			writeErrorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
	}
}

func writeMergeResult(w http.ResponseWriter, changeID string, r mergegate.Result) {
	status := http.StatusOK
	if !r.Allowed {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"success":  r.Allowed,
		"message":  mergegate.Explain(changeID, r),
		"blockers": r.Blockers,
		"bypassed": r.Bypassed,
	})
}
