// Package httperr maps service errors onto HTTP responses.
package httperr

import (
	"errors"
	"log"
	"net/http"

	chatservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
	identityservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/identity"
	"github.com/zhouzirui/fireworks-chat/backend/pkg/utils"
)

// Body is the JSON error payload. Quota errors also carry the remedy and the
// counters so the client can open the sign-in or pricing dialog.
type Body struct {
	Error    string `json:"error"`
	Remedy   string `json:"remedy,omitempty"`
	Consumed *int   `json:"consumed,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
}

// Status returns the HTTP status for err.
func Status(err error) int {
	var quotaErr *chatservice.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		if quotaErr.Remedy == chatservice.RemedyUpgrade {
			return http.StatusPaymentRequired
		}
		return http.StatusUnauthorized
	case errors.Is(err, chatservice.ErrSessionNotFound),
		errors.Is(err, identityservice.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatservice.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, chatservice.ErrEmptyInput),
		errors.Is(err, chatservice.ErrClientRequired),
		errors.Is(err, identityservice.ErrClientRequired),
		errors.Is(err, identityservice.ErrInvalidEmail):
		return http.StatusBadRequest
	case errors.Is(err, identityservice.ErrNotSignedIn):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// BodyFor builds the payload for err. Internal errors are not echoed.
func BodyFor(err error) Body {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return Body{Error: "internal error"}
	}

	body := Body{Error: err.Error()}
	var quotaErr *chatservice.QuotaExceededError
	if errors.As(err, &quotaErr) {
		consumed, limit := quotaErr.Consumed, quotaErr.Limit
		body.Remedy = string(quotaErr.Remedy)
		body.Consumed = &consumed
		body.Limit = &limit
	}
	return body
}

// Write responds with the mapped status and payload.
func Write(w http.ResponseWriter, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		log.Printf("[http] internal error: %v", err)
	}
	utils.RespondJSON(w, status, BodyFor(err))
}
