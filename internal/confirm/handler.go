package confirm

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"

	"confirm-gate/internal/account"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type requestBody struct {
	Action  string `json:"action"`
	Details string `json:"details"`
}

type confirmBody struct {
	PIN string `json:"pin"`
}

type verifyBody struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

// Request handles POST /api/request.
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if !decodeJSON(w, r, &body) {
		return
	}

	receipt, err := h.service.Request(body.Action, body.Details)
	if err != nil {
		if errors.Is(err, ErrActionRequired) {
			writeError(w, http.StatusBadRequest, "action required")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create confirmation request")
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// Describe handles GET /api/token/{id}.
func (h *Handler) Describe(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Describe(r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, ErrTokenExpired):
			writeError(w, http.StatusGone, "expired")
		case errors.Is(err, ErrAlreadyUsed):
			writeError(w, http.StatusConflict, "already used")
		case errors.Is(err, account.ErrSetupRequired):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "setup required",
				"setup": "/setup",
			})
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to load token")
		}
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Confirm handles POST /api/confirm/{id}.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if !decodeJSON(w, r, &body) {
		return
	}

	code, err := h.service.Confirm(r.PathValue("id"), body.PIN)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, ErrTokenExpired):
			writeError(w, http.StatusGone, "expired")
		case errors.Is(err, ErrAlreadyUsed):
			writeError(w, http.StatusConflict, "already used")
		case errors.Is(err, account.ErrPINMismatch):
			writeError(w, http.StatusForbidden, "invalid pin")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to confirm")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// Verify handles POST /api/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if !decodeJSON(w, r, &body) {
		return
	}

	t, err := h.service.Verify(body.Code, body.Token)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeRequired):
			writeError(w, http.StatusBadRequest, "code required")
		case errors.Is(err, ErrTokenExpired):
			writeInvalid(w, http.StatusGone, "expired")
		case errors.Is(err, ErrCodeInvalid), errors.Is(err, ErrTokenNotFound),
			errors.Is(err, ErrNotConfirmed), errors.Is(err, ErrAlreadyUsed):
			writeInvalid(w, http.StatusNotFound, "invalid or already used code")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to verify")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"action":  t.Action,
		"details": t.Details,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		// An absent body is treated as an empty document so optional-field
		// endpoints (confirm without PIN) stay callable.
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeInvalid(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"valid": false, "error": message})
}
