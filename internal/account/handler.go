package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"

	"confirm-gate/internal/mail"
	"confirm-gate/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	vault   *Vault
	sender  mail.Sender
	baseURL string
	logger  *observability.Logger
}

func NewHandler(vault *Vault, sender mail.Sender, baseURL string, logger *observability.Logger) *Handler {
	return &Handler{
		vault:   vault,
		sender:  sender,
		baseURL: baseURL,
		logger:  logger,
	}
}

type setupBody struct {
	PIN   string `json:"pin"`
	Email string `json:"email"`
}

type resetPINBody struct {
	PIN string `json:"pin"`
}

// Setup handles POST /api/setup. One-shot; re-setup goes through recovery.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	var body setupBody
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.vault.Setup(body.PIN, body.Email); err != nil {
		switch {
		case errors.Is(err, ErrAlreadySetup):
			writeError(w, http.StatusConflict, "setup already complete")
		case errors.Is(err, ErrPINTooShort):
			writeError(w, http.StatusBadRequest, "pin too short")
		case errors.Is(err, ErrEmailInvalid):
			writeError(w, http.StatusBadRequest, "invalid email")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to complete setup")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ForgotPIN handles POST /api/forgot-pin: issues a reset token and mails the
// reset link. Mail delivery failure surfaces to this caller only.
func (h *Handler) ForgotPIN(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "mail is not configured")
		return
	}

	resetID, err := h.vault.IssueReset()
	if err != nil {
		switch {
		case errors.Is(err, ErrSetupRequired), errors.Is(err, ErrNoEmail):
			writeError(w, http.StatusNotFound, "no recovery email configured")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to issue reset token")
		}
		return
	}

	resetURL := fmt.Sprintf("%s/reset/%s", h.baseURL, resetID)
	body := fmt.Sprintf(`
		<h3>PIN reset requested</h3>
		<p>A PIN reset was requested for your confirm-gate instance.</p>
		<p><a href="%s">Reset your PIN</a> (link expires in 15 minutes).</p>
		<p>If you did not request this, you can ignore this email.</p>
	`, resetURL)

	if err := h.sender.Send(h.vault.Email(), "confirm-gate PIN reset", body); err != nil {
		h.logger.Error("reset_mail_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to send reset email")
		return
	}

	h.logger.Info("reset_mail_sent", map[string]any{"reset_id": resetID})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// CheckReset handles GET /api/reset-token/{id}: the reset page probes
// whether its token is still honored before showing the form.
func (h *Handler) CheckReset(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.CheckReset(r.PathValue("id")); err != nil {
		writeError(w, http.StatusGone, "reset token invalid or expired")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ResetPIN handles POST /api/reset-pin/{id}.
func (h *Handler) ResetPIN(w http.ResponseWriter, r *http.Request) {
	var body resetPINBody
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.vault.ConsumeReset(r.PathValue("id"), body.PIN); err != nil {
		switch {
		case errors.Is(err, ErrResetInvalid):
			writeError(w, http.StatusGone, "reset token invalid or expired")
		case errors.Is(err, ErrPINTooShort):
			writeError(w, http.StatusBadRequest, "pin too short")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to reset pin")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
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
