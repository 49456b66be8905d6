package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
)

// CleanupHandler triggers a prune on demand, for deployments that prefer an
// external cron over the built-in timer. Guarded by a bearer secret; hidden
// entirely when no secret is configured.
type CleanupHandler struct {
	scheduler  *Scheduler
	cronSecret string
}

func NewCleanupHandler(scheduler *Scheduler, cronSecret string) *CleanupHandler {
	return &CleanupHandler{
		scheduler:  scheduler,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result := h.scheduler.Prune()

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
