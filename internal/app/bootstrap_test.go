package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()

	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	runtime, err := Build(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close() })
	return runtime
}

func do(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestFullConfirmationFlow(t *testing.T) {
	runtime := buildTestRuntime(t, Config{BaseURL: "https://gate.example.com"})

	// Setup before anything else.
	w, _ := do(t, runtime.Handler, http.MethodPost, "/api/setup", `{"pin":"1234","email":"ops@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Agent requests a confirmation.
	w, receipt := do(t, runtime.Handler, http.MethodPost, "/api/request", `{"action":"delete-database","details":"prod cluster"}`)
	require.Equal(t, http.StatusOK, w.Code)
	tokenID, _ := receipt["token"].(string)
	require.NotEmpty(t, tokenID)
	assert.Equal(t, "https://gate.example.com/confirm/"+tokenID, receipt["url"])
	assert.EqualValues(t, 300, receipt["expires_in"])

	// The confirm page loads the token.
	w, info := do(t, runtime.Handler, http.MethodGet, "/api/token/"+tokenID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "delete-database", info["action"])
	assert.Equal(t, true, info["pin_required"])

	// Wrong PIN is rejected and the token stays pending.
	w, _ = do(t, runtime.Handler, http.MethodPost, "/api/confirm/"+tokenID, `{"pin":"0000"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Right PIN yields the speakable code.
	w, confirmed := do(t, runtime.Handler, http.MethodPost, "/api/confirm/"+tokenID, `{"pin":"1234"}`)
	require.Equal(t, http.StatusOK, w.Code)
	code, _ := confirmed["code"].(string)
	require.Regexp(t, `^[A-Z]+-\d{4}-[A-Z]+$`, code)

	// Confirming twice conflicts.
	w, _ = do(t, runtime.Handler, http.MethodPost, "/api/confirm/"+tokenID, `{"pin":"1234"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The agent exchanges the relayed code exactly once.
	verifyBody := fmt.Sprintf(`{"code":%q,"token":%q}`, code, tokenID)
	w, verified := do(t, runtime.Handler, http.MethodPost, "/api/verify", verifyBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, verified["valid"])
	assert.Equal(t, "delete-database", verified["action"])
	assert.Equal(t, "prod cluster", verified["details"])

	w, verified = do(t, runtime.Handler, http.MethodPost, "/api/verify", verifyBody)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, verified["valid"])
}

func TestDescribeBeforeSetup(t *testing.T) {
	runtime := buildTestRuntime(t, Config{})

	w, receipt := do(t, runtime.Handler, http.MethodPost, "/api/request", `{"action":"restart"}`)
	require.Equal(t, http.StatusOK, w.Code)
	tokenID := receipt["token"].(string)

	// Valid token, no vault yet: the page is told to go set up first.
	w, body := do(t, runtime.Handler, http.MethodGet, "/api/token/"+tokenID, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "/setup", body["setup"])

	// An unknown token still reports not found, not the setup hint.
	w, _ = do(t, runtime.Handler, http.MethodGet, "/api/token/feedfacefeedfacefeedfacefeedface", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSeededPINFromEnvironment(t *testing.T) {
	runtime := buildTestRuntime(t, Config{ConfirmPIN: "4321"})

	w, receipt := do(t, runtime.Handler, http.MethodPost, "/api/request", `{"action":"restart"}`)
	require.Equal(t, http.StatusOK, w.Code)
	tokenID := receipt["token"].(string)

	// Seeding counts as setup, so the page renders with a PIN prompt.
	w, info := do(t, runtime.Handler, http.MethodGet, "/api/token/"+tokenID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, info["pin_required"])

	w, _ = do(t, runtime.Handler, http.MethodPost, "/api/confirm/"+tokenID, `{"pin":"wrong"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, runtime.Handler, http.MethodPost, "/api/confirm/"+tokenID, `{"pin":"4321"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConfirmWithoutBodyRequiresPIN(t *testing.T) {
	runtime := buildTestRuntime(t, Config{})

	w, _ := do(t, runtime.Handler, http.MethodPost, "/api/setup", `{"pin":"1234","email":"ops@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, receipt := do(t, runtime.Handler, http.MethodPost, "/api/request", `{"action":"restart"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, runtime.Handler, http.MethodPost, "/api/confirm/"+receipt["token"].(string), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTokensSurviveRestart(t *testing.T) {
	dataDir := t.TempDir()

	runtime := buildTestRuntime(t, Config{DataDir: dataDir, ConfirmPIN: "1234"})

	_, receipt := do(t, runtime.Handler, http.MethodPost, "/api/request", `{"action":"deploy","details":"v2"}`)
	tokenID := receipt["token"].(string)
	w, confirmed := do(t, runtime.Handler, http.MethodPost, "/api/confirm/"+tokenID, `{"pin":"1234"}`)
	require.Equal(t, http.StatusOK, w.Code)
	code := confirmed["code"].(string)

	require.NoError(t, runtime.Close())

	restarted := buildTestRuntime(t, Config{DataDir: dataDir, ConfirmPIN: "1234"})

	verifyBody := fmt.Sprintf(`{"code":%q,"token":%q}`, code, tokenID)
	w, verified := do(t, restarted.Handler, http.MethodPost, "/api/verify", verifyBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deploy", verified["action"])
}

func TestVerifyRateLimit(t *testing.T) {
	runtime := buildTestRuntime(t, Config{RateLimitMax: 2, RateLimitWindow: time.Minute})

	for i := 0; i < 2; i++ {
		w, _ := do(t, runtime.Handler, http.MethodPost, "/api/verify", `{"code":"ALPHA-1000-ZULU"}`)
		assert.Equal(t, http.StatusNotFound, w.Code, "attempt %d is within the limit", i+1)
	}

	w, body := do(t, runtime.Handler, http.MethodPost, "/api/verify", `{"code":"ALPHA-1000-ZULU"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "too many attempts", body["error"])
}

func TestVerifyValidation(t *testing.T) {
	runtime := buildTestRuntime(t, Config{})

	w, _ := do(t, runtime.Handler, http.MethodPost, "/api/verify", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := do(t, runtime.Handler, http.MethodPost, "/api/verify", `{"code":"BOGUS-0000-CODE"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["valid"])
}

func TestHealthEndpoint(t *testing.T) {
	runtime := buildTestRuntime(t, Config{})

	w, body := do(t, runtime.Handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestCleanupEndpointAuth(t *testing.T) {
	// Without a secret the endpoint does not exist.
	runtime := buildTestRuntime(t, Config{})
	w, _ := do(t, runtime.Handler, http.MethodGet, "/internal/maintenance/cleanup", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	secured := buildTestRuntime(t, Config{CronSecret: "cron-secret"})

	w, _ = do(t, secured.Handler, http.MethodGet, "/internal/maintenance/cleanup", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	r.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	secured.Handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
