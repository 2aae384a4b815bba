package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryon/internal/identity"
)

func TestLoggerRecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	flushed := false
	h := RequestID(Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok, "wrapped writer must keep http.Flusher")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("brew"))
		f.Flush()
		flushed = true
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/tryon", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req = req.WithContext(identity.WithUserID(req.Context(), "user-1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, flushed)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "/v1/tryon", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, 4, entry["bytes"])
}
