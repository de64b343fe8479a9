package dummy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Endpoints(t *testing.T) {
	srv := httptest.NewServer(Handler(ServerConfig{BaselineLatency: 5 * time.Millisecond}))
	defer srv.Close()

	for _, path := range []string{"/", "/fast", "/health", "/test/baseline"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestHandler_BaselineJSON(t *testing.T) {
	srv := httptest.NewServer(Handler(ServerConfig{BaselineLatency: 20 * time.Millisecond}))
	defer srv.Close()

	start := time.Now()
	resp, err := http.Get(srv.URL + "/test/baseline")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandler_ErrorRate(t *testing.T) {
	srv := httptest.NewServer(Handler(ServerConfig{ErrorRate: 1}))
	defer srv.Close()

	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/error")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	}
}
