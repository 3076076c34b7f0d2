package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ellavondegurechaff/redpacket/redpacket/metrics"
	"github.com/ellavondegurechaff/redpacket/redpacket/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProcesses []utils.ProcessInfo

func (s staticProcesses) ListProcesses() []utils.ProcessInfo { return s }

func TestHealthz(t *testing.T) {
	procs := staticProcesses{{Name: "lifecycle", Description: "sweeps"}}

	tests := []struct {
		name   string
		check  HealthFunc
		code   int
		status string
	}{
		{
			name:   "healthy",
			check:  func(context.Context) error { return nil },
			code:   http.StatusOK,
			status: "ok",
		},
		{
			name:   "store down",
			check:  func(context.Context) error { return errors.New("pgx pool ping failed") },
			code:   http.StatusServiceUnavailable,
			status: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(NewRouter(prometheus.NewRegistry(), tt.check, procs))
			defer server.Close()

			resp, err := http.Get(server.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.code, resp.StatusCode)
			var body health
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			require.Len(t, body.Processes, 1)
			assert.Equal(t, "lifecycle", body.Processes[0].Name)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg, "redpacket")
	collector.RecordGrab("success", 0.002)

	server := httptest.NewServer(NewRouter(reg, func(context.Context) error { return nil }, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "redpacket_grab_requests_total")
}
