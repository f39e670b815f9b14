package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/api"
	"github.com/drover-io/drover/pkg/types"
)

// stubServer records the last request and replies with a fixed status
// and JSON body.
func stubServer(t *testing.T, status int, body any, lastReq **http.Request) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lastReq != nil {
			clone := *r
			clone.URL = r.URL
			*lastReq = &clone
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestSubmitJob(t *testing.T) {
	var decoded api.SubmitRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))

		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(api.SubmitResponse{
			JobID:      7,
			State:      types.JobStatePending,
			SubmitTime: time.Now().UTC(),
		}))
	}))
	defer ts.Close()

	c := New(ts.URL)
	resp, err := c.SubmitJob(context.Background(), &api.SubmitRequest{
		Name:        "train",
		Account:     "research",
		Script:      "#!/bin/bash\ntrue\n",
		CPUsPerTask: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), resp.JobID)
	assert.Equal(t, types.JobStatePending, resp.State)
	assert.Equal(t, "train", decoded.Name)
	assert.Equal(t, 4, decoded.CPUsPerTask)
}

func TestGetJobNotFound(t *testing.T) {
	ts := stubServer(t, http.StatusNotFound, map[string]string{"error": "job not found"}, nil)

	c := New(ts.URL)
	_, err := c.GetJob(context.Background(), 42)
	require.Error(t, err)

	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "job not found", apiErr.Message)
}

func TestListJobsQuery(t *testing.T) {
	tests := []struct {
		name      string
		opts      ListOptions
		wantQuery map[string]string
	}{
		{
			name:      "no filters",
			opts:      ListOptions{},
			wantQuery: map[string]string{},
		},
		{
			name:      "state and limit",
			opts:      ListOptions{State: "running", Limit: 50},
			wantQuery: map[string]string{"state": "running", "limit": "50"},
		},
		{
			name:      "account",
			opts:      ListOptions{Account: "alice"},
			wantQuery: map[string]string{"account": "alice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lastReq *http.Request
			ts := stubServer(t, http.StatusOK, api.ListJobsResponse{Jobs: []*api.JobView{}, Count: 0}, &lastReq)

			c := New(ts.URL)
			_, err := c.ListJobs(context.Background(), tt.opts)
			require.NoError(t, err)

			require.NotNil(t, lastReq)
			assert.Equal(t, "/api/v1/jobs", lastReq.URL.Path)
			got := lastReq.URL.Query()
			assert.Len(t, got, len(tt.wantQuery))
			for k, v := range tt.wantQuery {
				assert.Equal(t, v, got.Get(k))
			}
		})
	}
}

func TestCancelJob(t *testing.T) {
	var lastReq *http.Request
	ts := stubServer(t, http.StatusOK, api.CancelResponse{JobID: 9, State: types.JobStateCancelled}, &lastReq)

	c := New(ts.URL)
	resp, err := c.CancelJob(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, http.MethodDelete, lastReq.Method)
	assert.Equal(t, "/api/v1/jobs/9", lastReq.URL.Path)
	assert.Equal(t, types.JobStateCancelled, resp.State)
}

func TestReadyDecodesNotReady(t *testing.T) {
	ts := stubServer(t, http.StatusServiceUnavailable, api.ReadyResponse{
		Status:    "not ready",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"database": "ok", "redis": "error: connection refused"},
	}, nil)

	c := New(ts.URL)
	resp, err := c.Ready(context.Background())
	require.NoError(t, err, "503 from /ready is an answer, not a failure")

	assert.Equal(t, "not ready", resp.Status)
	assert.Contains(t, resp.Checks["redis"], "error")
}

func TestErrorFallsBackToStatusText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream exploded</html>"))
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.GetJob(context.Background(), 1)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestBaseURLTrailingSlash(t *testing.T) {
	var lastReq *http.Request
	ts := stubServer(t, http.StatusOK, api.HealthResponse{Status: "healthy"}, &lastReq)

	c := New(ts.URL + "/")
	_, err := c.Health(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/health", lastReq.URL.Path)
}
