package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/service"
)

func newTestWarehouse(t *testing.T, baseURL string, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		URL:        baseURL,
		Username:   "analyst",
		Password:   "hunter2",
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	return c
}

// sessionHandler answers the session endpoint with sequential tokens and
// counts how many times authentication happened.
func sessionHandler(count *atomic.Int32) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		n := count.Add(1)
		_, _ = fmt.Fprintf(w, `{"id":"sess-%d"}`, n)
	}
}

func rowsColsBody() string {
	return `{"data":{
		"rows":[["p1","pickup",1.0],["p2","dropoff",2.0]],
		"cols":[{"name":"id"},{"name":"type"},{"name":"distance"}]
	}}`
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "complete", cfg: Config{URL: "http://x", Username: "u", Password: "p"}},
		{name: "missing URL", cfg: Config{Username: "u", Password: "p"}, wantErr: true},
		{name: "missing username", cfg: Config{URL: "http://x", Password: "p"}, wantErr: true},
		{name: "missing password", cfg: Config{URL: "http://x", Username: "u"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrMissingConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunQuery(t *testing.T) {
	var sessions atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", sessionHandler(&sessions))
	mux.HandleFunc("/api/card/7/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-1", r.Header.Get("X-Metabase-Session"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Parameters []map[string]any `json:"parameters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Parameters, 1)
		assert.Equal(t, "trip-1", body.Parameters[0]["value"])

		_, _ = w.Write([]byte(rowsColsBody()))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestWarehouse(t, server.URL, 3)

	rows, err := client.RunQuery(context.Background(), 7, []service.QueryParameter{
		{Value: "trip-1", Type: "category", Target: []any{"variable", []any{"template-tag", "trip_id"}}},
	})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "p1", rows[0]["id"])
	assert.Equal(t, "pickup", rows[0]["type"])
	assert.Equal(t, 2.0, rows[1]["distance"])
	assert.Equal(t, int32(1), sessions.Load())
}

func TestRunQuery_ReauthenticatesOn401(t *testing.T) {
	var sessions atomic.Int32
	var queries atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", sessionHandler(&sessions))
	mux.HandleFunc("/api/card/7/query", func(w http.ResponseWriter, r *http.Request) {
		if queries.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		// The retry must carry the refreshed session.
		assert.Equal(t, "sess-2", r.Header.Get("X-Metabase-Session"))
		_, _ = w.Write([]byte(rowsColsBody()))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestWarehouse(t, server.URL, 3)

	rows, err := client.RunQuery(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(2), sessions.Load())
}

func TestRunQuery_SessionRejectedTwice(t *testing.T) {
	var sessions atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", sessionHandler(&sessions))
	mux.HandleFunc("/api/card/7/query", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestWarehouse(t, server.URL, 3)

	_, err := client.RunQuery(context.Background(), 7, nil)
	assert.ErrorIs(t, err, common.ErrAuthFailed)
}

func TestRunQuery_RetriesWithoutParametersOnServerError(t *testing.T) {
	var sessions atomic.Int32
	var paramCounts []int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", sessionHandler(&sessions))
	mux.HandleFunc("/api/card/7/query", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Parameters []map[string]any `json:"parameters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		paramCounts = append(paramCounts, len(body.Parameters))

		if len(body.Parameters) > 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(rowsColsBody()))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	// One attempt per call keeps the backoff sleeps short.
	client := newTestWarehouse(t, server.URL, 1)

	rows, err := client.RunQuery(context.Background(), 7, []service.QueryParameter{
		{Value: "trip-1", Type: "category"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, []int{1, 0}, paramCounts)
}

func TestRunQuery_BadRequestIsNotRetried(t *testing.T) {
	var sessions atomic.Int32
	var queries atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", sessionHandler(&sessions))
	mux.HandleFunc("/api/card/7/query", func(w http.ResponseWriter, _ *http.Request) {
		queries.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestWarehouse(t, server.URL, 3)

	_, err := client.RunQuery(context.Background(), 7, nil)
	assert.ErrorIs(t, err, common.ErrNoData)
	assert.Equal(t, int32(1), queries.Load())
}

func TestRunExport(t *testing.T) {
	var sessions atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", sessionHandler(&sessions))
	mux.HandleFunc("/api/card/9/query/json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		var params []map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.PostFormValue("parameters")), &params))
		require.Len(t, params, 1)
		assert.Equal(t, "trip-1", params[0]["value"])

		_, _ = w.Write([]byte(`[{"id":"p1","type":"pickup"},{"id":"p2","type":"dropoff"}]`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestWarehouse(t, server.URL, 3)

	rows, err := client.RunExport(context.Background(), 9, []service.QueryParameter{
		{Value: "trip-1", Type: "category"},
	}, "json")
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "p1", rows[0]["id"])
	assert.Equal(t, "dropoff", rows[1]["type"])
}

func TestRunExport_RowsColsFallback(t *testing.T) {
	var sessions atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", sessionHandler(&sessions))
	mux.HandleFunc("/api/card/9/query/json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rowsColsBody()))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestWarehouse(t, server.URL, 3)

	rows, err := client.RunExport(context.Background(), 9, nil, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pickup", rows[0]["type"])
}

func TestZipRows(t *testing.T) {
	var qr queryResponse
	require.NoError(t, json.Unmarshal([]byte(`{"data":{
		"rows":[["a",1],["b"]],
		"cols":[{"name":"id"},{"name":"n"}]
	}}`), &qr))

	rows := zipRows(qr)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["id"])
	assert.Equal(t, 1.0, rows[0]["n"])

	// A short row simply omits the trailing columns.
	assert.Equal(t, "b", rows[1]["id"])
	_, ok := rows[1]["n"]
	assert.False(t, ok)
}
