package tripapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/tripsync/internal/common"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  baseURL,
		Token:    "primary-token",
		Email:    "ops@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return c
}

func tripPayload(attrs map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"data": map[string]any{"attributes": attrs},
	})
	return body
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "token only", cfg: Config{BaseURL: "http://x", Token: "t"}},
		{name: "credentials only", cfg: Config{BaseURL: "http://x", Email: "e", Password: "p"}},
		{name: "missing base URL", cfg: Config{Token: "t"}, wantErr: true},
		{name: "no credentials at all", cfg: Config{BaseURL: "http://x"}, wantErr: true},
		{name: "email without password", cfg: Config{BaseURL: "http://x", Email: "e"}, wantErr: true},
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

func TestFetchTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer primary-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/trips/trip-1", r.URL.Path)

		_, _ = w.Write(tripPayload(map[string]any{
			"calculatedDistance": 12.5,
			"lowGpsAccuracy":     false,
			"coordinates":        [][]float64{{13.4, 52.5}, {13.5, 52.6}},
			"activity": []map[string]any{
				{"action": "trip_started", "actor": "driver-9", "createdAt": "2026-03-01T10:00:00Z"},
				{"action": "trip_ended", "actor": "driver-9", "createdAt": "2026-03-01T10:30:00Z"},
			},
		}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	details, err := client.FetchTrip(context.Background(), "trip-1")
	require.NoError(t, err)

	require.NotNil(t, details.CalculatedDistance)
	assert.Equal(t, 12.5, *details.CalculatedDistance)

	require.NotNil(t, details.LowAccuracy)
	assert.False(t, *details.LowAccuracy)

	// Coordinates arrive as [lng, lat] pairs.
	require.Len(t, details.Coordinates, 2)
	assert.Equal(t, 52.5, details.Coordinates[0].Lat)
	assert.Equal(t, 13.4, details.Coordinates[0].Lng)

	require.NotNil(t, details.CompletedBy)
	assert.Equal(t, "driver-9", *details.CompletedBy)

	require.NotNil(t, details.AutoEnded)
	assert.False(t, *details.AutoEnded)

	require.NotNil(t, details.TripTime)
	assert.Equal(t, 1800.0, *details.TripTime)
}

func TestFetchTrip_DistanceAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(tripPayload(map[string]any{"calculatedDistance": "7.25"}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	details, err := client.FetchTrip(context.Background(), "trip-1")
	require.NoError(t, err)
	require.NotNil(t, details.CalculatedDistance)
	assert.Equal(t, 7.25, *details.CalculatedDistance)
}

func TestFetchTrip_MissingDistanceIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(tripPayload(map[string]any{
			"coordinates": [][]float64{{13.4, 52.5}, {13.5, 52.6}},
		}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	details, err := client.FetchTrip(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Nil(t, details.CalculatedDistance)
	assert.Len(t, details.Coordinates, 2)
}

func TestFetchTrip_AutoEndedFromActivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(tripPayload(map[string]any{
			"activity": []map[string]any{
				{"action": "trip_started", "actor": "driver-9", "createdAt": "2026-03-01T10:00:00Z"},
				{"action": "trip_auto_ended", "actor": "system", "createdAt": "2026-03-01T11:00:00Z"},
			},
		}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	details, err := client.FetchTrip(context.Background(), "trip-1")
	require.NoError(t, err)

	require.NotNil(t, details.AutoEnded)
	assert.True(t, *details.AutoEnded)
	require.NotNil(t, details.CompletedBy)
	assert.Equal(t, "system", *details.CompletedBy)
}

func TestFetchTrip_FailoverOnUnauthorized(t *testing.T) {
	var signIns atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/sign_in":
			var body struct {
				AdminUser struct {
					Email    string `json:"email"`
					Password string `json:"password"`
				} `json:"admin_user"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ops@example.com", body.AdminUser.Email)
			assert.Equal(t, "hunter2", body.AdminUser.Password)

			signIns.Add(1)
			_, _ = w.Write([]byte(`{"token":"alternate-token"}`))
		case r.Header.Get("Authorization") == "Bearer alternate-token":
			_, _ = w.Write(tripPayload(map[string]any{"calculatedDistance": 3.0}))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	details, err := client.FetchTrip(context.Background(), "trip-1")
	require.NoError(t, err)
	require.NotNil(t, details.CalculatedDistance)
	assert.Equal(t, 3.0, *details.CalculatedDistance)
	assert.Equal(t, int32(1), signIns.Load())

	// The alternate token is cached; a second fetch signs in no further.
	_, err = client.FetchTrip(context.Background(), "trip-2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), signIns.Load())
}

func TestFetchTrip_BothCredentialsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign_in" {
			_, _ = w.Write([]byte(`{"token":"alternate-token"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchTrip(context.Background(), "trip-1")
	assert.ErrorIs(t, err, common.ErrAuthFailed)
}

func TestFetchTrip_SignInRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/sign_in" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchTrip(context.Background(), "trip-1")
	assert.ErrorIs(t, err, common.ErrAuthFailed)
}

func TestFetchTrip_FailoverOnNetworkError(t *testing.T) {
	// The primary base URL points at a dead server, so the first request
	// fails at the network level; failover then signs in against the same
	// dead endpoint and surfaces a transient error rather than panicking.
	dead := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	dead.Close()

	client := newTestClient(t, dead.URL)
	client.httpClient.Timeout = 500 * time.Millisecond

	_, err := client.FetchTrip(context.Background(), "trip-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTransient)
}

func TestFetchTrip_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchTrip(context.Background(), "trip-1")
	assert.ErrorIs(t, err, common.ErrUpstreamServer)
}

func TestFetchCoordinateCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trips/trip-1/coordinates", r.URL.Path)
		_, _ = w.Write(tripPayload(map[string]any{
			"coordinates": [][]float64{{1, 2}, {3, 4}, {5, 6}},
		}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	count, err := client.FetchCoordinateCount(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{name: "number", raw: `12.5`, want: 12.5, ok: true},
		{name: "quoted number", raw: `"7.25"`, want: 7.25, ok: true},
		{name: "quoted with spaces", raw: `" 3.5 "`, want: 3.5, ok: true},
		{name: "null", raw: `null`, ok: false},
		{name: "empty string", raw: `""`, ok: false},
		{name: "garbage string", raw: `"n/a"`, ok: false},
		{name: "absent", raw: ``, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDistance(json.RawMessage(tt.raw))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
