package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesspath/tracking/internal/config"
	"github.com/accesspath/tracking/internal/model"
)

func newClient(baseURL string) *Client {
	return New(config.APIConfig{BaseURL: baseURL, Token: "test-token"}, 10*time.Second)
}

func TestFetchMarkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/markers", r.URL.Path)
		assert.Equal(t, "52.52", r.URL.Query().Get("lat"))
		assert.Equal(t, "13.405", r.URL.Query().Get("lon"))
		assert.Equal(t, "1000", r.URL.Query().Get("radius"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		// Projected bbox rides along as minX,minY,maxX,maxY in EPSG 3857.
		bbox := strings.Split(r.URL.Query().Get("bbox"), ",")
		require.Len(t, bbox, 4)
		minX, err := strconv.ParseFloat(bbox[0], 64)
		require.NoError(t, err)
		maxX, err := strconv.ParseFloat(bbox[2], 64)
		require.NoError(t, err)
		assert.Less(t, minX, maxX)

		_ = json.NewEncoder(w).Encode([]model.Marker{
			{ID: "m1", Latitude: 52.5201, Longitude: 13.4051, ObstacleType: model.ObstacleStairs, ObstacleScore: 4},
			{ID: "m2", Latitude: 52.5205, Longitude: 13.4060, ObstacleType: model.ObstacleConstruction, ObstacleScore: 3},
		})
	}))
	defer srv.Close()

	markers, err := newClient(srv.URL).FetchMarkers(context.Background(), 52.52, 13.405, 1000)
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, "m1", markers[0].ID)
	assert.Equal(t, model.ObstacleStairs, markers[0].ObstacleType)
	assert.Equal(t, 4, markers[0].ObstacleScore)
}

func TestFetchMarkersServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).FetchMarkers(context.Background(), 52.52, 13.405, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFetch)
	assert.NotErrorIs(t, err, model.ErrFetchTimeout)
}

func TestFetchMarkersTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newClient(srv.URL).FetchMarkers(ctx, 52.52, 13.405, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFetchTimeout)
}

func TestFetchMarkersUnreachable(t *testing.T) {
	_, err := newClient("http://127.0.0.1:1").FetchMarkers(context.Background(), 52.52, 13.405, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFetch)
}

func TestSubmitValidation(t *testing.T) {
	var gotPath, gotResponse string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload struct {
			Response string `json:"response"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotResponse = payload.Response
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newClient(srv.URL).SubmitValidation(context.Background(), "m1", model.ResponseConfirmed)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/markers/m1/validate", gotPath)
	assert.Equal(t, "confirmed", gotResponse)
}

func TestSubmitValidationServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newClient(srv.URL).SubmitValidation(context.Background(), "m1", model.ResponseDenied)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSubmit)
}

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck", r.URL.Path)
	}))
	defer srv.Close()

	assert.NoError(t, newClient(srv.URL).Healthcheck(context.Background()))
}
