package openmeteo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/weather"
	"github.com/saferoute/saferoute/internal/weather/openmeteo"
)

const currentBody = `{
  "latitude": 13.08,
  "longitude": 80.27,
  "current_weather": {
    "temperature": 29.4,
    "windspeed": 11.2,
    "winddirection": 140,
    "weathercode": 63,
    "is_day": 0,
    "time": "2024-03-01T21:30"
  }
}`

func TestClient_GetCurrentWeather(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "13.0827", q.Get("latitude"))
		assert.Equal(t, "80.2707", q.Get("longitude"))
		assert.Equal(t, "true", q.Get("current_weather"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(currentBody))
	}))
	defer server.Close()

	fetched := time.Date(2024, 3, 1, 21, 35, 0, 0, time.UTC)
	client := openmeteo.NewClient(openmeteo.ClientConfig{
		BaseURL: server.URL,
		Now:     func() time.Time { return fetched },
	})

	loc := geo.Coordinate{Lat: 13.0827, Lon: 80.2707}
	obs, err := client.GetCurrentWeather(context.Background(), loc)
	require.NoError(t, err)

	assert.Equal(t, loc, obs.Location)
	assert.Equal(t, 63, obs.Code)
	assert.Equal(t, 29.4, obs.Temperature)
	assert.Equal(t, 11.2, obs.WindSpeed)
	assert.False(t, obs.IsDay)
	assert.Equal(t, time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC), obs.ObservedAt)
	assert.Equal(t, fetched, obs.FetchedAt)
	assert.Equal(t, safety.WeatherRainy, obs.Condition())
}

func TestClient_ErrorReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": true, "reason": "Latitude must be in range of -90 to 90°."}`))
	}))
	defer server.Close()

	client := openmeteo.NewClient(openmeteo.ClientConfig{BaseURL: server.URL})

	_, err := client.GetCurrentWeather(context.Background(), geo.Coordinate{Lat: 13, Lon: 80})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Latitude must be in range")
}

func TestClient_MissingCurrentWeather(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"latitude": 13.08, "longitude": 80.27}`))
	}))
	defer server.Close()

	client := openmeteo.NewClient(openmeteo.ClientConfig{BaseURL: server.URL})

	_, err := client.GetCurrentWeather(context.Background(), geo.Coordinate{Lat: 13, Lon: 80})
	assert.ErrorIs(t, err, weather.ErrNoDataForLocation)
}

func TestClient_Name(t *testing.T) {
	assert.Equal(t, "open-meteo", openmeteo.NewClient(openmeteo.ClientConfig{}).Name())
}
