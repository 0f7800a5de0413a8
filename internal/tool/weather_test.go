package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeather_FetchesForecast(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"latitude":  r.URL.Query().Get("latitude"),
			"longitude": r.URL.Query().Get("longitude"),
			"current":   r.URL.Query().Get("current"),
			"timezone":  r.URL.Query().Get("timezone"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current": {"temperature_2m": 21.5}}`))
	}))
	t.Cleanup(srv.Close)

	weather, err := NewWeather(srv.URL)
	require.NoError(t, err)

	raw, _ := json.Marshal(WeatherInput{Latitude: 40.7128, Longitude: -74.006})
	out, err := weather.Run(context.Background(), nil, raw)
	require.NoError(t, err)

	assert.Equal(t, "40.7128", gotQuery["latitude"])
	assert.Equal(t, "-74.006", gotQuery["longitude"])
	assert.Equal(t, "temperature_2m", gotQuery["current"])
	assert.Equal(t, "auto", gotQuery["timezone"])

	data, ok := out.(map[string]any)
	require.True(t, ok)
	current, ok := data["current"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 21.5, current["temperature_2m"])
}

func TestWeather_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	weather, err := NewWeather(srv.URL)
	require.NoError(t, err)

	raw, _ := json.Marshal(WeatherInput{Latitude: 0, Longitude: 0})
	_, err = weather.Run(context.Background(), nil, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestWeather_MalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(srv.Close)

	weather, err := NewWeather(srv.URL)
	require.NoError(t, err)

	raw, _ := json.Marshal(WeatherInput{Latitude: 1, Longitude: 2})
	_, err = weather.Run(context.Background(), nil, raw)
	require.Error(t, err)
}
