package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
)

const weatherResponseLimit = 1 << 20 // 1 MB

// WeatherInput locates the forecast request.
type WeatherInput struct {
	Latitude  float64 `json:"latitude" jsonschema:"Latitude of the location"`
	Longitude float64 `json:"longitude" jsonschema:"Longitude of the location"`
}

// Weather fetches the current forecast from an Open-Meteo compatible
// endpoint. Failures surface as error results, never as turn failures.
type Weather struct {
	endpoint string
	client   *http.Client
	def      *ai.ToolDefinition
	resolved *jsonschema.Resolved
}

// NewWeather creates the weather tool against the given endpoint.
func NewWeather(endpoint string) (*Weather, error) {
	def, resolved, err := definition[WeatherInput]("getWeather",
		"Get the current weather at a location")
	if err != nil {
		return nil, err
	}
	return &Weather{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		def:      def,
		resolved: resolved,
	}, nil
}

func (w *Weather) Name() string { return "getWeather" }

func (w *Weather) Definition() *ai.ToolDefinition { return w.def }

func (w *Weather) Run(ctx context.Context, _ *Binding, raw json.RawMessage) (any, error) {
	input, err := decodeInput[WeatherInput](w.resolved, raw)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(input.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(input.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("hourly", "temperature_2m")
	q.Set("daily", "sunrise,sunset")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building weather request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, weatherResponseLimit))
	if err != nil {
		return nil, fmt.Errorf("reading weather response: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decoding weather response: %w", err)
	}
	return data, nil
}
