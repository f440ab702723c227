package places

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

const geocodeOK = `{
  "status": "OK",
  "results": [
    {
      "formatted_address": "Jl. Sudirman, Jakarta",
      "place_id": "abc",
      "types": ["route"],
      "geometry": {"location": {"lat": -6.2, "lng": 106.8}},
      "address_components": [
        {"long_name": "Jalan Sudirman", "short_name": "Jl. Sudirman", "types": ["route"]},
        {"long_name": "Kota Jakarta Pusat", "short_name": "Jakarta Pusat", "types": ["administrative_area_level_2", "political"]}
      ]
    }
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("test-key", arbor.NewLogger(), WithBaseURL(server.URL), WithRateLimit(0))
}

func TestReverseGeocode_OK(t *testing.T) {
	var gotPath, gotLatLng, gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLatLng = r.URL.Query().Get("latlng")
		gotKey = r.URL.Query().Get("key")
		w.Write([]byte(geocodeOK))
	})

	candidates, err := client.ReverseGeocode(context.Background(), models.Coordinate{Latitude: -6.2, Longitude: 106.8})
	require.NoError(t, err)

	assert.Equal(t, "/geocode/json", gotPath)
	assert.Equal(t, "-6.2,106.8", gotLatLng)
	assert.Equal(t, "test-key", gotKey)

	require.Len(t, candidates, 1)
	assert.Equal(t, "Jl. Sudirman, Jakarta", candidates[0].FormattedAddress)
	require.NotNil(t, candidates[0].Geometry)
	assert.Equal(t, -6.2, candidates[0].Geometry.Latitude)
	c, ok := candidates[0].Component(models.TypeAdminAreaLevel2)
	require.True(t, ok)
	assert.Equal(t, "Jakarta Pusat", c.ShortName)
}

func TestReverseGeocode_ZeroResultsIsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	_, err := client.ReverseGeocode(context.Background(), models.Coordinate{Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGeocodeFailed)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ZERO_RESULTS", apiErr.Status)
}

func TestReverseGeocode_HTTPFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.ReverseGeocode(context.Background(), models.Coordinate{Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGeocodeFailed)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus)
}

func TestReverseGeocode_CancelledContext(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.ReverseGeocode(ctx, models.Coordinate{Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.True(t, models.IsCancelled(err))
}

func TestTextSearch_ParametersAndZeroResults(t *testing.T) {
	var query map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/place/textsearch/json", r.URL.Path)
		q := r.URL.Query()
		query = map[string]string{
			"query":     q.Get("query"),
			"location":  q.Get("location"),
			"radius":    q.Get("radius"),
			"pagetoken": q.Get("pagetoken"),
		}
		w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	near := models.Coordinate{Latitude: -6.2, Longitude: 106.8}
	page, err := client.TextSearch(context.Background(), interfaces.TextSearchRequest{
		Query:     "monas",
		Near:      &near,
		PageToken: "T",
	})
	require.NoError(t, err)

	assert.Equal(t, "ZERO_RESULTS", page.Status)
	assert.Empty(t, page.Results)
	assert.Equal(t, "monas", query["query"])
	assert.Equal(t, "-6.2,106.8", query["location"])
	assert.Equal(t, "20000", query["radius"])
	assert.Equal(t, "T", query["pagetoken"])
}

func TestTextSearch_NoNearOmitsLocation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("location"))
		assert.False(t, r.URL.Query().Has("pagetoken"))
		w.Write([]byte(`{"status":"OK","results":[{"name":"Monas","place_id":"p1"}],"next_page_token":"NEXT"}`))
	})

	page, err := client.TextSearch(context.Background(), interfaces.TextSearchRequest{Query: "monas"})
	require.NoError(t, err)
	assert.Equal(t, "NEXT", page.NextPageToken)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Monas", page.Results[0].Name)
}

func TestTextSearch_BadStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"INVALID_REQUEST","error_message":"bad token","results":[]}`))
	})

	_, err := client.TextSearch(context.Background(), interfaces.TextSearchRequest{Query: "x", PageToken: "stale"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPlaceSearchFailed)
	assert.Contains(t, err.Error(), "bad token")
}

func TestRedactKey(t *testing.T) {
	redacted := redactKey("https://maps.example.com/geocode/json?key=secret&latlng=1%2C1")
	assert.NotContains(t, redacted, "secret")
	assert.Contains(t, redacted, "REDACTED")
}
