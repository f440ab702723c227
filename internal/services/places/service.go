package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

const (
	// DefaultBaseURL is the base URL for the Google Maps web services.
	DefaultBaseURL = "https://maps.googleapis.com/maps/api"

	// DefaultRadiusMeters is the fixed text search bias radius.
	DefaultRadiusMeters = 20000

	geocodePath    = "/geocode/json"
	textSearchPath = "/place/textsearch/json"
)

// Client implements interfaces.MapsClient against the Google Maps web services
type Client struct {
	baseURL      string
	apiKey       string
	radiusMeters int
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       arbor.ILogger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limiter.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithRadius overrides the text search radius in meters.
func WithRadius(meters int) ClientOption {
	return func(c *Client) {
		if meters > 0 {
			c.radiusMeters = meters
		}
	}
}

// NewClient creates a new Google Maps client
func NewClient(apiKey string, logger arbor.ILogger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		apiKey:       apiKey,
		radiusMeters: DefaultRadiusMeters,
		// No client timeout: requests end when their context is cancelled
		httpClient: &http.Client{},
		logger:     logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewClientWithTimeout is NewClient with an explicit transport timeout
func NewClientWithTimeout(apiKey string, timeout time.Duration, logger arbor.ILogger, opts ...ClientOption) *Client {
	opts = append([]ClientOption{WithHTTPClient(&http.Client{Timeout: timeout})}, opts...)
	return NewClient(apiKey, logger, opts...)
}

var _ interfaces.MapsClient = (*Client)(nil)

// ReverseGeocode converts a coordinate into place candidates.
// Only status OK is a success; ZERO_RESULTS is reported as a failure here.
func (c *Client) ReverseGeocode(ctx context.Context, coord models.Coordinate) ([]models.PlaceCandidate, error) {
	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%v,%v", coord.Latitude, coord.Longitude))

	var apiResp GeocodeResponse
	if err := c.get(ctx, geocodePath, params, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrGeocodeFailed, err)
	}

	if apiResp.Status != StatusOK {
		return nil, fmt.Errorf("%w: %w", models.ErrGeocodeFailed, &models.APIError{
			Endpoint: geocodePath,
			Status:   apiResp.Status,
			Message:  apiResp.ErrorMessage,
		})
	}

	c.logger.Debug().
		Float64("latitude", coord.Latitude).
		Float64("longitude", coord.Longitude).
		Int("results_count", len(apiResp.Results)).
		Msg("Reverse geocode completed")

	return toCandidates(apiResp.Results), nil
}

// TextSearch runs one page of a text search.
// OK and ZERO_RESULTS are both successful; an empty page is not an error.
func (c *Client) TextSearch(ctx context.Context, req interfaces.TextSearchRequest) (*models.SearchPage, error) {
	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("radius", strconv.Itoa(c.radiusMeters))
	if req.Near != nil {
		params.Set("location", fmt.Sprintf("%v,%v", req.Near.Latitude, req.Near.Longitude))
	}
	if req.PageToken != "" {
		params.Set("pagetoken", req.PageToken)
	}

	var apiResp TextSearchResponse
	if err := c.get(ctx, textSearchPath, params, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrPlaceSearchFailed, err)
	}

	if apiResp.Status != StatusOK && apiResp.Status != StatusZeroResults {
		return nil, fmt.Errorf("%w: %w", models.ErrPlaceSearchFailed, &models.APIError{
			Endpoint: textSearchPath,
			Status:   apiResp.Status,
			Message:  apiResp.ErrorMessage,
		})
	}

	// Log sample place names for debugging search relevance
	samplePlaces := []string{}
	for i, place := range apiResp.Results {
		if i < 3 {
			samplePlaces = append(samplePlaces, place.Name)
		}
	}

	c.logger.Debug().
		Str("search_query", req.Query).
		Bool("paged", req.PageToken != "").
		Int("results_count", len(apiResp.Results)).
		Str("status", apiResp.Status).
		Strs("sample_places", samplePlaces).
		Msg("Text search completed")

	return &models.SearchPage{
		Results:       toCandidates(apiResp.Results),
		NextPageToken: apiResp.NextPageToken,
		Status:        apiResp.Status,
	}, nil
}

// get performs a GET request against the API and decodes the JSON body
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	params.Set("key", c.apiKey)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", redactKey(reqURL)).Msg("Calling Google Maps API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call Google Maps API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &models.APIError{
			Endpoint:   path,
			HTTPStatus: resp.StatusCode,
			Message:    string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode API response: %w", err)
	}

	return nil
}

// redactKey hides the API key before a URL is logged
func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("key") != "" {
		q.Set("key", "***REDACTED***")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
