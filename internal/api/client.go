// Package api is the REST client for the hazard backend. It covers the two
// engine-facing endpoints: marker fetch by radius and validation submit.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/accesspath/tracking/internal/config"
	"github.com/accesspath/tracking/internal/geo"
	"github.com/accesspath/tracking/internal/model"
)

// Client handles communication with the hazard backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client. fetchTimeout bounds every request
// round-trip; callers may impose a shorter deadline via context.
func New(cfg config.APIConfig, fetchTimeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// Healthcheck checks if the backend is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// FetchMarkers returns all hazard markers within radiusMeters of the given
// position. Timeouts map to model.ErrFetchTimeout, every other failure to
// model.ErrFetch, so callers can keep serving the previous snapshot.
func (c *Client) FetchMarkers(ctx context.Context, lat, lon, radiusMeters float64) ([]model.Marker, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radiusMeters, 'f', -1, 64))

	// The backend's spatial filter works in EPSG 3857; send the projected
	// bounding box alongside the center so it can skip the reprojection.
	if minX, minY, maxX, maxY, err := geo.BBox3857(lat, lon, radiusMeters); err == nil {
		q.Set("bbox", strings.Join([]string{
			strconv.FormatFloat(minX, 'f', 2, 64),
			strconv.FormatFloat(minY, 'f', 2, 64),
			strconv.FormatFloat(maxX, 'f', 2, 64),
			strconv.FormatFloat(maxY, 'f', 2, 64),
		}, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/markers?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", model.ErrFetchTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", model.ErrFetch, resp.StatusCode)
	}

	var markers []model.Marker
	if err := json.NewDecoder(resp.Body).Decode(&markers); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", model.ErrFetch, err)
	}
	return markers, nil
}

type validatePayload struct {
	Response string `json:"response"`
}

// SubmitValidation reports the user's answer for one marker. Failures map
// to model.ErrSubmit and never reach the prompt flow.
func (c *Client) SubmitValidation(ctx context.Context, markerID string, response model.ValidationResponse) error {
	body, err := json.Marshal(validatePayload{Response: string(response)})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := c.baseURL + "/api/v1/markers/" + url.PathEscape(markerID) + "/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSubmit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", model.ErrSubmit, resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
