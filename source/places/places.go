// Package places implements the paginated places-API adapter.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"citypulse/config"
	"citypulse/models"
	"citypulse/utils"
)

const (
	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"

	detailFields = "formatted_phone_number,website,opening_hours"
)

// Client fetches place pages from the upstream nearby-search API.
//
// The upstream mandates a fixed delay before a continuation cursor may be
// reused; the client enforces that itself through a RateGate, so callers can
// page as fast as they like.
type Client struct {
	baseURL string
	apiKey  string
	lat     float64
	lng     float64
	radius  int

	http   *http.Client
	gate   *utils.RateGate
	logger *utils.Logger
}

// New creates a Client from the application config.
func New(cfg *config.Config, logger *utils.Logger) *Client {
	return &Client{
		baseURL: cfg.PlacesBaseURL,
		apiKey:  cfg.PlacesAPIKey,
		lat:     cfg.Lat,
		lng:     cfg.Lng,
		radius:  cfg.RadiusMeters,
		http:    &http.Client{Timeout: cfg.FetchTimeout},
		gate:    utils.NewRateGate(cfg.PageDelay),
		logger:  logger,
	}
}

type searchResponse struct {
	Results       []models.RawPlace `json:"results"`
	Status        string            `json:"status"`
	NextPageToken string            `json:"next_page_token"`
}

type detailResponse struct {
	Result models.RawPlaceDetail `json:"result"`
	Status string                `json:"status"`
}

// FetchPage returns one page of raw places for the given type. With a
// non-empty cursor the request carries only the page token, after waiting
// out the mandatory inter-page delay.
//
// Any transport failure or terminal upstream status yields an empty page and
// no cursor: the caller sees an exhausted source, never an error it has to
// handle mid-cycle.
func (c *Client) FetchPage(ctx context.Context, placeType, cursor string) ([]models.RawPlace, string, error) {
	params := url.Values{}
	if cursor != "" {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, "", nil
		}
		params.Set("pagetoken", cursor)
		params.Set("key", c.apiKey)
	} else {
		params.Set("location", fmt.Sprintf("%f,%f", c.lat, c.lng))
		params.Set("radius", fmt.Sprintf("%d", c.radius))
		params.Set("type", placeType)
		params.Set("key", c.apiKey)
	}

	// The continuation token only becomes valid a fixed delay after the
	// request that issued it, so every page request restarts the interval —
	// including the first one, which never passes through Wait.
	defer c.gate.Stamp()

	var resp searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/nearbysearch/json", params, &resp); err != nil {
		c.logger.Warn("[places] page fetch for type %q failed: %v", placeType, err)
		return nil, "", nil
	}

	if resp.Status != statusOK && resp.Status != statusZeroResults {
		c.logger.Warn("[places] upstream status %q for type %q — treating as exhausted", resp.Status, placeType)
		return nil, "", nil
	}

	c.logger.Debug("[places] type %q: %d results, next cursor %v",
		placeType, len(resp.Results), resp.NextPageToken != "")
	return resp.Results, resp.NextPageToken, nil
}

// FetchDetail fetches the contact fields for one place. A failure returns a
// nil detail so the caller can proceed with what the search page gave it.
func (c *Client) FetchDetail(ctx context.Context, placeID string) (*models.RawPlaceDetail, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", detailFields)
	params.Set("key", c.apiKey)

	var resp detailResponse
	if err := c.getJSON(ctx, c.baseURL+"/details/json", params, &resp); err != nil {
		c.logger.Warn("[places] detail fetch for %s failed: %v", placeID, err)
		return nil, nil
	}
	if resp.Status != statusOK {
		return nil, nil
	}
	return &resp.Result, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	c.logger.Debug("[places] GET %s (%v)", endpoint, time.Since(start))
	return nil
}
