// Package radar talks to the upstream radar service that publishes composites,
// detects storm cells, and derives per-cell model features.
package radar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Client implements pipeline.Ingestor, pipeline.Detector, and
// pipeline.FeatureDeriver over the radar service HTTP API.
type Client struct {
	client *resty.Client
	logger *slog.Logger
}

// NewClient creates a radar client for baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetHeader("Accept", "application/json")

	return &Client{client: client, logger: logger}
}

type cellsResponse struct {
	Cells []domain.RawCell `json:"cells"`
}

type featuresRequest struct {
	Composite domain.Composite `json:"composite"`
	Cell      domain.RawCell   `json:"cell"`
}

type featuresResponse struct {
	Features map[string]float64 `json:"features"`
}

// LatestComposite returns the newest composite. 204 and 404 mean nothing has
// been published and map to domain.ErrIngestionUnavailable.
func (c *Client) LatestComposite(ctx context.Context) (domain.Composite, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get("/composites/latest")
	if err != nil {
		return domain.Composite{}, fmt.Errorf("fetch latest composite: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return domain.Composite{}, fmt.Errorf("latest composite: %w", domain.ErrIngestionUnavailable)
	default:
		return domain.Composite{}, fmt.Errorf("radar API returned status %d for latest composite", resp.StatusCode())
	}

	var composite domain.Composite
	if err := json.Unmarshal(resp.Body(), &composite); err != nil {
		return domain.Composite{}, fmt.Errorf("parse composite: %w", err)
	}
	if composite.ID == "" {
		return domain.Composite{}, fmt.Errorf("composite without id: %w", domain.ErrIngestionUnavailable)
	}
	composite.ScanTime = composite.ScanTime.UTC()
	return composite, nil
}

// DetectCells returns the storm cells found in a composite.
func (c *Client) DetectCells(ctx context.Context, composite domain.Composite) ([]domain.RawCell, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get("/composites/" + url.PathEscape(composite.ID) + "/cells")
	if err != nil {
		return nil, fmt.Errorf("detect cells in %s: %w", composite.ID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("radar API returned status %d for cells of %s", resp.StatusCode(), composite.ID)
	}

	var data cellsResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, fmt.Errorf("parse cells of %s: %w", composite.ID, err)
	}
	if data.Cells == nil {
		data.Cells = []domain.RawCell{}
	}
	c.logger.Debug("cells detected", "composite_id", composite.ID, "count", len(data.Cells))
	return data.Cells, nil
}

// DeriveFeatures asks the radar service for the named variables of one cell.
// A 422 response means the cell cannot be described and is a data quality error.
func (c *Client) DeriveFeatures(ctx context.Context, cell domain.RawCell, composite domain.Composite) (map[string]float64, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(featuresRequest{Composite: composite, Cell: cell}).
		Post("/features")
	if err != nil {
		return nil, fmt.Errorf("derive features for cell %s: %w", cell.ID, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("cell %s: %w: %s", cell.ID, domain.ErrDataQuality, resp.String())
	default:
		return nil, fmt.Errorf("radar API returned status %d for features of cell %s", resp.StatusCode(), cell.ID)
	}

	var data featuresResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, fmt.Errorf("parse features of cell %s: %w", cell.ID, err)
	}
	return data.Features, nil
}
