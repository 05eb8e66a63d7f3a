package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/training"
	"github.com/labstack/echo/v4"
)

type handlers struct {
	api    API
	logger *slog.Logger
}

// errorMessage is the JSON body of every API error.
type errorMessage struct {
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`
}

func newError(code int, reason, advice string, cause error) *echo.HTTPError {
	he := echo.NewHTTPError(code, errorMessage{Reason: reason, Advice: advice})
	if cause != nil {
		he = he.SetInternal(cause)
	}
	return he
}

func badRequest(advice string, err error) *echo.HTTPError {
	return newError(http.StatusBadRequest, "bad request", advice, err)
}

func notFound(advice string) *echo.HTTPError {
	return newError(http.StatusNotFound, "not found", advice, nil)
}

func (h *handlers) internalError(c echo.Context, err error) *echo.HTTPError {
	h.logger.Error("api request failed", "path", c.Path(), "error", err)
	return newError(http.StatusInternalServerError, "unexpected error", "", err)
}

func (h *handlers) listModels(c echo.Context) error {
	entries := h.api.Models()
	counts := map[string]int{}
	for _, e := range entries {
		counts[string(e.Status)]++
	}
	return c.JSON(http.StatusOK, map[string]any{
		"models": entries,
		"counts": counts,
	})
}

func (h *handlers) startTraining(c echo.Context) error {
	req := c.Request()
	if ct := strings.ToLower(req.Header.Get(echo.HeaderContentType)); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		return badRequest("content type should be application/json", nil)
	}

	var body domain.TrainingRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("can not understand the requested json", err)
	}

	job, err := h.api.Training.Start(req.Context(), body)
	switch {
	case err == nil:
	case errors.Is(err, training.ErrInvalidRequest):
		return badRequest(err.Error(), err)
	case errors.Is(err, domain.ErrTrainingInProgress):
		return newError(http.StatusConflict, "training already in progress",
			"poll /api/v1/training/latest and retry once it has finished", err)
	default:
		return h.internalError(c, err)
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/training/"+job.ID)
	return c.JSON(http.StatusAccepted, job)
}

func (h *handlers) getTraining(c echo.Context) error {
	job, err := h.api.Training.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		return notFound("no training job with this id")
	}
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *handlers) latestTraining(c echo.Context) error {
	job, err := h.api.Training.Latest(c.Request().Context())
	if errors.Is(err, domain.ErrNotFound) {
		return notFound("no training job has been started")
	}
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *handlers) activeWarnings(c echo.Context) error {
	window := h.api.ActiveWarningWindow
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return badRequest("window should be a positive duration such as 2h or 90m", err)
		}
		window = d
	}

	since := domain.Now().Add(-window)
	warnings, err := h.api.Records.ActiveWarnings(c.Request().Context(), since)
	if err != nil {
		return h.internalError(c, err)
	}
	if warnings == nil {
		warnings = []domain.WarningRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"since":    since,
		"count":    len(warnings),
		"warnings": warnings,
	})
}

type nowcast struct {
	domain.PredictionRecord
	ImpactRisk domain.ImpactRisk `json:"impact_risk"`
}

func (h *handlers) nowcasts(c echo.Context) error {
	horizon, err := domain.ParseHorizon(c.Param("horizon"))
	if err != nil {
		return badRequest("horizon should be one of "+horizonList(h.api.Horizons), err)
	}
	if !slices.Contains(h.api.Horizons, horizon) {
		return notFound("horizon should be one of " + horizonList(h.api.Horizons))
	}

	records, err := h.api.Records.LatestPredictions(c.Request().Context(), horizon)
	if err != nil {
		return h.internalError(c, err)
	}

	out := make([]nowcast, len(records))
	var madeAt *time.Time
	for i, p := range records {
		out[i] = nowcast{PredictionRecord: p, ImpactRisk: domain.RiskForMeanRate(p.PredictedMeanRR)}
		if madeAt == nil {
			ts := p.PredictionMadeAt
			madeAt = &ts
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"horizon":            horizon.String(),
		"prediction_made_at": madeAt,
		"count":              len(out),
		"nowcasts":           out,
	})
}

func (h *handlers) lastCycle(c echo.Context) error {
	run, ok := h.api.Cycles.LastRun()
	if !ok {
		return notFound("no cycle has run yet")
	}
	return c.JSON(http.StatusOK, run)
}

func horizonList(hs []domain.Horizon) string {
	names := make([]string, len(hs))
	for i, h := range hs {
		names[i] = h.String()
	}
	return strings.Join(names, ", ")
}
