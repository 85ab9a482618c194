package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/scoring"
)

// Scorer is the safety score engine. *scoring.Engine implements it.
type Scorer interface {
	Score(ctx context.Context, c geo.Coordinate, sctx safety.Context) (safety.Result, error)
	BatchScore(ctx context.Context, points []geo.Coordinate, sctx safety.Context) ([]scoring.BatchItem, error)
	MaxBatchSize() int
}

// SafetyHandlerConfig configures the safety handler.
type SafetyHandlerConfig struct {
	Scorer  Scorer
	Weather WeatherSource
	// Location is the time zone used to derive a missing time of day
	// (default: UTC).
	Location *time.Location
	Logger   zerolog.Logger
	Now      func() time.Time
}

// SafetyHandler handles safety score endpoints.
type SafetyHandler struct {
	scorer Scorer
	filler contextFiller
	logger zerolog.Logger
}

// NewSafetyHandler creates a new SafetyHandler.
func NewSafetyHandler(cfg SafetyHandlerConfig) *SafetyHandler {
	return &SafetyHandler{
		scorer: cfg.Scorer,
		filler: newContextFiller(cfg.Weather, cfg.Location, cfg.Now),
		logger: cfg.Logger,
	}
}

// GetScore handles GET /v1/safety/score.
func (h *SafetyHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs []models.FieldError
	lat, fe := queryFloat(q.Get("lat"), "lat")
	errs = append(errs, fe...)
	lng, fe := queryFloat(q.Get("lng"), "lng")
	errs = append(errs, fe...)

	point := models.Point{Lat: lat, Lng: lng}
	if len(errs) == 0 {
		errs = append(errs, point.Validate("")...)
	}
	sc := models.ScoreContext{
		UserType:         q.Get("userType"),
		TimeOfDay:        q.Get("timeOfDay"),
		WeatherCondition: q.Get("weatherCondition"),
	}
	errs = append(errs, sc.Validate()...)
	if len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	h.score(w, r, point.Coordinate(), sc.Context())
}

// PostScore handles POST /v1/safety/score.
func (h *SafetyHandler) PostScore(w http.ResponseWriter, r *http.Request) {
	var req models.SafetyScoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	h.score(w, r, req.Point().Coordinate(), req.ScoreContext.Context())
}

func (h *SafetyHandler) score(w http.ResponseWriter, r *http.Request, c geo.Coordinate, sctx safety.Context) {
	ctx := r.Context()
	sctx = h.filler.fill(ctx, c, sctx)

	result, err := h.scorer.Score(ctx, c, sctx)
	if err != nil {
		h.writeScoreError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSafetyScoreResponse(result, sctx))
}

// BatchScore handles POST /v1/safety/score:batch. Locations that fail
// validation are reported per item; the rest are still scored.
func (h *SafetyHandler) BatchScore(w http.ResponseWriter, r *http.Request) {
	var req models.BatchScoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := req.Validate(h.scorer.MaxBatchSize()); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	items := make([]models.BatchScoreItem, len(req.Locations))
	var (
		points  []geo.Coordinate
		indexes []int
	)
	for i, p := range req.Locations {
		items[i].Index = i
		if errs := p.Validate(""); len(errs) > 0 {
			items[i].Error = &models.ItemError{
				Code:    "INVALID_LOCATION",
				Message: errs[0].Field + " " + errs[0].Message,
			}
			continue
		}
		points = append(points, p.Coordinate())
		indexes = append(indexes, i)
	}

	if len(points) > 0 {
		ctx := r.Context()
		// Weather is resolved once, at the first scorable location.
		sctx := h.filler.fill(ctx, points[0], req.ScoreContext.Context())

		scored, err := h.scorer.BatchScore(ctx, points, sctx)
		if err != nil {
			h.writeScoreError(w, r, err)
			return
		}
		for j, item := range scored {
			out := &items[indexes[j]]
			if item.Err != nil {
				out.Error = &models.ItemError{Code: "INVALID_LOCATION", Message: item.Err.Error()}
				continue
			}
			res := models.NewSafetyScoreResponse(item.Result, sctx)
			out.Result = &res
		}
	}

	response.JSON(w, r, http.StatusOK, models.BatchScoreResponse{Results: items})
}

func (h *SafetyHandler) writeScoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, safety.ErrInvalidContext),
		errors.Is(err, scoring.ErrEmptyBatch),
		errors.Is(err, scoring.ErrBatchTooLarge):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		h.logger.Error().
			Err(err).
			Str("request_id", requestID(r)).
			Msg("safety scoring failed")
		response.InternalError(w, r, "safety scoring failed")
	}
}

func queryFloat(raw, field string) (*float64, []models.FieldError) {
	if raw == "" {
		return nil, []models.FieldError{{Field: field, Message: "is required", Code: "REQUIRED"}}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, []models.FieldError{{Field: field, Message: "must be a number", Code: "INVALID_NUMBER"}}
	}
	return &v, nil
}
