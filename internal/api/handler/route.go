package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/planner"
	"github.com/saferoute/saferoute/internal/safety"
)

// RoutePlanner plans safety-aware routes. *planner.Planner implements it.
type RoutePlanner interface {
	PlanRoute(ctx context.Context, origin, destination geo.Coordinate, opts planner.Options) (planner.OptimizedRoute, error)
}

// RouteHandlerConfig configures the route handler.
type RouteHandlerConfig struct {
	Planner  RoutePlanner
	Weather  WeatherSource
	Location *time.Location
	Logger   zerolog.Logger
	Now      func() time.Time
}

// RouteHandler handles route planning.
type RouteHandler struct {
	planner RoutePlanner
	filler  contextFiller
	logger  zerolog.Logger
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(cfg RouteHandlerConfig) *RouteHandler {
	return &RouteHandler{
		planner: cfg.Planner,
		filler:  newContextFiller(cfg.Weather, cfg.Location, cfg.Now),
		logger:  cfg.Logger,
	}
}

// PlanRoute handles POST /v1/routes:plan. An authenticated caller's risk
// claim is the default userRiskTolerance.
func (h *RouteHandler) PlanRoute(w http.ResponseWriter, r *http.Request) {
	var req models.RoutePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	ctx := r.Context()
	origin := req.Origin.Coordinate()
	destination := req.Destination.Coordinate()

	opts := req.Options.PlannerOptions()
	if opts.UserRiskTolerance == "" {
		if id, ok := middleware.GetIdentity(ctx); ok && id.Risk != "" {
			opts.UserRiskTolerance = planner.RiskTolerance(id.Risk)
		}
	}
	opts.Context = h.filler.fill(ctx, origin, opts.Context)

	route, err := h.planner.PlanRoute(ctx, origin, destination, opts)
	if err != nil {
		switch {
		case errors.Is(err, geo.ErrInvalidCoordinate),
			errors.Is(err, planner.ErrInvalidOptions),
			errors.Is(err, safety.ErrInvalidContext):
			response.BadRequest(w, r, err.Error(), nil)
		case errors.Is(err, context.Canceled):
		default:
			h.logger.Error().
				Err(err).
				Str("request_id", requestID(r)).
				Str("user_id", GetUserID(ctx)).
				Msg("route planning failed")
			response.InternalError(w, r, "route planning failed")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, route)
}
