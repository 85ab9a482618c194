package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

// maxBodyBytes bounds request bodies; a full batch is well under it.
const maxBodyBytes = 1 << 20

// GetUserID retrieves the authenticated user ID from the context.
// This is a convenience wrapper around middleware.GetUserID.
func GetUserID(ctx context.Context) string {
	return middleware.GetUserID(ctx)
}

// decodeJSON decodes a single JSON value from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must contain a single JSON value")
	}
	return nil
}

// WeatherSource resolves the current weather condition at a location.
// *weather.Service implements it.
type WeatherSource interface {
	Condition(ctx context.Context, c geo.Coordinate) safety.Weather
}

// contextFiller completes a scoring context from the server clock and the
// weather service.
type contextFiller struct {
	weather  WeatherSource
	location *time.Location
	now      func() time.Time
}

func newContextFiller(w WeatherSource, loc *time.Location, now func() time.Time) contextFiller {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return contextFiller{weather: w, location: loc, now: now}
}

// fill sets a missing time of day from the local clock and a missing weather
// condition from the weather source at c. Without a source the engine default
// applies.
func (f contextFiller) fill(ctx context.Context, c geo.Coordinate, sctx safety.Context) safety.Context {
	if sctx.TimeOfDay == "" {
		sctx.TimeOfDay = safety.TimeOfDayAt(f.now().In(f.location))
	}
	if sctx.Weather == "" && f.weather != nil {
		sctx.Weather = f.weather.Condition(ctx, c)
	}
	return sctx
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}
