package openrouteservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/routing"
)

var (
	mylapore = geo.Coordinate{Lat: 13.0339, Lon: 80.2619}
	adyar    = geo.Coordinate{Lat: 13.0012, Lon: 80.2565}
)

func directionsBody() string {
	primary := geo.EncodePolyline([]geo.Coordinate{mylapore, {Lat: 13.0200, Lon: 80.2590}, adyar}, 5)
	alt := geo.EncodePolyline([]geo.Coordinate{mylapore, {Lat: 13.0180, Lon: 80.2660}, adyar}, 5)
	return fmt.Sprintf(`{
		"routes": [
			{
				"summary": {"distance": 4120.5, "duration": 2966.8},
				"bbox": [80.2565, 13.0012, 80.2619, 13.0339],
				"geometry": %q,
				"segments": [{
					"distance": 4120.5,
					"duration": 2966.8,
					"steps": [
						{"distance": 900, "duration": 648, "type": 11, "instruction": "Head south on Luz Church Road", "name": "Luz Church Road"},
						{"distance": 3220.5, "duration": 2318.8, "type": 1, "instruction": "Turn right onto Greenways Road", "name": "Greenways Road"}
					]
				}]
			},
			{
				"summary": {"distance": 4580, "duration": 3300},
				"geometry": %q,
				"segments": []
			}
		]
	}`, primary, alt)
}

func TestClient_GetDirections_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "mock123" {
			t.Errorf("expected Authorization header 'mock123', got '%s'", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v2/directions/foot-walking" {
			t.Errorf("expected path /v2/directions/foot-walking, got %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(directionsBody()))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		APIKey:     "mock123",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})

	resp, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:          mylapore,
		Destination:     adyar,
		Profile:         routing.ProfileWalk,
		MaxAlternatives: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Provider != ProviderName {
		t.Errorf("expected provider %s, got %s", ProviderName, resp.Provider)
	}
	if len(resp.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(resp.Routes))
	}

	route := resp.Routes[0]
	if route.DistanceMeters != 4120.5 {
		t.Errorf("expected distance 4120.5, got %f", route.DistanceMeters)
	}
	if len(route.Path) != 3 {
		t.Fatalf("expected 3 path points, got %d", len(route.Path))
	}
	if d := geo.Distance(route.Path[0], mylapore); d > 2 {
		t.Errorf("expected path to start at origin, off by %.1fm", d)
	}
	if route.Summary != "Greenways Road" {
		t.Errorf("expected summary 'Greenways Road', got %q", route.Summary)
	}
	if len(route.Instructions) != 2 {
		t.Errorf("expected 2 instructions, got %d", len(route.Instructions))
	}
	if route.Bound.Min.Lat() != 13.0012 || route.Bound.Max.Lon() != 80.2619 {
		t.Errorf("unexpected bound %v", route.Bound)
	}

	alt := resp.Routes[1]
	if alt.Summary != "" {
		t.Errorf("expected empty summary for route without steps, got %q", alt.Summary)
	}
	if alt.Bound.IsEmpty() {
		t.Errorf("expected bound derived from geometry")
	}
}

func TestClient_GetDirections_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantCode  string
		retryable bool
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"code":0,"message":"quota"}}`, routing.ErrRateLimitExceeded, "RATE_LIMIT", true},
		{"forbidden", http.StatusForbidden, `{"error":{"code":0,"message":"key"}}`, routing.ErrProviderUnavailable, "FORBIDDEN", true},
		{"not found", http.StatusNotFound, `{"error":{"code":2010,"message":"no point"}}`, routing.ErrNoRouteFound, "NO_ROUTE", false},
		{"unroutable", http.StatusBadRequest, `{"error":{"code":2009,"message":"Route could not be found"}}`, routing.ErrNoRouteFound, "NO_ROUTE", false},
		{"bad request", http.StatusBadRequest, `{"error":{"code":2003,"message":"bad param"}}`, routing.ErrInvalidCoordinates, "BAD_REQUEST", false},
		{"server error", http.StatusBadGateway, `{"error":{"code":0,"message":"upstream"}}`, routing.ErrProviderUnavailable, "SERVER_502", true},
		{"unparseable", http.StatusTeapot, `teapot`, routing.ErrProviderUnavailable, "HTTP_418", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

			_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
				Origin: mylapore, Destination: adyar, Profile: routing.ProfileCycle,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			var rerr *routing.Error
			if !errors.As(err, &rerr) {
				t.Fatalf("expected *routing.Error, got %T", err)
			}
			if rerr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, rerr.Code)
			}
			if rerr.IsRetryable() != tt.retryable {
				t.Errorf("expected retryable=%v", tt.retryable)
			}
		})
	}
}

func TestClient_GetDirections_InvalidInput(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://unused"})

	_, err := client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin: mylapore, Destination: geo.Coordinate{Lat: -91, Lon: 0}, Profile: routing.ProfileWalk,
	})
	var rerr *routing.Error
	if !errors.As(err, &rerr) || rerr.Code != "INVALID_DESTINATION" {
		t.Fatalf("expected INVALID_DESTINATION, got %v", err)
	}

	_, err = client.GetDirections(context.Background(), routing.DirectionsRequest{
		Origin: mylapore, Destination: adyar, Profile: "wheelchair",
	})
	if !errors.Is(err, routing.ErrUnsupportedProfile) {
		t.Fatalf("expected ErrUnsupportedProfile, got %v", err)
	}
}

func TestClient_Metadata(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "k"})
	if client.Name() != "openrouteservice" {
		t.Errorf("unexpected name %s", client.Name())
	}
	if len(client.SupportedProfiles()) != 3 {
		t.Errorf("expected 3 profiles, got %d", len(client.SupportedProfiles()))
	}
}
