package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/geo"
)

// mockProvider is a mock routing provider for testing.
type mockProvider struct {
	name      string
	profiles  []RouteProfile
	response  *DirectionsResponse
	err       error
	callCount atomic.Int32
	delay     time.Duration
}

func (m *mockProvider) GetDirections(_ context.Context, _ DirectionsRequest) (*DirectionsResponse, error) {
	m.callCount.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) SupportedProfiles() []RouteProfile {
	return m.profiles
}

var (
	origin      = geo.Coordinate{Lat: 13.0827, Lon: 80.2707}
	destination = geo.Coordinate{Lat: 13.0604, Lon: 80.2496}
	allProfiles = []RouteProfile{ProfileWalk, ProfileCycle, ProfileDrive}
)

func okProvider(name string, distance float64) *mockProvider {
	return &mockProvider{
		name:     name,
		profiles: allProfiles,
		response: &DirectionsResponse{
			Routes: []Route{{
				Path:            []geo.Coordinate{origin, destination},
				DistanceMeters:  distance,
				DurationSeconds: distance / 1.4,
			}},
			Provider:  name,
			FetchedAt: time.Now(),
		},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestService_GetDirections_CacheMissThenHit(t *testing.T) {
	provider := okProvider("test-provider", 3200)
	service := NewService(ServiceConfig{Providers: []Provider{provider}})

	req := DirectionsRequest{Origin: origin, Destination: destination, Profile: ProfileWalk}

	resp, err := service.GetDirections(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, 3200.0, resp.Routes[0].DistanceMeters)

	// Same grid cell.
	req.Origin = origin.Offset(0.0001, 0)
	_, err = service.GetDirections(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), provider.callCount.Load())
	assert.Equal(t, CacheStats{TotalEntries: 1, FreshEntries: 1}, service.CacheStats())
}

func TestService_GetDirections_DifferentProfilesNotShared(t *testing.T) {
	provider := okProvider("test-provider", 3200)
	service := NewService(ServiceConfig{Providers: []Provider{provider}})

	ctx := context.Background()
	_, err := service.GetDirections(ctx, DirectionsRequest{Origin: origin, Destination: destination, Profile: ProfileWalk})
	require.NoError(t, err)
	_, err = service.GetDirections(ctx, DirectionsRequest{Origin: origin, Destination: destination, Profile: ProfileDrive})
	require.NoError(t, err)

	assert.Equal(t, int32(2), provider.callCount.Load())
}

func TestService_GetDirections_FailsOverOnRetryableError(t *testing.T) {
	primary := &mockProvider{
		name:     "primary",
		profiles: allProfiles,
		err:      &Error{Provider: "primary", Code: "SERVER_503", Message: "down", Err: ErrProviderUnavailable},
	}
	secondary := okProvider("secondary", 4100)
	service := NewService(ServiceConfig{Providers: []Provider{primary, secondary}})

	resp, err := service.GetDirections(context.Background(), DirectionsRequest{Origin: origin, Destination: destination})
	require.NoError(t, err)
	assert.Equal(t, "secondary", resp.Provider)
	assert.Equal(t, int32(1), primary.callCount.Load())
}

func TestService_GetDirections_NoRouteIsFinal(t *testing.T) {
	primary := &mockProvider{
		name:     "primary",
		profiles: allProfiles,
		err:      &Error{Provider: "primary", Code: "NO_ROUTE", Message: "no route", Err: ErrNoRouteFound},
	}
	secondary := okProvider("secondary", 4100)
	service := NewService(ServiceConfig{Providers: []Provider{primary, secondary}})

	_, err := service.GetDirections(context.Background(), DirectionsRequest{Origin: origin, Destination: destination})
	assert.ErrorIs(t, err, ErrNoRouteFound)
	assert.Equal(t, int32(0), secondary.callCount.Load())
}

func TestService_GetDirections_SkipsUnsupportedProfile(t *testing.T) {
	walkOnly := okProvider("walk-only", 1000)
	walkOnly.profiles = []RouteProfile{ProfileWalk}
	service := NewService(ServiceConfig{Providers: []Provider{walkOnly}})

	_, err := service.GetDirections(context.Background(), DirectionsRequest{Origin: origin, Destination: destination, Profile: ProfileDrive})
	assert.ErrorIs(t, err, ErrUnsupportedProfile)
	assert.Equal(t, int32(0), walkOnly.callCount.Load())

	_, err = service.GetDirections(context.Background(), DirectionsRequest{Origin: origin, Destination: destination, Profile: "teleport"})
	assert.ErrorIs(t, err, ErrUnsupportedProfile)
}

func TestService_GetDirections_EmptyRoutesIsNoRoute(t *testing.T) {
	provider := okProvider("empty", 0)
	provider.response.Routes = nil
	service := NewService(ServiceConfig{Providers: []Provider{provider}})

	_, err := service.GetDirections(context.Background(), DirectionsRequest{Origin: origin, Destination: destination})
	assert.ErrorIs(t, err, ErrNoRouteFound)
}

func TestService_GetDirections_InvalidCoordinates(t *testing.T) {
	provider := okProvider("test-provider", 1000)
	service := NewService(ServiceConfig{Providers: []Provider{provider}})

	_, err := service.GetDirections(context.Background(), DirectionsRequest{
		Origin:      geo.Coordinate{Lat: 95, Lon: 0},
		Destination: destination,
	})
	require.ErrorIs(t, err, ErrInvalidCoordinates)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "INVALID_ORIGIN", rerr.Code)
	assert.False(t, rerr.IsRetryable())
	assert.Equal(t, int32(0), provider.callCount.Load())
}

func TestService_GetDirections_StaleIfError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	provider := okProvider("test-provider", 3200)
	service := NewService(ServiceConfig{
		Providers:       []Provider{provider},
		CacheTTL:        time.Minute,
		StaleIfErrorTTL: 10 * time.Minute,
		Now:             clock.Now,
	})

	req := DirectionsRequest{Origin: origin, Destination: destination}
	_, err := service.GetDirections(context.Background(), req)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	provider.err = &Error{Provider: "test-provider", Message: "down", Err: ErrProviderUnavailable}

	resp, err := service.GetDirections(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3200.0, resp.Routes[0].DistanceMeters)
	assert.Equal(t, CacheStats{TotalEntries: 1, StaleEntries: 1}, service.CacheStats())

	clock.Advance(20 * time.Minute)
	_, err = service.GetDirections(context.Background(), req)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestService_GetDirections_Concurrent(t *testing.T) {
	provider := okProvider("test-provider", 3200)
	provider.delay = 10 * time.Millisecond
	service := NewService(ServiceConfig{Providers: []Provider{provider}})

	req := DirectionsRequest{Origin: origin, Destination: destination}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.GetDirections(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), provider.callCount.Load())
}

// gatedProvider blocks requests from the gated origin until release closes.
type gatedProvider struct {
	*mockProvider
	gated   geo.Coordinate
	release chan struct{}
}

func (g *gatedProvider) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if req.Origin == g.gated {
		<-g.release
	}
	return g.mockProvider.GetDirections(ctx, req)
}

func TestService_GetDirections_SlowKeyDoesNotBlockOthers(t *testing.T) {
	slowOrigin := origin.Offset(0.05, 0.05)
	provider := &gatedProvider{
		mockProvider: okProvider("test-provider", 3200),
		gated:        slowOrigin,
		release:      make(chan struct{}),
	}
	service := NewService(ServiceConfig{Providers: []Provider{provider}})

	slowDone := make(chan error, 1)
	go func() {
		_, err := service.GetDirections(context.Background(), DirectionsRequest{Origin: slowOrigin, Destination: destination})
		slowDone <- err
	}()

	fastDone := make(chan error, 1)
	go func() {
		_, err := service.GetDirections(context.Background(), DirectionsRequest{Origin: origin, Destination: destination})
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("request for an unrelated key waited on a slow provider call")
	}

	close(provider.release)
	require.NoError(t, <-slowDone)
	assert.Equal(t, CacheStats{TotalEntries: 2, FreshEntries: 2}, service.CacheStats())
}

func TestService_GetDirections_CancelledCallerDoesNotFailOthers(t *testing.T) {
	provider := okProvider("test-provider", 3200)
	provider.delay = 200 * time.Millisecond
	service := NewService(ServiceConfig{Providers: []Provider{provider}})
	req := DirectionsRequest{Origin: origin, Destination: destination}

	ctx, cancel := context.WithCancel(context.Background())
	cancelledDone := make(chan error, 1)
	go func() {
		_, err := service.GetDirections(ctx, req)
		cancelledDone <- err
	}()
	require.Eventually(t, func() bool { return provider.callCount.Load() == 1 }, time.Second, time.Millisecond)

	otherDone := make(chan error, 1)
	go func() {
		_, err := service.GetDirections(context.Background(), req)
		otherDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-cancelledDone, context.Canceled)
	assert.NoError(t, <-otherDone)
	assert.Equal(t, int32(1), provider.callCount.Load())
}

func TestService_InvalidateCache(t *testing.T) {
	provider := okProvider("test-provider", 3200)
	service := NewService(ServiceConfig{Providers: []Provider{provider}})
	req := DirectionsRequest{Origin: origin, Destination: destination}

	_, err := service.GetDirections(context.Background(), req)
	require.NoError(t, err)
	service.InvalidateCache()
	_, err = service.GetDirections(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(2), provider.callCount.Load())
	assert.Equal(t, []string{"test-provider"}, service.ProviderNames())
}

func TestError_IsRetryable(t *testing.T) {
	assert.True(t, (&Error{Err: ErrProviderUnavailable}).IsRetryable())
	assert.True(t, (&Error{Err: ErrRateLimitExceeded}).IsRetryable())
	assert.False(t, (&Error{Err: ErrNoRouteFound}).IsRetryable())
	assert.Equal(t, "boom: no route found between the given points", (&Error{Message: "boom", Err: ErrNoRouteFound}).Error())
}
