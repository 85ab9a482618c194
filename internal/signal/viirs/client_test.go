package viirs_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/signal/viirs"
)

func solidPNG(t *testing.T, size int, v uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestClient_Brightness(t *testing.T) {
	body := solidPNG(t, 32, 204)
	var gotQuery map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client := viirs.NewClient(viirs.ClientConfig{
		BaseURL: server.URL,
		Now:     func() time.Time { return time.Date(2025, 8, 30, 3, 0, 0, 0, time.UTC) },
	})

	c := geo.Coordinate{Lat: 13.0827, Lon: 80.2707}
	b, err := client.Brightness(context.Background(), geo.BoxAround(c, 0.01))
	require.NoError(t, err)

	assert.InDelta(t, 0.8, b, 0.01)
	assert.Equal(t, "2025-08-29", gotQuery["TIME"][0])
	assert.Equal(t, "13.072700,80.260700,13.092700,80.280700", gotQuery["BBOX"][0])
	assert.Equal(t, viirs.DefaultLayer, gotQuery["LAYERS"][0])
}

func TestClient_ServiceException(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<ServiceExceptionReport><ServiceException>bad time</ServiceException></ServiceExceptionReport>`))
	}))
	defer server.Close()

	client := viirs.NewClient(viirs.ClientConfig{BaseURL: server.URL, Date: "2025-01-01"})

	_, err := client.Brightness(context.Background(), geo.BoxAround(geo.Coordinate{Lat: 1, Lon: 1}, 0.01))
	assert.ErrorIs(t, err, viirs.ErrUnexpectedResponse)
}

func TestClient_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := viirs.NewClient(viirs.ClientConfig{BaseURL: server.URL})

	_, err := client.Brightness(context.Background(), geo.BoxAround(geo.Coordinate{Lat: 1, Lon: 1}, 0.01))
	assert.ErrorIs(t, err, viirs.ErrUnexpectedResponse)
}

func TestMeanLuminance(t *testing.T) {
	black := image.NewGray(image.Rect(0, 0, 4, 4))
	assert.Zero(t, viirs.MeanLuminance(black))

	white := image.NewGray(image.Rect(0, 0, 50, 20))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	assert.InDelta(t, 1.0, viirs.MeanLuminance(white), 0.001)
}
