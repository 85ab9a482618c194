// Package viirs estimates night-time brightness from the VIIRS Day/Night Band
// served by NASA GIBS over WMS.
package viirs

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // GIBS may serve JPEG for opaque layers
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/saferoute/saferoute/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the GIBS EPSG:4326 WMS endpoint.
	DefaultBaseURL = "https://gibs.earthdata.nasa.gov/wms/epsg4326/best/wms.cgi"

	// DefaultLayer is the VIIRS SNPP Day/Night Band, enhanced near-constant contrast.
	DefaultLayer = "VIIRS_SNPP_DayNightBand_ENCC"

	providerName = "viirs"
	sampleSize   = 10
	maxImageSize = 4 << 20
)

// ErrUnexpectedResponse is returned when GIBS answers with something other
// than an image, typically a WMS ServiceException document.
var ErrUnexpectedResponse = errors.New("viirs: unexpected response")

// ClientConfig configures the VIIRS client.
type ClientConfig struct {
	BaseURL string
	Layer   string

	// Date pins the imagery date (YYYY-MM-DD). When empty the client asks
	// for the day before Now, the most recent complete composite.
	Date string

	Timeout  time.Duration
	Registry *resilience.Registry
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Client fetches a small VIIRS tile and averages its luminance.
type Client struct {
	http   *resilience.Client
	cfg    ClientConfig
	logger zerolog.Logger
}

// NewClient creates a VIIRS client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Layer == "" {
		cfg.Layer = DefaultLayer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		http: resilience.NewClient(resilience.ClientConfig{
			Name:       providerName,
			Timeout:    cfg.Timeout,
			MaxRetries: 1,
			Registry:   cfg.Registry,
		}),
		cfg:    cfg,
		logger: cfg.Logger.With().Str("provider", providerName).Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

// Brightness returns mean luminance in [0, 1] over bound.
func (c *Client) Brightness(ctx context.Context, bound orb.Bound) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(bound), http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("viirs: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("viirs: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return 0, fmt.Errorf("%w: content type %q", ErrUnexpectedResponse, ct)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return 0, fmt.Errorf("viirs: decode image: %w", err)
	}

	b := MeanLuminance(img)
	c.logger.Debug().
		Float64("min_lat", bound.Min.Lat()).
		Float64("min_lon", bound.Min.Lon()).
		Float64("brightness", b).
		Msg("fetched VIIRS brightness")
	return b, nil
}

// requestURL builds a WMS 1.3.0 GetMap URL. EPSG:4326 in WMS 1.3.0 uses
// latitude-first axis order for BBOX.
func (c *Client) requestURL(bound orb.Bound) string {
	date := c.cfg.Date
	if date == "" {
		date = c.cfg.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	}

	bbox := strings.Join([]string{
		strconv.FormatFloat(bound.Min.Lat(), 'f', 6, 64),
		strconv.FormatFloat(bound.Min.Lon(), 'f', 6, 64),
		strconv.FormatFloat(bound.Max.Lat(), 'f', 6, 64),
		strconv.FormatFloat(bound.Max.Lon(), 'f', 6, 64),
	}, ",")

	q := url.Values{}
	q.Set("SERVICE", "WMS")
	q.Set("REQUEST", "GetMap")
	q.Set("VERSION", "1.3.0")
	q.Set("LAYERS", c.cfg.Layer)
	q.Set("STYLES", "")
	q.Set("FORMAT", "image/png")
	q.Set("TRANSPARENT", "true")
	q.Set("WIDTH", strconv.Itoa(sampleSize))
	q.Set("HEIGHT", strconv.Itoa(sampleSize))
	q.Set("CRS", "EPSG:4326")
	q.Set("BBOX", bbox)
	q.Set("TIME", date)

	return c.cfg.BaseURL + "?" + q.Encode()
}

// MeanLuminance scales img to a small grayscale raster and returns the mean
// pixel value in [0, 1]. Transparent pixels count as dark.
func MeanLuminance(img image.Image) float64 {
	gray := image.NewGray(image.Rect(0, 0, sampleSize, sampleSize))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum int
	for _, p := range gray.Pix {
		sum += int(p)
	}
	return float64(sum) / float64(len(gray.Pix)) / 255
}
