package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campus-courier/models"
	"campus-courier/utilities"
)

const (
	DefaultBaseURL = "https://restapi.amap.com/v3"
	requestTimeout = 10 * time.Second
)

// MockCoordinates is returned for every address when no API key is configured.
var MockCoordinates = models.Coordinates{Lng: 116.397428, Lat: 39.90923}

// AMapGeocoder resolves addresses through the AMap web service geocoding API.
type AMapGeocoder struct {
	key     string
	baseURL string
	client  *http.Client
}

func NewAMapGeocoder(key string) *AMapGeocoder {
	return &AMapGeocoder{
		key:     key,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// WithBaseURL points the geocoder at another host.
func (g *AMapGeocoder) WithBaseURL(baseURL string) *AMapGeocoder {
	g.baseURL = strings.TrimRight(baseURL, "/")
	return g
}

type geocodeResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Geocodes []struct {
		FormattedAddress string `json:"formatted_address"`
		Location         string `json:"location"`
	} `json:"geocodes"`
}

// Geocode returns nil without error when the service finds nothing.
func (g *AMapGeocoder) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	if g.key == "" {
		c := MockCoordinates
		return &c, nil
	}

	params := url.Values{}
	params.Set("key", g.key)
	params.Set("address", address)
	params.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/geocode/geo?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach AMap: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read AMap response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("AMap returned status %d: %s", resp.StatusCode, string(body))
	}

	var result geocodeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode AMap response: %w", err)
	}
	if result.Status != "1" || len(result.Geocodes) == 0 {
		utilities.LogDebug("AMap found nothing for %q: %s", address, result.Info)
		return nil, nil
	}
	return ParseLocation(result.Geocodes[0].Location)
}

// ParseLocation parses AMap's "lng,lat" string.
func ParseLocation(s string) (*models.Coordinates, error) {
	lngStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("malformed location %q", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return nil, fmt.Errorf("malformed longitude in %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return nil, fmt.Errorf("malformed latitude in %q: %w", s, err)
	}
	return &models.Coordinates{Lng: lng, Lat: lat}, nil
}
