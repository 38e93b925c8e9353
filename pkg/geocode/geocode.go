// Package geocode resolves coordinates into human-readable addresses for
// notification text.
package geocode

import (
	"context"
	"errors"

	"googlemaps.github.io/maps"
)

// Reverser turns a coordinate pair into a short address string.
type Reverser interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

// GoogleGeocoder uses the Google Maps Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

// NewGoogleGeocoder creates a new GoogleGeocoder instance.
func NewGoogleGeocoder(apiKey string) (*GoogleGeocoder, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleGeocoder{client: c}, nil
}

// Reverse returns the formatted address of the first geocoding result.
func (g *GoogleGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", errors.New("no geocoding results")
	}
	return results[0].FormattedAddress, nil
}
