package geo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
)

const defaultBaseURL = "https://geo.api.gouv.fr"

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Commune is a resolved French commune.
type Commune struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Centre Point  `json:"centre"`
}

// Geocoder resolves communes and their centroids.
type Geocoder interface {
	// CommuneCentre returns the centroid of the commune with the given
	// INSEE code.
	CommuneCentre(ctx context.Context, codeINSEE string) (Point, error)
	// ResolveCommune finds a commune by name within a department.
	ResolveCommune(ctx context.Context, name, departement string) (Commune, error)
}

// Client is a Geocoder backed by the geo.api.gouv.fr public API.
type Client struct {
	fetcher *fetchhttp.Client
	baseURL string
	log     *slog.Logger
}

// NewClient builds a geocoding client. baseURL overrides the public API
// endpoint when non-empty, for tests.
func NewClient(fetcher *fetchhttp.Client, baseURL string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		fetcher: fetcher,
		baseURL: baseURL,
		log:     log,
	}
}

type communeResponse struct {
	Code   string `json:"code"`
	Nom    string `json:"nom"`
	Centre struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"centre"`
}

func (c *Client) CommuneCentre(ctx context.Context, codeINSEE string) (Point, error) {
	endpoint := fmt.Sprintf("%s/communes/%s?fields=centre", c.baseURL, url.PathEscape(codeINSEE))

	var resp communeResponse
	if err := c.fetcher.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return Point{}, fmt.Errorf("commune centre %s: %w", codeINSEE, err)
	}
	if len(resp.Centre.Coordinates) != 2 {
		return Point{}, fmt.Errorf("commune centre %s: no coordinates", codeINSEE)
	}
	// GeoJSON order is lon, lat.
	return Point{Lat: resp.Centre.Coordinates[1], Lon: resp.Centre.Coordinates[0]}, nil
}

func (c *Client) ResolveCommune(ctx context.Context, name, departement string) (Commune, error) {
	params := url.Values{}
	params.Set("nom", name)
	params.Set("codeDepartement", departement)
	params.Set("fields", "code,nom,centre")
	params.Set("boost", "population")
	params.Set("limit", "1")
	endpoint := fmt.Sprintf("%s/communes?%s", c.baseURL, params.Encode())

	var resp []communeResponse
	if err := c.fetcher.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return Commune{}, fmt.Errorf("resolve commune %q: %w", name, err)
	}
	if len(resp) == 0 {
		return Commune{}, fmt.Errorf("resolve commune %q: no match in departement %s", name, departement)
	}

	match := resp[0]
	commune := Commune{Code: match.Code, Name: match.Nom}
	if len(match.Centre.Coordinates) == 2 {
		commune.Centre = Point{Lat: match.Centre.Coordinates[1], Lon: match.Centre.Coordinates[0]}
	}
	return commune, nil
}
