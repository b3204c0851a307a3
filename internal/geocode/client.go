package geocode

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/request-marketplace/internal/models"
)

// ErrUnresolved is returned when the geocoding collaborator cannot turn an
// address into coordinates. Callers must surface it as a retryable condition
// rather than creating a request with missing coordinates.
var ErrUnresolved = errors.New("geocode: address unresolved")

// Client is the interface the lifecycle uses to resolve addresses.
type Client interface {
	Resolve(address string) (models.Coord, error)
}

// HTTPClient queries a Nominatim-compatible /search endpoint.
type HTTPClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (g *HTTPClient) Resolve(address string) (models.Coord, error) {
	u := fmt.Sprintf("%s/search?format=json&limit=1&q=%s", g.Endpoint, url.QueryEscape(address))
	resp, err := g.Client.Get(u)
	if err != nil {
		return models.Coord{}, err
	}
	defer resp.Body.Close()
	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Coord{}, err
	}
	if len(out) == 0 {
		return models.Coord{}, ErrUnresolved
	}
	lat, err1 := strconv.ParseFloat(out[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(out[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return models.Coord{}, ErrUnresolved
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}
