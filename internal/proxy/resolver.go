package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Resolver looks up the external address and location of a proxy.
type Resolver interface {
	Resolve(ctx context.Context, host string) (ip, location string, err error)
}

// HTTPResolver queries a JSON geo lookup endpoint: GET <url>?ip=<host>.
type HTTPResolver struct {
	url    string
	client *http.Client
}

func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		url:    endpoint,
		client: &http.Client{Timeout: timeout},
	}
}

type geoResponse struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, host string) (string, string, error) {
	u, err := url.Parse(r.url)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	q.Set("ip", host)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", "", fmt.Errorf("lookup returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var geo geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return "", "", err
	}
	if geo.IP == "" {
		geo.IP = host
	}
	return geo.IP, formatLocation(geo), nil
}

func formatLocation(g geoResponse) string {
	var parts []string
	for _, p := range []string{g.City, g.Region, g.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
