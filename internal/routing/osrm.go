package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
)

// OSRMClient measures multi-stop routes against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// Measure queries OSRM /route over the full waypoint sequence:
// /route/v1/driving/{lon1},{lat1};{lon2},{lat2};...?overview=false
func (o *OSRMClient) Measure(ctx context.Context, waypoints []models.Coord) (Measurement, error) {
	pts := geo.FilterValid(waypoints)
	if len(pts) < 2 {
		return Measurement{}, ErrInsufficientPoints
	}

	var sb strings.Builder
	for i, p := range pts {
		if i > 0 {
			sb.WriteByte(';')
		}
		fmt.Fprintf(&sb, "%.6f,%.6f", p.Lon, p.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=false", o.Endpoint, sb.String())

	observability.OracleCallsTotal.Inc()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		observability.OracleFailuresTotal.Inc()
		if isTimeout(err) {
			return Measurement{}, ErrTimeout
		}
		return Measurement{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.OracleFailuresTotal.Inc()
		return Measurement{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.OracleFailuresTotal.Inc()
		return Measurement{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		observability.OracleFailuresTotal.Inc()
		return Measurement{}, fmt.Errorf("%w: code %q", ErrNoRoute, out.Code)
	}
	return Measurement{DistanceMeters: out.Routes[0].Distance, DurationSeconds: out.Routes[0].Duration}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
