// Package device reads device, position and measurement type metadata from
// the production backend that owns the counter hardware.
//
// The backend is read-only from this service's point of view. A resource the
// backend does not know is reported as (nil, nil); transport and server
// failures are errors.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

// Device is a counter device registered on the production backend.
type Device struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

// MeasurementType describes what a device reports, e.g. COUNT_BRICK.
type MeasurementType struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Position is a measurement point. ProductionLineID is nil when the backend
// does not tie the position to a line.
type Position struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	ProductionLineID *int64 `json:"productionLineId,omitempty"`
}

// InternalKeyHeader carries the shared key the backend expects on internal
// API calls.
const InternalKeyHeader = "x-internal-api-key"

// DefaultTimeout bounds one lookup request.
const DefaultTimeout = 5 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL     string
	InternalKey string
	Timeout     time.Duration
}

// Client looks metadata up over the backend's internal HTTP API.
type Client struct {
	baseURL     string
	internalKey string
	http        *http.Client
	requests    *prometheus.CounterVec
}

// NewClient creates a Client. reg may be nil.
func NewClient(cfg Config, reg prometheus.Registerer) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("device lookup base url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse device lookup base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cfg.InternalKey == "" {
		logger.Warn("device lookup internal key is not set; backend requests may be rejected")
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "psm",
		Subsystem: "device_lookup",
		Name:      "requests_total",
		Help:      "Device lookup requests by resource and result.",
	}, []string{"resource", "result"})
	if reg != nil {
		if err := reg.Register(requests); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("register device lookup metrics: %w", err)
			}
			requests = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &Client{
		baseURL:     base + "/api",
		internalKey: cfg.InternalKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: timeout}).DialContext,
			},
		},
		requests: requests,
	}, nil
}

// Device returns the device registered under deviceID.
func (c *Client) Device(ctx context.Context, deviceID string) (*Device, error) {
	if deviceID == "" {
		return nil, nil
	}
	var d Device
	found, err := c.get(ctx, "device", "/internal-api/devices/by-device-id/"+url.PathEscape(deviceID), &d)
	if !found || err != nil {
		return nil, err
	}
	return &d, nil
}

// MeasurementType returns measurement type id.
func (c *Client) MeasurementType(ctx context.Context, id int64) (*MeasurementType, error) {
	var mt MeasurementType
	found, err := c.get(ctx, "measurement_type", "/internal-api/measurement-types/"+strconv.FormatInt(id, 10), &mt)
	if !found || err != nil {
		return nil, err
	}
	return &mt, nil
}

// Position returns position id.
func (c *Client) Position(ctx context.Context, id int64) (*Position, error) {
	var p Position
	found, err := c.get(ctx, "position", "/internal-api/positions/"+strconv.FormatInt(id, 10), &p)
	if !found || err != nil {
		return nil, err
	}
	return &p, nil
}

// get decodes the JSON body at path into out. found is false on 404.
func (c *Client) get(ctx context.Context, resource, path string, out any) (found bool, err error) {
	result := "error"
	defer func() { c.requests.WithLabelValues(resource, result).Inc() }()

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build %s request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.internalKey != "" {
		req.Header.Set(InternalKeyHeader, c.internalKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error("Device lookup request failed",
			zap.String("resource", resource),
			zap.String("url", endpoint),
			zap.Error(err),
		)
		return false, fmt.Errorf("lookup %s: %w", resource, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		result = "not_found"
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		logger.Error("Device lookup returned an error status",
			zap.String("resource", resource),
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return false, fmt.Errorf("lookup %s: backend responded with status %d", resource, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", resource, err)
	}
	result = "found"
	return true, nil
}

// AllowAll accepts every device, measurement type and position without
// asking a backend. Positions are returned without a line. It backs local
// runs where no production backend is configured.
type AllowAll struct{}

func (AllowAll) Device(_ context.Context, deviceID string) (*Device, error) {
	if deviceID == "" {
		return nil, nil
	}
	return &Device{DeviceID: deviceID}, nil
}

func (AllowAll) MeasurementType(_ context.Context, id int64) (*MeasurementType, error) {
	return &MeasurementType{ID: id}, nil
}

func (AllowAll) Position(_ context.Context, id int64) (*Position, error) {
	return &Position{ID: id}, nil
}
