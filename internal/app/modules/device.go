package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/api/handlers"
	"github.com/VicenzaTech/psm-backend/internal/device"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

// DeviceModule composes the stage device mapping service around the
// production backend lookup.
type DeviceModule struct {
	Mappings *service.StageDeviceMappingService
}

// NewDeviceModule creates the device mapping service. Without a configured
// lookup URL, device references are accepted unchecked.
func NewDeviceModule(infra *Infrastructure, catalog *CatalogModule) (*DeviceModule, error) {
	lookup, err := newDeviceLookup(infra)
	if err != nil {
		return nil, err
	}
	return &DeviceModule{
		Mappings: service.NewStageDeviceMappingService(infra.ServiceDeps(), catalog.ProductionLines, lookup),
	}, nil
}

func newDeviceLookup(infra *Infrastructure) (service.DeviceLookup, error) {
	cfg := infra.Config.Devices
	if cfg.LookupURL == "" {
		logger.Warn("No device lookup URL configured: device mappings are not checked against the production backend")
		return device.AllowAll{}, nil
	}
	client, err := device.NewClient(device.Config{
		BaseURL:     cfg.LookupURL,
		InternalKey: cfg.InternalKey,
		Timeout:     cfg.LookupTimeout,
	}, infra.Registry)
	if err != nil {
		return nil, fmt.Errorf("init device lookup: %w", err)
	}
	logger.Info("Device lookup configured", zap.String("url", cfg.LookupURL))
	return client, nil
}

func (m *DeviceModule) Name() string { return "device" }

func (m *DeviceModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.DeviceMappings = m.Mappings
}

func (m *DeviceModule) RegisterWorkers(*river.Workers) error { return nil }

func (m *DeviceModule) Shutdown(context.Context) error { return nil }
