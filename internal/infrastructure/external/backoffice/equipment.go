package backoffice

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
)

// RegistryClient implements port.EquipmentRegistry
type RegistryClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewRegistryClient creates a new equipment registry client
func NewRegistryClient(cfg Config, logger *zap.Logger) *RegistryClient {
	return &RegistryClient{
		http:   newRestClient(cfg.EquipmentURL, cfg),
		logger: logger,
	}
}

// GetEquipment returns (nil, nil) when the registry does not know the id
func (c *RegistryClient) GetEquipment(ctx context.Context, id int64) (*port.RegistryEquipment, error) {
	var eq port.RegistryEquipment
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&eq).
		Get("/equipment/{id}")
	if err != nil {
		c.logger.Error("Equipment lookup failed", zap.Int64("equipment_id", id), zap.Error(err))
		return nil, fmt.Errorf("get equipment %d: %w", id, err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, statusError(fmt.Sprintf("get equipment %d", id), resp, c.logger)
	}
	return &eq, nil
}

// MarkActive activates the equipment. Activating an active equipment succeeds.
func (c *RegistryClient) MarkActive(ctx context.Context, id int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Post("/equipment/{id}/activate")
	if err != nil {
		c.logger.Error("Equipment activation failed", zap.Int64("equipment_id", id), zap.Error(err))
		return fmt.Errorf("activate equipment %d: %w", id, err)
	}
	if resp.IsError() {
		return statusError(fmt.Sprintf("activate equipment %d", id), resp, c.logger)
	}

	c.logger.Info("Equipment marked active", zap.Int64("equipment_id", id))
	return nil
}

// Verify interface compliance
var _ port.EquipmentRegistry = (*RegistryClient)(nil)
