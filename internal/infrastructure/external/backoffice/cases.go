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

// CaseClient implements port.CaseLookup against the case system
type CaseClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewCaseClient creates a new case system client
func NewCaseClient(cfg Config, logger *zap.Logger) *CaseClient {
	return &CaseClient{
		http:   newRestClient(cfg.CaseURL, cfg),
		logger: logger,
	}
}

// GetCase returns (nil, nil) when the case does not exist
func (c *CaseClient) GetCase(ctx context.Context, id int64) (*port.CaseInfo, error) {
	var info port.CaseInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&info).
		Get("/cases/{id}")
	if err != nil {
		c.logger.Error("Case lookup failed", zap.Int64("case_id", id), zap.Error(err))
		return nil, fmt.Errorf("get case %d: %w", id, err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, statusError(fmt.Sprintf("get case %d", id), resp, c.logger)
	}
	return &info, nil
}

// Verify interface compliance
var _ port.CaseLookup = (*CaseClient)(nil)
