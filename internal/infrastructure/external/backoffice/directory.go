package backoffice

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
)

// DirectoryClient implements port.UserDirectory against the partner directory.
// Accounts are keyed by login name, so creation is a PUT and safe to repeat.
type DirectoryClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewDirectoryClient creates a new partner directory client
func NewDirectoryClient(cfg Config, logger *zap.Logger) *DirectoryClient {
	return &DirectoryClient{
		http:   newRestClient(cfg.DirectoryURL, cfg),
		logger: logger,
	}
}

// FindOrCreateUser returns the directory id of the profile's login, creating the account if needed
func (c *DirectoryClient) FindOrCreateUser(ctx context.Context, profile port.DirectoryProfile) (string, error) {
	var user port.DirectoryUser
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("username", profile.Username).
		SetBody(profile).
		SetResult(&user).
		Put("/users/{username}")
	if err != nil {
		c.logger.Error("Directory upsert failed", zap.String("username", profile.Username), zap.Error(err))
		return "", fmt.Errorf("find or create directory user %s: %w", profile.Username, err)
	}
	if resp.IsError() {
		return "", statusError("find or create directory user "+profile.Username, resp, c.logger)
	}
	if user.ID == "" {
		return "", fmt.Errorf("find or create directory user %s: response has no id", profile.Username)
	}

	c.logger.Info("Directory user ensured",
		zap.String("username", profile.Username),
		zap.String("directory_id", user.ID),
		zap.Int("status_code", resp.StatusCode()))
	return user.ID, nil
}

// GetUser returns (nil, nil) when the login is unknown
func (c *DirectoryClient) GetUser(ctx context.Context, username string) (*port.DirectoryUser, error) {
	var user port.DirectoryUser
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("username", username).
		SetResult(&user).
		Get("/users/{username}")
	if err != nil {
		c.logger.Error("Directory lookup failed", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("get directory user %s: %w", username, err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, statusError("get directory user "+username, resp, c.logger)
	}
	return &user, nil
}

// Verify interface compliance
var _ port.UserDirectory = (*DirectoryClient)(nil)
