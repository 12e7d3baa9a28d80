// Package backoffice holds the HTTP clients of the systems the workflow
// collaborates with: the case system, the partner user directory and the
// equipment registry.
package backoffice

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config holds the shared client settings
type Config struct {
	CaseURL      string
	DirectoryURL string
	EquipmentURL string
	Token        string
	Timeout      time.Duration
	RetryCount   int
}

// apiError is the error body the back-office services return
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newRestClient(baseURL string, cfg Config) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetError(&apiError{}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return client
}

// statusError describes a non-2xx response
func statusError(op string, resp *resty.Response, logger *zap.Logger) error {
	msg := resp.Status()
	if body, ok := resp.Error().(*apiError); ok && body.Message != "" {
		msg = body.Message
	}

	logger.Error("Back-office call returned error",
		zap.String("operation", op),
		zap.Int("status_code", resp.StatusCode()),
		zap.String("message", msg))
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), msg)
}
