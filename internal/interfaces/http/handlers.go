package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/b2b-provisioning/internal/application/service"
	"github.com/garyjia/b2b-provisioning/internal/application/workflow"
	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

const (
	dateLayout       = "2006-01-02"
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine   workflow.Engine
	requests service.RequestService
	health   HealthChecker
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.Engine, requests service.RequestService, health HealthChecker, logger Logger) *Handlers {
	return &Handlers{
		engine:   engine,
		requests: requests,
		health:   health,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// ListRequestsQuery represents query parameters for listing requests
type ListRequestsQuery struct {
	State  string `form:"state"`
	CaseID int64  `form:"case_id"`
	Active *bool  `form:"active"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// UpdateRequestBody is the PATCH body. Dates use YYYY-MM-DD.
type UpdateRequestBody struct {
	InstallationDate *string `json:"installation_date"`
	State            *string `json:"state"`
	Notes            *string `json:"notes"`
}

// ActivateEquipmentBody selects the equipment to activate
type ActivateEquipmentBody struct {
	EquipmentID int64 `json:"equipment_id"`
}

// ScheduleBody carries the installation date as YYYY-MM-DD
type ScheduleBody struct {
	InstallationDate string `json:"installation_date"`
}

// FinalizeBody carries the training flag. A missing flag or body means true.
type FinalizeBody struct {
	TrainingCompleted *bool `json:"training_completed"`
}

// AssignTechnicianBody selects the technician
type AssignTechnicianBody struct {
	TechnicianUserID int64 `json:"technician_user_id"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.health != nil {
		healthy, details = h.health(c.Request.Context())
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: details,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{
		Success: healthy,
		Data:    response,
	})
}

// CreateRequest handles POST /api/v1/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var input workflow.CreateInput
	if !h.bind(c, &input) {
		return
	}

	req, err := h.engine.CreateRequest(c.Request.Context(), input)
	h.respond(c, http.StatusCreated, req, err)
}

// ListRequests handles GET /api/v1/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var q ListRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, apperror.Validation("invalid query parameters: %v", err))
		return
	}

	if q.Limit <= 0 || q.Limit > maxPageLimit {
		q.Limit = defaultPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	requests, err := h.engine.List(c.Request.Context(), entity.RequestFilter{
		State:  domainwf.State(strings.ToUpper(q.State)),
		CaseID: q.CaseID,
		Active: q.Active,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if requests == nil && err == nil {
		requests = []*entity.InstallRequest{}
	}
	h.respond(c, http.StatusOK, requests, err)
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	req, err := h.engine.Get(c.Request.Context(), id)
	h.respond(c, http.StatusOK, req, err)
}

// GetHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	rows, err := h.engine.History(c.Request.Context(), id)
	if rows == nil && err == nil {
		rows = []*entity.RequestHistory{}
	}
	h.respond(c, http.StatusOK, rows, err)
}

// UpdateRequest handles PATCH /api/v1/requests/:id
func (h *Handlers) UpdateRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var body UpdateRequestBody
	if !h.bind(c, &body) {
		return
	}

	patch := service.Patch{Notes: body.Notes}
	if body.InstallationDate != nil {
		date, err := parseDate(*body.InstallationDate)
		if err != nil {
			h.fail(c, err)
			return
		}
		patch.InstallationDate = &date
	}
	if body.State != nil {
		state := domainwf.State(strings.ToUpper(*body.State))
		patch.State = &state
	}

	req, err := h.requests.Update(c.Request.Context(), id, patch)
	h.respond(c, http.StatusOK, req, err)
}

// DeactivateRequest handles DELETE /api/v1/requests/:id
func (h *Handlers) DeactivateRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	req, err := h.engine.Deactivate(c.Request.Context(), id)
	h.respond(c, http.StatusOK, req, err)
}

// Approve handles POST /api/v1/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	req, err := h.engine.Approve(c.Request.Context(), id)
	h.respond(c, http.StatusOK, req, err)
}

// ProvisionUser handles POST /api/v1/requests/:id/provision-user
func (h *Handlers) ProvisionUser(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var profile workflow.UserProfile
	if !h.bind(c, &profile) {
		return
	}
	req, err := h.engine.ProvisionUser(c.Request.Context(), id, profile)
	h.respond(c, http.StatusOK, req, err)
}

// ActivateEquipment handles POST /api/v1/requests/:id/activate-equipment
func (h *Handlers) ActivateEquipment(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var body ActivateEquipmentBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.engine.ActivateEquipment(c.Request.Context(), id, body.EquipmentID)
	h.respond(c, http.StatusOK, req, err)
}

// Schedule handles POST /api/v1/requests/:id/schedule
func (h *Handlers) Schedule(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var body ScheduleBody
	if !h.bind(c, &body) {
		return
	}
	date, err := parseDate(body.InstallationDate)
	if err != nil {
		h.fail(c, err)
		return
	}
	req, err := h.engine.Schedule(c.Request.Context(), id, date)
	h.respond(c, http.StatusOK, req, err)
}

// Finalize handles POST /api/v1/requests/:id/finalize
func (h *Handlers) Finalize(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var body FinalizeBody
	if !h.bindOptional(c, &body) {
		return
	}
	trainingCompleted := true
	if body.TrainingCompleted != nil {
		trainingCompleted = *body.TrainingCompleted
	}
	req, err := h.engine.Finalize(c.Request.Context(), id, trainingCompleted)
	h.respond(c, http.StatusOK, req, err)
}

// Cancel handles POST /api/v1/requests/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	req, err := h.engine.Cancel(c.Request.Context(), id)
	h.respond(c, http.StatusOK, req, err)
}

// AssignTechnician handles POST /api/v1/requests/:id/technician
func (h *Handlers) AssignTechnician(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var body AssignTechnicianBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.engine.AssignTechnician(c.Request.Context(), id, body.TechnicianUserID)
	h.respond(c, http.StatusOK, req, err)
}

func (h *Handlers) requestID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, apperror.Validation("invalid request id %q", idStr))
		return 0, false
	}
	return id, true
}

func (h *Handlers) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, apperror.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

// bindOptional is bind for endpoints whose body may be omitted
func (h *Handlers) bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, apperror.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) respond(c *gin.Context, status int, data interface{}, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// fail writes err with the status of its code. Infrastructure details stay in the log.
func (h *Handlers) fail(c *gin.Context, err error) {
	code := apperror.CodeOf(err)
	status := statusFor(code)

	message := err.Error()
	if apperror.IsRetryable(err) {
		h.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", code,
			"error", err,
		)
		message = "service temporarily unavailable, retry later"
		if code == apperror.CodeTimeout {
			message = "request timed out, retry later"
		}
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
		Code:    string(code),
	})
}

func statusFor(code apperror.Code) int {
	switch code {
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeInvalidTransition, apperror.CodeConflict:
		return http.StatusConflict
	case apperror.CodeRelatedResourceMissing:
		return http.StatusUnprocessableEntity
	case apperror.CodeValidation:
		return http.StatusBadRequest
	case apperror.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

func parseDate(s string) (time.Time, error) {
	date, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperror.Validation("installation_date must be YYYY-MM-DD, got %q", s)
	}
	return date, nil
}
