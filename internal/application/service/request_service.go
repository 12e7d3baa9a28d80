package service

import (
	"context"
	"time"

	"github.com/garyjia/b2b-provisioning/internal/application/workflow"
	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Patch is a partial update of the fields callers may set directly.
// Nil fields are left untouched.
type Patch struct {
	InstallationDate *time.Time      `json:"installation_date,omitempty"`
	State            *domainwf.State `json:"state,omitempty"`
	Notes            *string         `json:"notes,omitempty"`
}

// IsEmpty reports whether the patch sets nothing
func (p Patch) IsEmpty() bool {
	return p.InstallationDate == nil && p.State == nil && p.Notes == nil
}

// RequestService applies field-level updates to install requests by routing
// each field through the workflow action that owns it
type RequestService interface {
	Update(ctx context.Context, id int64, patch Patch) (*entity.InstallRequest, error)
}

type requestServiceImpl struct {
	engine workflow.Engine
	logger Logger
}

// NewRequestService creates a new RequestService
func NewRequestService(engine workflow.Engine, logger Logger) RequestService {
	return &requestServiceImpl{
		engine: engine,
		logger: logger,
	}
}

// Update routes the patch to one workflow action. Notes ride along in the
// same transaction, so a rejected transition leaves the request untouched.
func (s *requestServiceImpl) Update(ctx context.Context, id int64, patch Patch) (*entity.InstallRequest, error) {
	if patch.IsEmpty() {
		return nil, apperror.Validation("patch sets no fields")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	var (
		req *entity.InstallRequest
		err error
	)

	switch {
	case patch.InstallationDate != nil:
		req, err = s.engine.Schedule(ctx, id, *patch.InstallationDate, notesOption(patch.Notes)...)
	case patch.State != nil:
		req, err = s.transition(ctx, id, *patch.State, patch.Notes)
	default:
		req, err = s.engine.UpdateNotes(ctx, id, *patch.Notes)
	}
	if err != nil {
		s.logger.Error("Failed to update install request", "request_id", id, "error", err)
		return nil, err
	}

	s.logger.Info("Install request updated", "request_id", id, "state", req.State)
	return req, nil
}

func (s *requestServiceImpl) transition(ctx context.Context, id int64, target domainwf.State, notes *string) (*entity.InstallRequest, error) {
	switch target {
	case domainwf.StatePendingInstallation:
		return s.engine.Approve(ctx, id, notesOption(notes)...)
	case domainwf.StateCancelled:
		return s.engine.Cancel(ctx, id, notesOption(notes)...)
	}

	// other states are reached through actions whose inputs a patch cannot carry
	req, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.State != target {
		return nil, apperror.InvalidTransition("state %s can only be reached through its workflow action", target)
	}
	if notes != nil {
		return s.engine.UpdateNotes(ctx, id, *notes)
	}
	return req, nil
}

func notesOption(notes *string) []workflow.ActionOption {
	if notes == nil {
		return nil
	}
	return []workflow.ActionOption{workflow.WithNotes(*notes)}
}

func validatePatch(patch Patch) error {
	if patch.State != nil && !patch.State.IsValid() {
		return apperror.Validation("unknown state %q", *patch.State)
	}
	if patch.InstallationDate != nil {
		if patch.InstallationDate.IsZero() {
			return apperror.Validation("installation date is required")
		}
		if patch.State != nil && *patch.State != domainwf.StateScheduled {
			return apperror.Validation("installation date can only be combined with state %s", domainwf.StateScheduled)
		}
	}
	return nil
}
