package workflow

import (
	"context"
	"time"

	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/pkg/utils"
)

// Engine drives install requests through the provisioning workflow. Every
// mutating call returns the full updated request or an *apperror.Error.
type Engine interface {
	// CreateRequest opens a request for an approved case in PENDING_APPROVAL
	CreateRequest(ctx context.Context, input CreateInput) (*entity.InstallRequest, error)

	Get(ctx context.Context, id int64) (*entity.InstallRequest, error)
	List(ctx context.Context, filter entity.RequestFilter) ([]*entity.InstallRequest, error)
	History(ctx context.Context, id int64) ([]*entity.RequestHistory, error)

	Approve(ctx context.Context, id int64, opts ...ActionOption) (*entity.InstallRequest, error)
	ProvisionUser(ctx context.Context, id int64, profile UserProfile) (*entity.InstallRequest, error)
	ActivateEquipment(ctx context.Context, id int64, equipmentID int64) (*entity.InstallRequest, error)
	Schedule(ctx context.Context, id int64, installationDate time.Time, opts ...ActionOption) (*entity.InstallRequest, error)
	Finalize(ctx context.Context, id int64, trainingCompleted bool) (*entity.InstallRequest, error)
	Cancel(ctx context.Context, id int64, opts ...ActionOption) (*entity.InstallRequest, error)

	AssignTechnician(ctx context.Context, id int64, technicianUserID int64) (*entity.InstallRequest, error)
	UpdateNotes(ctx context.Context, id int64, notes string) (*entity.InstallRequest, error)

	// Deactivate archives the request without changing its state
	Deactivate(ctx context.Context, id int64) (*entity.InstallRequest, error)
}

// ActionOption adds a field change to the transaction of a workflow action.
// It is applied only when the action itself succeeds.
type ActionOption func(m *mutation)

// WithNotes replaces the request notes together with the action
func WithNotes(notes string) ActionOption {
	notes = utils.SanitizeString(notes)
	return func(m *mutation) { m.setNotes(notes) }
}

// CreateInput opens a new request
type CreateInput struct {
	CaseID int64 `json:"case_id"`
	// B2BUserID pins the account provisioning must resolve to
	B2BUserID *int64 `json:"b2b_user_id,omitempty"`
	Notes     string `json:"notes"`
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
