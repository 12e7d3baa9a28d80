package entity

import (
	"time"

	"github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

// InstallRequest is one installation of a B2B customer, from the approved
// case until the customer is trained and equipped
type InstallRequest struct {
	ID               int64          `json:"id"`
	CaseID           int64          `json:"case_id"`
	B2BUserID        *int64         `json:"b2b_user_id,omitempty"`
	EquipmentID      *int64         `json:"equipment_id,omitempty"`
	TechnicianUserID *int64         `json:"technician_user_id,omitempty"`
	State            workflow.State `json:"state"`

	RequestedAt         time.Time  `json:"requested_at"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	UserCreatedAt       *time.Time `json:"user_created_at,omitempty"`
	InstallationDate    *time.Time `json:"installation_date,omitempty"`
	TrainingCompletedAt *time.Time `json:"training_completed_at,omitempty"`
	FinalizedAt         *time.Time `json:"finalized_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`

	// TrainingCompleted is the flag the request was finalized with
	TrainingCompleted bool   `json:"training_completed"`
	Notes             string `json:"notes"`
	Active            bool   `json:"active"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestStamp returns the most recent system milestone. InstallationDate is
// caller supplied and may lie in the future, so it is not considered.
func (r *InstallRequest) LatestStamp() time.Time {
	latest := r.RequestedAt
	for _, t := range []*time.Time{r.ApprovedAt, r.UserCreatedAt, r.TrainingCompletedAt, r.FinalizedAt, r.CancelledAt} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	return latest
}

// Clone returns a deep copy so callers can mutate without touching cached values
func (r *InstallRequest) Clone() *InstallRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.B2BUserID = cloneInt64(r.B2BUserID)
	c.EquipmentID = cloneInt64(r.EquipmentID)
	c.TechnicianUserID = cloneInt64(r.TechnicianUserID)
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.UserCreatedAt = cloneTime(r.UserCreatedAt)
	c.InstallationDate = cloneTime(r.InstallationDate)
	c.TrainingCompletedAt = cloneTime(r.TrainingCompletedAt)
	c.FinalizedAt = cloneTime(r.FinalizedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

// RequestFilter narrows List queries
type RequestFilter struct {
	State  workflow.State
	CaseID int64
	// Active nil returns both active and archived requests
	Active *bool
	Limit  int
	Offset int
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
