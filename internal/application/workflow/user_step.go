package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
	"github.com/garyjia/b2b-provisioning/pkg/utils"
)

// bcrypt ignores input past 72 bytes
const maxPasswordBytes = 72

// UserProfile describes the B2B account to provision
type UserProfile struct {
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`

	// ExistingUserID selects the local account when ExistsInSystem is set
	ExistingUserID *int64 `json:"existing_user_id,omitempty"`
	ExistsInSystem bool   `json:"exists_in_system"`
	ExistsInCorp   bool   `json:"exists_in_corp"`
}

// Validate checks the profile shape
func (p *UserProfile) Validate() error {
	p.Username = strings.TrimSpace(p.Username)
	p.FullName = strings.TrimSpace(p.FullName)
	p.Email = strings.TrimSpace(p.Email)

	if p.Username == "" {
		return apperror.Validation("username is required")
	}
	if err := utils.ValidateUsername(p.Username); err != nil {
		return apperror.Validation("%v", err)
	}
	if p.FullName == "" {
		return apperror.Validation("full name is required")
	}
	if p.Email != "" {
		if err := utils.ValidateEmail(p.Email); err != nil {
			return apperror.Validation("%v", err)
		}
	}
	if len(p.Password) > maxPasswordBytes {
		return apperror.Validation("password must be at most %d bytes", maxPasswordBytes)
	}
	if p.ExistingUserID != nil && *p.ExistingUserID <= 0 {
		return apperror.Validation("existing user id must be positive")
	}
	return nil
}

func (p UserProfile) directoryProfile() port.DirectoryProfile {
	return port.DirectoryProfile{
		Username: p.Username,
		FullName: p.FullName,
		Email:    p.Email,
	}
}

func (e *engineImpl) ProvisionUser(ctx context.Context, id int64, profile UserProfile) (*entity.InstallRequest, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	decision := Decide(profile)

	return e.apply(ctx, id, domainwf.TriggerProvisionUser.String(), func(ctx context.Context, m *mutation) error {
		if err := m.requireActive(); err != nil {
			return err
		}

		switch m.req.State {
		case domainwf.StateUserCreated:
			return e.confirmProvisioned(ctx, m, profile, decision)
		case domainwf.StatePendingApproval:
			if err := m.approve(ctx); err != nil {
				return err
			}
		}
		if err := m.check(ctx, domainwf.TriggerProvisionUser); err != nil {
			return err
		}

		account, err := e.reconciler.resolve(ctx, profile, decision)
		if err != nil {
			return err
		}
		if m.req.B2BUserID != nil && *m.req.B2BUserID != account.ID {
			return apperror.Conflict("request %d is reserved for user %d, profile resolved to user %d",
				m.req.ID, *m.req.B2BUserID, account.ID)
		}

		m.req.B2BUserID = &account.ID
		m.req.UserCreatedAt = m.stamp()
		detail := fmt.Sprintf("user %d (%s, %s)", account.ID, account.Username, decision)
		if err := m.fire(ctx, domainwf.TriggerProvisionUser, detail); err != nil {
			return err
		}
		m.emit(event.TypeUserProvisioned, map[string]interface{}{
			"user_id":        account.ID,
			"username":       account.Username,
			"reconciliation": decision.String(),
		})
		return nil
	})
}

// confirmProvisioned turns a repeated provisioning into a no-op when the
// profile designates the user the request already holds
func (e *engineImpl) confirmProvisioned(ctx context.Context, m *mutation, profile UserProfile, decision Reconciliation) error {
	account, err := e.reconciler.lookup(ctx, profile, decision)
	if err != nil {
		return err
	}
	if account == nil || m.req.B2BUserID == nil || *m.req.B2BUserID != account.ID {
		return apperror.Conflict("request %d is already provisioned with a different user", m.req.ID)
	}
	return nil
}
