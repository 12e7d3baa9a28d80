package workflow

import (
	"context"
	"time"

	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

// dateLayout is how installation dates appear in history and events
const dateLayout = "2006-01-02"

func (e *engineImpl) Schedule(ctx context.Context, id int64, installationDate time.Time, opts ...ActionOption) (*entity.InstallRequest, error) {
	if installationDate.IsZero() {
		return nil, apperror.Validation("installation date is required")
	}
	date := installationDate.UTC()

	return e.apply(ctx, id, domainwf.TriggerSchedule.String(), func(ctx context.Context, m *mutation) error {
		if err := m.requireActive(); err != nil {
			return err
		}

		if m.req.State == domainwf.StateScheduled {
			if m.req.InstallationDate != nil && m.req.InstallationDate.Equal(date) {
				return nil
			}
			return apperror.Conflict("request %d is already scheduled for %s",
				m.req.ID, formatDate(m.req.InstallationDate))
		}
		if err := m.check(ctx, domainwf.TriggerSchedule); err != nil {
			return err
		}
		if m.req.EquipmentID == nil {
			return apperror.InvalidTransition("request %d has no equipment to install", m.req.ID)
		}

		m.req.InstallationDate = &date
		if err := m.fire(ctx, domainwf.TriggerSchedule, date.Format(dateLayout)); err != nil {
			return err
		}
		payload := map[string]interface{}{"installation_date": date.Format(dateLayout)}
		if m.req.TechnicianUserID != nil {
			payload["technician_user_id"] = *m.req.TechnicianUserID
		}
		m.emit(event.TypeRequestScheduled, payload)
		return nil
	}, opts...)
}

func (e *engineImpl) Finalize(ctx context.Context, id int64, trainingCompleted bool) (*entity.InstallRequest, error) {
	return e.apply(ctx, id, domainwf.TriggerFinalize.String(), func(ctx context.Context, m *mutation) error {
		// a repeated finalize is answered even after the request was archived
		if m.req.State == domainwf.StateCompleted {
			if m.req.TrainingCompleted == trainingCompleted {
				return nil
			}
			return apperror.Conflict("request %d was finalized with training completed = %t",
				m.req.ID, m.req.TrainingCompleted)
		}
		if err := m.requireActive(); err != nil {
			return err
		}

		detail := "training not completed"
		if trainingCompleted {
			detail = "training completed"
		}
		if err := m.fire(ctx, domainwf.TriggerFinalize, detail); err != nil {
			return err
		}

		if trainingCompleted {
			m.req.TrainingCompletedAt = m.stamp()
		}
		m.req.FinalizedAt = m.stamp()
		m.req.TrainingCompleted = trainingCompleted
		m.emit(event.TypeRequestCompleted, map[string]interface{}{"training_completed": trainingCompleted})
		return nil
	})
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "an unknown date"
	}
	return t.Format(dateLayout)
}
