package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

func (e *engineImpl) ActivateEquipment(ctx context.Context, id int64, equipmentID int64) (*entity.InstallRequest, error) {
	if equipmentID <= 0 {
		return nil, apperror.Validation("equipment id must be positive")
	}

	return e.apply(ctx, id, domainwf.TriggerActivateEquipment.String(), func(ctx context.Context, m *mutation) error {
		if err := m.requireActive(); err != nil {
			return err
		}

		if bound := m.req.EquipmentID; bound != nil {
			if *bound != equipmentID {
				return apperror.Conflict("request %d already holds equipment %d", m.req.ID, *bound)
			}
			if m.req.State.AtLeast(domainwf.StateConfigPending) && !m.req.State.IsTerminal() {
				return nil
			}
		}
		if err := m.check(ctx, domainwf.TriggerActivateEquipment); err != nil {
			return err
		}

		registered, err := e.Registry.GetEquipment(ctx, equipmentID)
		if err != nil {
			return apperror.Wrap(err, "get equipment %d from registry", equipmentID)
		}
		if registered == nil {
			return apperror.RelatedResourceMissing("equipment %d does not exist", equipmentID)
		}

		claimed, err := e.Equipment.Claim(ctx, equipmentID, m.req.ID, m.now)
		if err != nil {
			return apperror.Wrap(err, "claim equipment %d", equipmentID)
		}
		if !claimed {
			return apperror.Conflict("equipment %d is bound to another request", equipmentID)
		}

		if !registered.Active {
			if err := e.Registry.MarkActive(ctx, equipmentID); err != nil {
				return apperror.Wrap(err, "activate equipment %d in registry", equipmentID)
			}
		}

		m.req.EquipmentID = &equipmentID
		if err := m.fire(ctx, domainwf.TriggerActivateEquipment, fmt.Sprintf("equipment %d", equipmentID)); err != nil {
			return err
		}
		m.emit(event.TypeEquipmentActivated, map[string]interface{}{"equipment_id": equipmentID})
		return nil
	})
}
