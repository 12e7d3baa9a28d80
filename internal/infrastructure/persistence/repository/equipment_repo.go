package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/persistence/sqldb"
)

// EquipmentRepository implements port.EquipmentRepository
type EquipmentRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewEquipmentRepository creates a new equipment repository
func NewEquipmentRepository(db *sqldb.DB, logger *zap.Logger) port.EquipmentRepository {
	return &EquipmentRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves the claim record of an equipment id
func (r *EquipmentRepository) GetByID(ctx context.Context, id int64) (*entity.Equipment, error) {
	query := `
		SELECT id, active, bound_request_id, version, updated_at
		FROM equipment
		WHERE id = ?
	`

	var (
		eq    entity.Equipment
		bound sql.NullInt64
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, id).Scan(
		&eq.ID,
		&eq.Active,
		&bound,
		&eq.Version,
		&eq.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get equipment", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}

	eq.BoundRequestID = int64Ptr(bound)
	eq.UpdatedAt = eq.UpdatedAt.UTC()
	return &eq, nil
}

// Claim binds the equipment to requestID unless another request holds it.
// The row is created on first claim.
func (r *EquipmentRepository) Claim(ctx context.Context, equipmentID, requestID int64, at time.Time) (bool, error) {
	now := at.UTC()
	ex := r.db.Executor(ctx)

	_, err := ex.ExecContext(ctx, `
		INSERT INTO equipment (id, active, bound_request_id, version, updated_at)
		VALUES (?, ?, NULL, 0, ?)
		ON CONFLICT (id) DO NOTHING
	`, equipmentID, false, now)
	if err != nil {
		r.logger.Error("Failed to register equipment", zap.Int64("equipment_id", equipmentID), zap.Error(err))
		return false, fmt.Errorf("failed to register equipment: %w", err)
	}

	result, err := ex.ExecContext(ctx, `
		UPDATE equipment
		SET active = ?, bound_request_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND (bound_request_id IS NULL OR bound_request_id = ?)
	`, true, requestID, now, equipmentID, requestID)
	if err != nil {
		r.logger.Error("Failed to claim equipment",
			zap.Int64("equipment_id", equipmentID),
			zap.Int64("request_id", requestID),
			zap.Error(err))
		return false, fmt.Errorf("failed to claim equipment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// Release drops the claim if requestID still holds it. The equipment stays active.
func (r *EquipmentRepository) Release(ctx context.Context, equipmentID, requestID int64, at time.Time) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE equipment
		SET bound_request_id = NULL, version = version + 1, updated_at = ?
		WHERE id = ? AND bound_request_id = ?
	`, at.UTC(), equipmentID, requestID)
	if err != nil {
		r.logger.Error("Failed to release equipment",
			zap.Int64("equipment_id", equipmentID),
			zap.Int64("request_id", requestID),
			zap.Error(err))
		return fmt.Errorf("failed to release equipment: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.EquipmentRepository = (*EquipmentRepository)(nil)
