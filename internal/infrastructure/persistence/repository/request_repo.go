package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/domain/workflow"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/persistence/sqldb"
)

const requestColumns = `
	id, case_id, b2b_user_id, equipment_id, technician_user_id, state,
	requested_at, approved_at, user_created_at, installation_date,
	training_completed_at, finalized_at, cancelled_at,
	training_completed, notes, active, version, created_at, updated_at`

// InstallRequestRepository implements port.InstallRequestRepository
type InstallRequestRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewInstallRequestRepository creates a new install request repository
func NewInstallRequestRepository(db *sqldb.DB, logger *zap.Logger) port.InstallRequestRepository {
	return &InstallRequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the request and sets its ID. Version starts at 1.
func (r *InstallRequestRepository) Create(ctx context.Context, req *entity.InstallRequest) error {
	query := `
		INSERT INTO install_requests (
			case_id, b2b_user_id, equipment_id, technician_user_id, state,
			requested_at, approved_at, user_created_at, installation_date,
			training_completed_at, finalized_at, cancelled_at,
			training_completed, notes, active, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		RETURNING id
	`

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		req.CaseID,
		nullInt64(req.B2BUserID),
		nullInt64(req.EquipmentID),
		nullInt64(req.TechnicianUserID),
		req.State.String(),
		req.RequestedAt,
		nullTime(req.ApprovedAt),
		nullTime(req.UserCreatedAt),
		nullTime(req.InstallationDate),
		nullTime(req.TrainingCompletedAt),
		nullTime(req.FinalizedAt),
		nullTime(req.CancelledAt),
		req.TrainingCompleted,
		req.Notes,
		req.Active,
		req.CreatedAt,
		req.UpdatedAt,
	).Scan(&req.ID)
	if err != nil {
		r.logger.Error("Failed to create install request",
			zap.Int64("case_id", req.CaseID),
			zap.Error(err))
		return fmt.Errorf("failed to create install request: %w", err)
	}

	req.Version = 1
	return nil
}

// GetByID retrieves a request by its ID
func (r *InstallRequestRepository) GetByID(ctx context.Context, id int64) (*entity.InstallRequest, error) {
	return r.getOne(ctx, "SELECT"+requestColumns+" FROM install_requests WHERE id = ?", id)
}

// GetForUpdate retrieves a request and locks its row on dialects that support it
func (r *InstallRequestRepository) GetForUpdate(ctx context.Context, id int64) (*entity.InstallRequest, error) {
	return r.getOne(ctx, "SELECT"+requestColumns+" FROM install_requests WHERE id = ?"+r.db.ForUpdate(), id)
}

// FindOpenByCase returns the active, non-cancelled request of a case
func (r *InstallRequestRepository) FindOpenByCase(ctx context.Context, caseID int64) (*entity.InstallRequest, error) {
	query := "SELECT" + requestColumns + `
		FROM install_requests
		WHERE case_id = ? AND active = ? AND state <> ?
		ORDER BY id DESC
		LIMIT 1`
	return r.getOne(ctx, query, caseID, true, workflow.StateCancelled.String())
}

// Save writes all mutable columns if the stored version still matches
func (r *InstallRequestRepository) Save(ctx context.Context, req *entity.InstallRequest) error {
	query := `
		UPDATE install_requests SET
			b2b_user_id = ?, equipment_id = ?, technician_user_id = ?, state = ?,
			approved_at = ?, user_created_at = ?, installation_date = ?,
			training_completed_at = ?, finalized_at = ?, cancelled_at = ?,
			training_completed = ?, notes = ?, active = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		nullInt64(req.B2BUserID),
		nullInt64(req.EquipmentID),
		nullInt64(req.TechnicianUserID),
		req.State.String(),
		nullTime(req.ApprovedAt),
		nullTime(req.UserCreatedAt),
		nullTime(req.InstallationDate),
		nullTime(req.TrainingCompletedAt),
		nullTime(req.FinalizedAt),
		nullTime(req.CancelledAt),
		req.TrainingCompleted,
		req.Notes,
		req.Active,
		req.UpdatedAt,
		req.ID,
		req.Version,
	)
	if err != nil {
		r.logger.Error("Failed to save install request",
			zap.Int64("id", req.ID),
			zap.Error(err))
		return fmt.Errorf("failed to save install request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		r.logger.Warn("Install request version changed since read",
			zap.Int64("id", req.ID),
			zap.Int64("version", req.Version))
		return port.ErrStaleVersion
	}

	req.Version++
	return nil
}

// List returns requests matching the filter, newest first
func (r *InstallRequestRepository) List(ctx context.Context, filter entity.RequestFilter) ([]*entity.InstallRequest, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, filter.State.String())
	}
	if filter.CaseID > 0 {
		conds = append(conds, "case_id = ?")
		args = append(args, filter.CaseID)
	}
	if filter.Active != nil {
		conds = append(conds, "active = ?")
		args = append(args, *filter.Active)
	}

	query := "SELECT" + requestColumns + " FROM install_requests"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list install requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list install requests: %w", err)
	}
	defer rows.Close()

	var requests []*entity.InstallRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r *InstallRequestRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entity.InstallRequest, error) {
	req, err := scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get install request", zap.Error(err))
		return nil, fmt.Errorf("failed to get install request: %w", err)
	}
	return req, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*entity.InstallRequest, error) {
	var (
		req                                       entity.InstallRequest
		state                                     string
		userID, equipmentID, technicianID         sql.NullInt64
		approvedAt, userCreatedAt, installationAt sql.NullTime
		trainedAt, finalizedAt, cancelledAt       sql.NullTime
	)

	err := s.Scan(
		&req.ID,
		&req.CaseID,
		&userID,
		&equipmentID,
		&technicianID,
		&state,
		&req.RequestedAt,
		&approvedAt,
		&userCreatedAt,
		&installationAt,
		&trainedAt,
		&finalizedAt,
		&cancelledAt,
		&req.TrainingCompleted,
		&req.Notes,
		&req.Active,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.State = workflow.State(state)
	req.B2BUserID = int64Ptr(userID)
	req.EquipmentID = int64Ptr(equipmentID)
	req.TechnicianUserID = int64Ptr(technicianID)
	req.RequestedAt = req.RequestedAt.UTC()
	req.ApprovedAt = timePtr(approvedAt)
	req.UserCreatedAt = timePtr(userCreatedAt)
	req.InstallationDate = timePtr(installationAt)
	req.TrainingCompletedAt = timePtr(trainedAt)
	req.FinalizedAt = timePtr(finalizedAt)
	req.CancelledAt = timePtr(cancelledAt)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// Verify interface compliance
var _ port.InstallRequestRepository = (*InstallRequestRepository)(nil)
