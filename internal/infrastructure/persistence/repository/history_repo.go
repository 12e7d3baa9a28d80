package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/persistence/sqldb"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqldb.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.RequestHistory) error {
	query := `
		INSERT INTO request_history (
			request_id, previous_state, new_state, action, actor, detail, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		history.RequestID,
		history.PreviousState,
		history.NewState,
		history.Action,
		history.Actor,
		history.Detail,
		history.Timestamp.UTC(),
	).Scan(&history.ID)
	if err != nil {
		r.logger.Error("Failed to create history record",
			zap.Int64("request_id", history.RequestID),
			zap.String("action", history.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}
	return nil
}

// GetByRequestID retrieves the history of a request in the order it was written
func (r *HistoryRepository) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.RequestHistory, error) {
	query := `
		SELECT id, request_id, previous_state, new_state, action, actor, detail, timestamp
		FROM request_history
		WHERE request_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to get history by request ID", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.RequestHistory
	for rows.Next() {
		var record entity.RequestHistory
		err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.PreviousState,
			&record.NewState,
			&record.Action,
			&record.Actor,
			&record.Detail,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		record.Timestamp = record.Timestamp.UTC()
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
