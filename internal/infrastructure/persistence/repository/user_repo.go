package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/persistence/sqldb"
)

// UserAccountRepository implements port.UserAccountRepository
type UserAccountRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewUserAccountRepository creates a new user account repository
func NewUserAccountRepository(db *sqldb.DB, logger *zap.Logger) port.UserAccountRepository {
	return &UserAccountRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the account and sets its ID
func (r *UserAccountRepository) Create(ctx context.Context, account *entity.UserAccount) error {
	query := `
		INSERT INTO user_accounts (
			username, full_name, email, password_hash, external_id, origin, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		account.Username,
		account.FullName,
		account.Email,
		account.PasswordHash,
		account.ExternalID,
		string(account.Origin),
		account.CreatedAt.UTC(),
	).Scan(&account.ID)
	if err != nil {
		r.logger.Error("Failed to create user account",
			zap.String("username", account.Username),
			zap.Error(err))
		return fmt.Errorf("failed to create user account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its ID
func (r *UserAccountRepository) GetByID(ctx context.Context, id int64) (*entity.UserAccount, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByUsername retrieves an account by its login name
func (r *UserAccountRepository) GetByUsername(ctx context.Context, username string) (*entity.UserAccount, error) {
	return r.getOne(ctx, "username = ?", username)
}

func (r *UserAccountRepository) getOne(ctx context.Context, where string, arg interface{}) (*entity.UserAccount, error) {
	query := `
		SELECT id, username, full_name, email, password_hash, external_id, origin, created_at
		FROM user_accounts
		WHERE ` + where

	var (
		account entity.UserAccount
		origin  string
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Username,
		&account.FullName,
		&account.Email,
		&account.PasswordHash,
		&account.ExternalID,
		&origin,
		&account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user account", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get user account: %w", err)
	}

	account.Origin = entity.AccountOrigin(origin)
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

// Verify interface compliance
var _ port.UserAccountRepository = (*UserAccountRepository)(nil)
