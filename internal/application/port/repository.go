package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
)

// ErrStaleVersion is returned by compare-and-swap writes when the row changed
// after it was read
var ErrStaleVersion = errors.New("stale version")

// InstallRequestRepository persists install requests.
// Lookups return (nil, nil) when the row does not exist.
type InstallRequestRepository interface {
	Create(ctx context.Context, req *entity.InstallRequest) error
	GetByID(ctx context.Context, id int64) (*entity.InstallRequest, error)

	// GetForUpdate reads the row for a read-modify-write inside a transaction,
	// taking a row lock where the database supports it
	GetForUpdate(ctx context.Context, id int64) (*entity.InstallRequest, error)

	// FindOpenByCase returns the active, non-cancelled request of a case
	FindOpenByCase(ctx context.Context, caseID int64) (*entity.InstallRequest, error)

	// Save writes every mutable column if the stored version still equals
	// req.Version, then increments req.Version. Returns ErrStaleVersion otherwise.
	Save(ctx context.Context, req *entity.InstallRequest) error

	List(ctx context.Context, filter entity.RequestFilter) ([]*entity.InstallRequest, error)
}

// UserAccountRepository persists local B2B accounts
type UserAccountRepository interface {
	Create(ctx context.Context, account *entity.UserAccount) error
	GetByID(ctx context.Context, id int64) (*entity.UserAccount, error)
	GetByUsername(ctx context.Context, username string) (*entity.UserAccount, error)
}

// EquipmentRepository persists equipment claims
type EquipmentRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Equipment, error)

	// Claim binds the equipment to the request and marks it active unless
	// another request already holds it. Returns false when it is held elsewhere.
	Claim(ctx context.Context, equipmentID, requestID int64, at time.Time) (bool, error)

	// Release drops the claim if the request still holds it
	Release(ctx context.Context, equipmentID, requestID int64, at time.Time) error
}

// HistoryRepository persists the per-request audit trail
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.RequestHistory) error
	GetByRequestID(ctx context.Context, requestID int64) ([]*entity.RequestHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
