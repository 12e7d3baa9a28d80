package workflow

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
)

// Reconciliation is how provisioning obtains the request's B2B account
type Reconciliation int

const (
	// ReconcileCreate creates the local account and its partner mirror
	ReconcileCreate Reconciliation = iota
	// ReconcileLinkLocal reuses an account that already exists in this system
	ReconcileLinkLocal
	// ReconcileLinkExternal links to an account that only exists in the partner directory
	ReconcileLinkExternal
)

func (r Reconciliation) String() string {
	switch r {
	case ReconcileCreate:
		return "create"
	case ReconcileLinkLocal:
		return "link_local"
	case ReconcileLinkExternal:
		return "link_external"
	default:
		return fmt.Sprintf("reconciliation(%d)", int(r))
	}
}

// Decide maps the profile's existence flags to a reconciliation.
// ExistsInSystem wins over ExistsInCorp.
func Decide(profile UserProfile) Reconciliation {
	switch {
	case profile.ExistsInSystem:
		return ReconcileLinkLocal
	case profile.ExistsInCorp:
		return ReconcileLinkExternal
	default:
		return ReconcileCreate
	}
}

type reconciler struct {
	users     port.UserAccountRepository
	directory port.UserDirectory
	clock     clock.Clock
}

// lookup finds the account a profile designates without creating anything.
// Returns nil when no such account exists yet.
func (r *reconciler) lookup(ctx context.Context, profile UserProfile, decision Reconciliation) (*entity.UserAccount, error) {
	var (
		account *entity.UserAccount
		err     error
	)
	if decision == ReconcileLinkLocal && profile.ExistingUserID != nil {
		account, err = r.users.GetByID(ctx, *profile.ExistingUserID)
	} else {
		account, err = r.users.GetByUsername(ctx, profile.Username)
	}
	if err != nil {
		return nil, apperror.Wrap(err, "look up user %s", profile.Username)
	}
	return account, nil
}

// resolve returns the account for the profile, creating or linking it as the
// decision requires. Every path looks the account up first, so a rerun after
// a partially failed attempt reuses what the first attempt created.
func (r *reconciler) resolve(ctx context.Context, profile UserProfile, decision Reconciliation) (*entity.UserAccount, error) {
	account, err := r.lookup(ctx, profile, decision)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	switch decision {
	case ReconcileLinkLocal:
		if profile.ExistingUserID != nil {
			return nil, apperror.RelatedResourceMissing("user %d does not exist", *profile.ExistingUserID)
		}
		return nil, apperror.RelatedResourceMissing("user %s does not exist", profile.Username)
	case ReconcileLinkExternal:
		return r.linkExternal(ctx, profile)
	default:
		return r.create(ctx, profile)
	}
}

func (r *reconciler) linkExternal(ctx context.Context, profile UserProfile) (*entity.UserAccount, error) {
	remote, err := r.directory.GetUser(ctx, profile.Username)
	if err != nil {
		return nil, apperror.Wrap(err, "get directory user %s", profile.Username)
	}
	if remote == nil {
		return nil, apperror.RelatedResourceMissing("user %s does not exist in the partner directory", profile.Username)
	}

	account := &entity.UserAccount{
		Username:   profile.Username,
		FullName:   firstNonEmpty(profile.FullName, remote.FullName),
		Email:      firstNonEmpty(profile.Email, remote.Email),
		ExternalID: remote.ID,
		Origin:     entity.OriginLinkedExternal,
		CreatedAt:  r.clock.Now().UTC(),
	}
	if err := r.users.Create(ctx, account); err != nil {
		return nil, apperror.Wrap(err, "create linked user %s", profile.Username)
	}
	return account, nil
}

func (r *reconciler) create(ctx context.Context, profile UserProfile) (*entity.UserAccount, error) {
	var hash string
	if profile.Password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(profile.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, apperror.Validation("password cannot be hashed: %v", err)
		}
		hash = string(b)
	}

	// the directory call is find-or-create, so repeating it after a failed
	// local commit returns the account created the first time
	externalID, err := r.directory.FindOrCreateUser(ctx, profile.directoryProfile())
	if err != nil {
		return nil, apperror.Wrap(err, "create directory user %s", profile.Username)
	}

	account := &entity.UserAccount{
		Username:     profile.Username,
		FullName:     profile.FullName,
		Email:        profile.Email,
		PasswordHash: hash,
		ExternalID:   externalID,
		Origin:       entity.OriginCreated,
		CreatedAt:    r.clock.Now().UTC(),
	}
	if err := r.users.Create(ctx, account); err != nil {
		return nil, apperror.Wrap(err, "create user %s", profile.Username)
	}
	return account, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
