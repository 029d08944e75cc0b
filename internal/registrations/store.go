package registrations

import (
	"context"

	"github.com/google/uuid"

	"github.com/etekaf/backend/internal/models"
)

// Store persists registrations. Implementations enforce uniqueness of national code,
// mobile, tracking code and payment authority, and apply every payment transition as a
// single conditional write.
type Store interface {
	// Create inserts reg, filling ID and timestamps. Unique violations surface as
	// ErrDuplicateNationalCode, ErrDuplicateMobile or ErrDuplicateTrackingCode.
	Create(ctx context.Context, reg *models.Registration) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	GetByTrackingCode(ctx context.Context, code string) (*models.Registration, error)
	GetByAuthority(ctx context.Context, authority string) (*models.Registration, error)
	// FindByIdentity returns the registration with this national code and mobile in any status.
	FindByIdentity(ctx context.Context, nationalCode, mobile string) (*models.Registration, error)
	// FindPending is FindByIdentity restricted to status pending.
	FindPending(ctx context.Context, nationalCode, mobile string) (*models.Registration, error)

	// SetAuthority stores the gateway authority if the registration is still pending.
	SetAuthority(ctx context.Context, id uuid.UUID, authority string) error
	// MarkPaid moves pending -> paid for the registration holding authority, writing the
	// payment result in the same statement. ErrNotFound if nothing pending matched.
	MarkPaid(ctx context.Context, authority string, res models.PaymentResult) (*models.Registration, error)
	// MarkFailed moves pending -> failed for the registration holding authority.
	MarkFailed(ctx context.Context, authority string) (*models.Registration, error)
	// ResetFailed moves failed -> pending and clears the authority for a new attempt.
	ResetFailed(ctx context.Context, id uuid.UUID) (*models.Registration, error)

	List(ctx context.Context, f models.RegistrationFilter) ([]models.Registration, int, error)
	Stats(ctx context.Context) (*models.RegistrationStats, error)
}
