package registrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/etekaf/backend/internal/models"
	"github.com/etekaf/backend/pkg/database"
)

const columns = `id, first_name, last_name, national_code, mobile, birth_date, gender,
	province, city, venue, tracking_code, payment_amount, payment_status, payment_authority,
	payment_ref_id, payment_card_pan, payment_date, created_at, updated_at`

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row scanner) (*models.Registration, error) {
	var reg models.Registration
	var status string
	err := row.Scan(&reg.ID, &reg.FirstName, &reg.LastName, &reg.NationalCode, &reg.Mobile, &reg.BirthDate, &reg.Gender,
		&reg.Province, &reg.City, &reg.Venue, &reg.TrackingCode, &reg.PaymentAmount, &status, &reg.PaymentAuthority,
		&reg.PaymentRefID, &reg.PaymentCardPan, &reg.PaymentDate, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	reg.PaymentStatus = models.PaymentStatus(status)
	return &reg, nil
}

// Create inserts a registration; the unique indexes decide duplicates.
func (r *Repository) Create(ctx context.Context, reg *models.Registration) error {
	const q = `INSERT INTO registrations (first_name, last_name, national_code, mobile, birth_date, gender,
		province, city, venue, tracking_code, payment_amount, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, reg.FirstName, reg.LastName, reg.NationalCode, reg.Mobile, reg.BirthDate, reg.Gender,
		reg.Province, reg.City, reg.Venue, reg.TrackingCode, reg.PaymentAmount, string(reg.PaymentStatus)).
		Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			return duplicateError(constraint)
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func duplicateError(constraint string) error {
	switch {
	case strings.Contains(constraint, "national_code"):
		return ErrDuplicateNationalCode
	case strings.Contains(constraint, "mobile"):
		return ErrDuplicateMobile
	case strings.Contains(constraint, "tracking_code"):
		return ErrDuplicateTrackingCode
	}
	return fmt.Errorf("%w: %s", ErrConflict, constraint)
}

// GetByID returns a registration by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM registrations WHERE id = $1`, id))
}

// GetByTrackingCode returns a registration by tracking code.
func (r *Repository) GetByTrackingCode(ctx context.Context, code string) (*models.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM registrations WHERE tracking_code = $1`, code))
}

// GetByAuthority returns the registration holding a payment authority.
func (r *Repository) GetByAuthority(ctx context.Context, authority string) (*models.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM registrations WHERE payment_authority = $1`, authority))
}

// FindByIdentity returns the registration for national code + mobile.
func (r *Repository) FindByIdentity(ctx context.Context, nationalCode, mobile string) (*models.Registration, error) {
	const q = `SELECT ` + columns + ` FROM registrations WHERE national_code = $1 AND mobile = $2`
	return scanRegistration(r.pool.QueryRow(ctx, q, nationalCode, mobile))
}

// FindPending returns the pending registration for national code + mobile.
func (r *Repository) FindPending(ctx context.Context, nationalCode, mobile string) (*models.Registration, error) {
	const q = `SELECT ` + columns + ` FROM registrations
		WHERE national_code = $1 AND mobile = $2 AND payment_status = 'pending'`
	return scanRegistration(r.pool.QueryRow(ctx, q, nationalCode, mobile))
}

// SetAuthority records the authority of a new payment attempt on a pending registration.
func (r *Repository) SetAuthority(ctx context.Context, id uuid.UUID, authority string) error {
	const q = `UPDATE registrations SET payment_authority = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'`
	tag, err := r.pool.Exec(ctx, q, id, authority)
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return fmt.Errorf("%w: authority already assigned", ErrConflict)
		}
		return fmt.Errorf("set authority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid transitions pending -> paid and writes the payment result in one statement.
func (r *Repository) MarkPaid(ctx context.Context, authority string, res models.PaymentResult) (*models.Registration, error) {
	const q = `UPDATE registrations
		SET payment_status = 'paid', payment_ref_id = $2, payment_card_pan = $3, payment_date = $4, updated_at = NOW()
		WHERE payment_authority = $1 AND payment_status = 'pending'
		RETURNING ` + columns
	return scanRegistration(r.pool.QueryRow(ctx, q, authority, res.RefID, res.CardPan, res.PaidAt))
}

// MarkFailed transitions pending -> failed.
func (r *Repository) MarkFailed(ctx context.Context, authority string) (*models.Registration, error) {
	const q = `UPDATE registrations SET payment_status = 'failed', updated_at = NOW()
		WHERE payment_authority = $1 AND payment_status = 'pending'
		RETURNING ` + columns
	return scanRegistration(r.pool.QueryRow(ctx, q, authority))
}

// ResetFailed transitions failed -> pending and clears the previous authority.
func (r *Repository) ResetFailed(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	const q = `UPDATE registrations SET payment_status = 'pending', payment_authority = NULL, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'failed'
		RETURNING ` + columns
	return scanRegistration(r.pool.QueryRow(ctx, q, id))
}

// List returns registrations matching f, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, f models.RegistrationFilter) ([]models.Registration, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM registrations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}

	q := `SELECT ` + columns + ` FROM registrations` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()
	var list []models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *reg)
	}
	return list, total, rows.Err()
}

func filterClause(f models.RegistrationFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d OR national_code LIKE $%[1]d OR mobile LIKE $%[1]d OR tracking_code ILIKE $%[1]d)", n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Stats counts registrations per payment status and sums paid amounts.
func (r *Repository) Stats(ctx context.Context) (*models.RegistrationStats, error) {
	const q = `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE payment_status = 'paid'),
		COUNT(*) FILTER (WHERE payment_status = 'pending'),
		COUNT(*) FILTER (WHERE payment_status = 'failed'),
		COALESCE(SUM(payment_amount) FILTER (WHERE payment_status = 'paid'), 0)
		FROM registrations`
	var s models.RegistrationStats
	if err := r.pool.QueryRow(ctx, q).Scan(&s.Total, &s.Paid, &s.Pending, &s.Failed, &s.Revenue); err != nil {
		return nil, fmt.Errorf("registration stats: %w", err)
	}
	return &s, nil
}
