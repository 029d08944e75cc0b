package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus of a registration.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return true
	}
	return false
}

// Gender values accepted on registration.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Registration is one person's registration and the state of its payment.
type Registration struct {
	ID           uuid.UUID `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	NationalCode string    `json:"national_code"`
	Mobile       string    `json:"mobile"`
	BirthDate    time.Time `json:"birth_date"`
	Gender       string    `json:"gender"`
	Province     string    `json:"province"`
	City         string    `json:"city"`
	Venue        string    `json:"venue"`
	TrackingCode string    `json:"tracking_code"`

	PaymentAmount    int64         `json:"payment_amount"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentAuthority *string       `json:"payment_authority,omitempty"`
	PaymentRefID     *int64        `json:"payment_ref_id,omitempty"`
	PaymentCardPan   *string       `json:"payment_card_pan,omitempty"`
	PaymentDate      *time.Time    `json:"payment_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (r *Registration) FullName() string {
	return r.FirstName + " " + r.LastName
}

// RegistrationPublic is what an anonymous lookup by tracking code may see.
type RegistrationPublic struct {
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	TrackingCode  string        `json:"tracking_code"`
	Venue         string        `json:"venue"`
	PaymentAmount int64         `json:"payment_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRefID  *int64        `json:"payment_ref_id,omitempty"`
	PaymentDate   *time.Time    `json:"payment_date,omitempty"`
}

// ToPublic converts Registration to RegistrationPublic.
func (r *Registration) ToPublic() RegistrationPublic {
	return RegistrationPublic{
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		TrackingCode:  r.TrackingCode,
		Venue:         r.Venue,
		PaymentAmount: r.PaymentAmount,
		PaymentStatus: r.PaymentStatus,
		PaymentRefID:  r.PaymentRefID,
		PaymentDate:   r.PaymentDate,
	}
}

// PaymentResult holds the fields written once when a payment is verified.
type PaymentResult struct {
	RefID   int64
	CardPan string
	PaidAt  time.Time
}

// RegistrationFilter narrows dashboard listings.
type RegistrationFilter struct {
	Status PaymentStatus // empty means all
	Search string        // matches names, national code, mobile, tracking code
	Limit  int
	Offset int
}

// RegistrationStats summarises registrations by payment status.
type RegistrationStats struct {
	Total   int   `json:"total"`
	Paid    int   `json:"paid"`
	Pending int   `json:"pending"`
	Failed  int   `json:"failed"`
	Revenue int64 `json:"revenue"`
}
