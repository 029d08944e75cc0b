package registrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/etekaf/backend/internal/metrics"
	"github.com/etekaf/backend/internal/models"
	"github.com/etekaf/backend/pkg/utils"
)

// maxTrackingAttempts bounds regeneration after a tracking code collision.
const maxTrackingAttempts = 5

// LocationChecker validates a province/city/venue choice.
type LocationChecker interface {
	Contains(province, city, venue string) bool
	Single() (province, city, venue string, ok bool)
}

// CreateInput is the registrant payload.
type CreateInput struct {
	FirstName    string
	LastName     string
	NationalCode string
	Mobile       string
	BirthDate    string // YYYY-MM-DD or RFC3339
	Gender       string
	Province     string
	City         string
	Venue        string
}

// Service creates registrations.
type Service struct {
	store     Store
	locations LocationChecker
	amount    int64
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a registration service charging amount (Toman) per registration.
func NewService(store Store, locations LocationChecker, amount int64, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, locations: locations, amount: amount, metrics: m, logger: logger, now: time.Now}
}

// Create validates in and persists a pending registration with a fresh tracking code.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Registration, error) {
	reg, err := s.build(in)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		code, err := utils.NewTrackingCode(s.now())
		if err != nil {
			return nil, err
		}
		reg.TrackingCode = code

		err = s.store.Create(ctx, reg)
		switch {
		case err == nil:
			s.metrics.IncRegistrationCreated()
			s.logger.Info("registration created",
				zap.String("registration_id", reg.ID.String()),
				zap.String("tracking_code", reg.TrackingCode))
			return reg, nil
		case errors.Is(err, ErrDuplicateTrackingCode) && attempt < maxTrackingAttempts:
			s.logger.Warn("tracking code collision, regenerating", zap.String("tracking_code", code), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, ErrDuplicateNationalCode):
			s.metrics.IncRegistrationConflict("national_code")
			return nil, err
		case errors.Is(err, ErrDuplicateMobile):
			s.metrics.IncRegistrationConflict("mobile")
			return nil, err
		default:
			return nil, fmt.Errorf("create registration: %w", err)
		}
	}
}

// Lookup returns the registration with trackingCode if mobile matches it.
func (s *Service) Lookup(ctx context.Context, trackingCode, mobile string) (*models.Registration, error) {
	trackingCode = strings.ToUpper(strings.TrimSpace(trackingCode))
	mobile = utils.NormalizeDigits(strings.TrimSpace(mobile))
	if !utils.ValidTrackingCode(trackingCode) {
		return nil, validationError("invalid tracking code")
	}
	reg, err := s.store.GetByTrackingCode(ctx, trackingCode)
	if err != nil {
		return nil, err
	}
	if reg.Mobile != mobile {
		return nil, ErrNotFound
	}
	return reg, nil
}

func (s *Service) build(in CreateInput) (*models.Registration, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, validationError("first and last name are required")
	}
	nationalCode := utils.NormalizeDigits(strings.TrimSpace(in.NationalCode))
	if !utils.ValidNationalCode(nationalCode) {
		return nil, validationError("invalid national code")
	}
	mobile := utils.NormalizeDigits(strings.TrimSpace(in.Mobile))
	if !utils.ValidMobile(mobile) {
		return nil, validationError("invalid mobile number")
	}
	birthDate, err := parseBirthDate(in.BirthDate)
	if err != nil {
		return nil, err
	}
	if !birthDate.Before(s.now()) {
		return nil, validationError("birth date must be in the past")
	}
	gender := strings.ToLower(strings.TrimSpace(in.Gender))
	if gender != models.GenderMale && gender != models.GenderFemale {
		return nil, validationError("gender must be male or female")
	}

	province, city, venue := strings.TrimSpace(in.Province), strings.TrimSpace(in.City), strings.TrimSpace(in.Venue)
	if province == "" && city == "" && venue == "" {
		if p, c, v, ok := s.locations.Single(); ok {
			province, city, venue = p, c, v
		}
	}
	if !s.locations.Contains(province, city, venue) {
		return nil, validationError("unknown location %q / %q / %q", province, city, venue)
	}

	return &models.Registration{
		FirstName:     first,
		LastName:      last,
		NationalCode:  nationalCode,
		Mobile:        mobile,
		BirthDate:     birthDate,
		Gender:        gender,
		Province:      province,
		City:          city,
		Venue:         venue,
		PaymentAmount: s.amount,
		PaymentStatus: models.PaymentStatusPending,
	}, nil
}

func parseBirthDate(s string) (time.Time, error) {
	s = utils.NormalizeDigits(strings.TrimSpace(s))
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, validationError("invalid birth date %q", s)
}
