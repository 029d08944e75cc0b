package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/etekaf/backend/internal/metrics"
	"github.com/etekaf/backend/internal/models"
	"github.com/etekaf/backend/internal/registrations"
	"github.com/etekaf/backend/internal/zarinpal"
	"github.com/etekaf/backend/pkg/queue"
	"github.com/etekaf/backend/pkg/utils"
)

// StatusOK is the callback Status value the gateway sends for a completed payment.
const StatusOK = "OK"

var tracer = otel.Tracer("github.com/etekaf/backend/internal/payments")

// ErrCancelled is returned when the gateway reports the payer did not complete the payment.
var ErrCancelled = errors.New("payment cancelled by user")

// ErrSuperseded is returned when the gateway confirmed a payment but the registration
// had meanwhile moved to another attempt. Such payments need manual reconciliation.
var ErrSuperseded = errors.New("payment attempt superseded")

// ErrAlreadyPaid is returned when a new payment attempt targets a paid registration.
var ErrAlreadyPaid = fmt.Errorf("%w: registration already paid", registrations.ErrConflict)

// Store is the subset of registrations.Store the reconciliation flow needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	GetByAuthority(ctx context.Context, authority string) (*models.Registration, error)
	FindByIdentity(ctx context.Context, nationalCode, mobile string) (*models.Registration, error)
	FindPending(ctx context.Context, nationalCode, mobile string) (*models.Registration, error)
	SetAuthority(ctx context.Context, id uuid.UUID, authority string) error
	MarkPaid(ctx context.Context, authority string, res models.PaymentResult) (*models.Registration, error)
	MarkFailed(ctx context.Context, authority string) (*models.Registration, error)
	ResetFailed(ctx context.Context, id uuid.UUID) (*models.Registration, error)
}

// Gateway is the external payment provider.
type Gateway interface {
	RequestPayment(ctx context.Context, amount int64, description string, meta *zarinpal.Metadata) (*zarinpal.PaymentRequest, error)
	VerifyPayment(ctx context.Context, authority string, amount int64) (*zarinpal.Verification, error)
}

// Locker serializes payment work on one registration: authority issue and callbacks.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ReceiptQueue receives paid registrations for archiving.
type ReceiptQueue interface {
	EnqueueReceipt(ctx context.Context, payload queue.ReceiptPayload) error
}

// Config tunes the service.
type Config struct {
	Description    string
	GatewayTimeout time.Duration
	LockTTL        time.Duration
}

// Initiation is a started payment attempt.
type Initiation struct {
	RegistrationID uuid.UUID `json:"registration_id"`
	TrackingCode   string    `json:"tracking_code"`
	Authority      string    `json:"authority"`
	PaymentURL     string    `json:"payment_url"`
	Amount         int64     `json:"amount"`
}

// Service drives registrations from pending to paid or failed.
type Service struct {
	store    Store
	gateway  Gateway
	locker   Locker
	receipts ReceiptQueue
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a payment reconciliation service. receipts may be nil.
func NewService(store Store, gateway Gateway, locker Locker, receipts ReceiptQueue, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.GatewayTimeout
	}
	return &Service{
		store:    store,
		gateway:  gateway,
		locker:   locker,
		receipts: receipts,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// InitiatePayment requests a gateway authority for the pending registration of
// nationalCode + mobile and returns where to send the payer. amount <= 0 means the
// registration's own amount; any other amount must equal it.
func (s *Service) InitiatePayment(ctx context.Context, nationalCode, mobile string, amount int64) (*Initiation, error) {
	nationalCode, mobile, err := normalizeIdentity(nationalCode, mobile)
	if err != nil {
		return nil, err
	}
	reg, err := s.store.FindPending(ctx, nationalCode, mobile)
	if err != nil {
		if errors.Is(err, registrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: no pending registration for this identity", registrations.ErrNotFound)
		}
		return nil, fmt.Errorf("find pending registration: %w", err)
	}
	if amount > 0 && amount != reg.PaymentAmount {
		return nil, fmt.Errorf("%w: amount %d does not match registration amount %d", registrations.ErrValidation, amount, reg.PaymentAmount)
	}
	return s.requestAuthority(ctx, reg)
}

// RetryPayment starts a fresh attempt for a registration whose last payment failed.
// A pending registration is simply re-issued an authority; a paid one is rejected.
func (s *Service) RetryPayment(ctx context.Context, nationalCode, mobile string) (*Initiation, error) {
	nationalCode, mobile, err := normalizeIdentity(nationalCode, mobile)
	if err != nil {
		return nil, err
	}
	reg, err := s.store.FindByIdentity(ctx, nationalCode, mobile)
	if err != nil {
		return nil, err
	}
	switch reg.PaymentStatus {
	case models.PaymentStatusPaid:
		return nil, ErrAlreadyPaid
	case models.PaymentStatusFailed:
		reg, err = s.store.ResetFailed(ctx, reg.ID)
		if err != nil {
			return nil, fmt.Errorf("reset failed registration: %w", err)
		}
		s.logger.Info("payment retry", zap.String("registration_id", reg.ID.String()))
	}
	return s.requestAuthority(ctx, reg)
}

func (s *Service) requestAuthority(ctx context.Context, reg *models.Registration) (*Initiation, error) {
	unlock, err := s.lock(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// A callback may have settled the registration while we waited.
	reg, err = s.current(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	switch reg.PaymentStatus {
	case models.PaymentStatusPaid:
		return nil, ErrAlreadyPaid
	case models.PaymentStatusFailed:
		return nil, fmt.Errorf("%w: no pending registration for this identity", registrations.ErrNotFound)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	req, err := s.gateway.RequestPayment(gwCtx, reg.PaymentAmount, s.description(reg), &zarinpal.Metadata{Mobile: reg.Mobile})
	s.metrics.ObserveGateway(zarinpal.OpRequest, start)
	if err != nil {
		s.metrics.IncPaymentRequest("error")
		s.logger.Warn("payment request rejected", zap.String("registration_id", reg.ID.String()), zap.Error(err))
		return nil, asGatewayError(zarinpal.OpRequest, err)
	}
	s.metrics.IncPaymentRequest("ok")

	if err := s.store.SetAuthority(ctx, reg.ID, req.Authority); err != nil {
		return nil, fmt.Errorf("store authority: %w", err)
	}
	s.logger.Info("payment initiated",
		zap.String("registration_id", reg.ID.String()),
		zap.String("authority", req.Authority))
	return &Initiation{
		RegistrationID: reg.ID,
		TrackingCode:   reg.TrackingCode,
		Authority:      req.Authority,
		PaymentURL:     req.PaymentURL,
		Amount:         reg.PaymentAmount,
	}, nil
}

func (s *Service) description(reg *models.Registration) string {
	if s.cfg.Description == "" {
		return reg.FullName()
	}
	return s.cfg.Description + " - " + reg.FullName()
}

// HandleCallback reconciles the gateway's callback for authority.
//
// A paid registration is returned unchanged with a nil error. On verification failure
// or cancellation the registration moves to failed and is returned together with the
// cause. An unknown authority, or one whose registration already failed, is ErrNotFound.
func (s *Service) HandleCallback(ctx context.Context, authority, gatewayStatus string) (reg *models.Registration, err error) {
	ctx, span := tracer.Start(ctx, "payments.HandleCallback")
	defer func() {
		if reg != nil {
			span.SetAttributes(attribute.String("payment.status", string(reg.PaymentStatus)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "callback not paid")
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("payment.authority", authority),
		attribute.String("payment.gateway_status", gatewayStatus))

	authority = strings.TrimSpace(authority)
	if authority == "" {
		return nil, fmt.Errorf("%w: authority is missing", registrations.ErrValidation)
	}

	reg, err = s.store.GetByAuthority(ctx, authority)
	if err != nil {
		if errors.Is(err, registrations.ErrNotFound) {
			s.metrics.ObserveCallback(metrics.OutcomeNotFound)
			s.logger.Warn("callback for unknown authority", zap.String("authority", authority))
		}
		return nil, err
	}

	unlock, err := s.lock(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reg, err = s.current(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	if reg.PaymentAuthority == nil || *reg.PaymentAuthority != authority {
		s.metrics.ObserveCallback(metrics.OutcomeNotFound)
		s.logger.Warn("callback for replaced authority",
			zap.String("authority", authority),
			zap.String("registration_id", reg.ID.String()))
		return nil, fmt.Errorf("%w: authority was replaced by a newer attempt", registrations.ErrNotFound)
	}
	switch reg.PaymentStatus {
	case models.PaymentStatusPaid:
		s.metrics.ObserveCallback(metrics.OutcomeDuplicate)
		return reg, nil
	case models.PaymentStatusFailed:
		s.metrics.ObserveCallback(metrics.OutcomeNotFound)
		return nil, fmt.Errorf("%w: payment attempt already failed", registrations.ErrNotFound)
	}

	if gatewayStatus != StatusOK {
		s.metrics.ObserveCallback(metrics.OutcomeCancelled)
		return s.fail(ctx, reg, ErrCancelled)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	start := time.Now()
	v, err := s.gateway.VerifyPayment(gwCtx, authority, reg.PaymentAmount)
	s.metrics.ObserveGateway(zarinpal.OpVerify, start)
	cancel()
	if err != nil {
		s.metrics.ObserveCallback(metrics.OutcomeFailed)
		return s.fail(ctx, reg, asGatewayError(zarinpal.OpVerify, err))
	}

	paid, err := s.store.MarkPaid(ctx, authority, models.PaymentResult{
		RefID:   v.RefID,
		CardPan: v.CardPan,
		PaidAt:  s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, registrations.ErrNotFound) {
			return s.lostPaid(ctx, reg.ID, authority, v)
		}
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	s.metrics.ObserveCallback(metrics.OutcomePaid)
	s.logger.Info("payment verified",
		zap.String("registration_id", paid.ID.String()),
		zap.String("tracking_code", paid.TrackingCode),
		zap.Int64("ref_id", v.RefID),
		zap.Bool("already_verified", v.AlreadyVerified()))
	s.enqueueReceipt(ctx, paid, authority)
	return paid, nil
}

// lostPaid handles a verified payment whose conditional update matched nothing.
// Only a registration another writer already marked paid counts as success.
func (s *Service) lostPaid(ctx context.Context, id uuid.UUID, authority string, v *zarinpal.Verification) (*models.Registration, error) {
	cur, err := s.current(ctx, id)
	if err == nil && cur.PaymentStatus == models.PaymentStatusPaid {
		s.metrics.ObserveCallback(metrics.OutcomeDuplicate)
		return cur, nil
	}
	s.metrics.ObserveCallback(metrics.OutcomeSuperseded)
	fields := []zap.Field{
		zap.String("registration_id", id.String()),
		zap.String("authority", authority),
		zap.Int64("ref_id", v.RefID),
		zap.String("card_pan", v.CardPan),
	}
	if err != nil {
		fields = append(fields, zap.NamedError("reload_error", err))
	} else {
		fields = append(fields, zap.String("status", string(cur.PaymentStatus)))
	}
	s.logger.Error("verified payment not recorded, reconcile manually", fields...)
	return cur, ErrSuperseded
}

func (s *Service) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, "payment:"+id.String(), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock registration: %w", err)
	}
	return unlock, nil
}

// fail moves reg to failed and returns it with cause. If the conditional update finds
// the registration no longer pending, the stored state wins.
func (s *Service) fail(ctx context.Context, reg *models.Registration, cause error) (*models.Registration, error) {
	failed, err := s.store.MarkFailed(ctx, *reg.PaymentAuthority)
	if err != nil {
		if errors.Is(err, registrations.ErrNotFound) {
			cur, curErr := s.current(ctx, reg.ID)
			if curErr != nil {
				s.logger.Error("reload after lost failure update",
					zap.String("registration_id", reg.ID.String()),
					zap.NamedError("cause", cause),
					zap.Error(curErr))
				return nil, fmt.Errorf("%w (%v)", cause, curErr)
			}
			if cur.PaymentStatus == models.PaymentStatusPaid {
				return cur, nil
			}
			return cur, cause
		}
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	s.logger.Info("payment failed",
		zap.String("registration_id", failed.ID.String()),
		zap.String("reason", cause.Error()))
	return failed, cause
}

func (s *Service) current(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	reg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload registration: %w", err)
	}
	return reg, nil
}

func (s *Service) enqueueReceipt(ctx context.Context, reg *models.Registration, authority string) {
	if s.receipts == nil {
		return
	}
	payload := queue.ReceiptPayload{
		RegistrationID: reg.ID,
		TrackingCode:   reg.TrackingCode,
		FullName:       reg.FullName(),
		Mobile:         reg.Mobile,
		Venue:          reg.Venue,
		Amount:         reg.PaymentAmount,
		Authority:      authority,
	}
	if reg.PaymentRefID != nil {
		payload.RefID = *reg.PaymentRefID
	}
	if reg.PaymentCardPan != nil {
		payload.CardPan = *reg.PaymentCardPan
	}
	if reg.PaymentDate != nil {
		payload.PaidAt = *reg.PaymentDate
	}
	if err := s.receipts.EnqueueReceipt(ctx, payload); err != nil {
		s.logger.Error("enqueue receipt failed", zap.String("registration_id", reg.ID.String()), zap.Error(err))
	}
}

func normalizeIdentity(nationalCode, mobile string) (string, string, error) {
	nationalCode = utils.NormalizeDigits(strings.TrimSpace(nationalCode))
	mobile = utils.NormalizeDigits(strings.TrimSpace(mobile))
	if !utils.ValidNationalCode(nationalCode) {
		return "", "", fmt.Errorf("%w: invalid national code", registrations.ErrValidation)
	}
	if !utils.ValidMobile(mobile) {
		return "", "", fmt.Errorf("%w: invalid mobile number", registrations.ErrValidation)
	}
	return nationalCode, mobile, nil
}

// asGatewayError makes sure every gateway failure, including a timeout, is a *zarinpal.GatewayError.
func asGatewayError(op string, err error) error {
	if errors.Is(err, zarinpal.ErrGateway) {
		return err
	}
	msg := "gateway call failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "gateway timed out"
	}
	return &zarinpal.GatewayError{Op: op, Message: msg, Err: err}
}
