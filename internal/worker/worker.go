package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/etekaf/backend/pkg/queue"
	"github.com/etekaf/backend/pkg/storage"
)

// JobSource yields receipt jobs and takes back failed ones.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ObjectStore is where receipts are archived.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Receipt is the archived record of a verified payment.
type Receipt struct {
	RegistrationID uuid.UUID `json:"registration_id"`
	TrackingCode   string    `json:"tracking_code"`
	FullName       string    `json:"full_name"`
	Mobile         string    `json:"mobile"`
	Venue          string    `json:"venue"`
	AmountToman    int64     `json:"amount_toman"`
	Authority      string    `json:"authority"`
	RefID          int64     `json:"ref_id"`
	CardPan        string    `json:"card_pan"`
	PaidAt         time.Time `json:"paid_at"`
	IssuedAt       time.Time `json:"issued_at"`
}

// NewReceipt builds the receipt document for payload.
func NewReceipt(p queue.ReceiptPayload, issuedAt time.Time) Receipt {
	return Receipt{
		RegistrationID: p.RegistrationID,
		TrackingCode:   p.TrackingCode,
		FullName:       p.FullName,
		Mobile:         p.Mobile,
		Venue:          p.Venue,
		AmountToman:    p.Amount,
		Authority:      p.Authority,
		RefID:          p.RefID,
		CardPan:        p.CardPan,
		PaidAt:         p.PaidAt.UTC(),
		IssuedAt:       issuedAt.UTC(),
	}
}

// ReceiptProcessor archives paid registrations as JSON receipts.
type ReceiptProcessor struct {
	jobs    JobSource
	store   ObjectStore
	logger  *zap.Logger
	backoff time.Duration
	now     func() time.Time
}

// NewReceiptProcessor creates a receipt archiver.
func NewReceiptProcessor(jobs JobSource, store ObjectStore, logger *zap.Logger) *ReceiptProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptProcessor{jobs: jobs, store: store, logger: logger, backoff: queue.RetryBackoff, now: time.Now}
}

// Process executes one receipt job. A receipt already in storage is left alone.
func (p *ReceiptProcessor) Process(ctx context.Context, job *queue.Job) error {
	ctx, span := otel.Tracer("github.com/etekaf/backend/internal/worker").Start(ctx, "worker.ProcessReceipt")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.Int("job.attempt", job.Attempt))

	if job.Type != queue.JobTypeReceipt {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ReceiptPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.TrackingCode == "" {
		return fmt.Errorf("receipt job %s has no tracking code", job.ID)
	}

	key := storage.ReceiptKey(payload.TrackingCode)
	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		p.logger.Info("receipt already archived", zap.String("key", key))
		return nil
	}

	body, err := json.MarshalIndent(NewReceipt(payload, p.now()), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if err := p.store.Upload(ctx, key, storage.ContentTypeJSON, bytes.NewReader(body)); err != nil {
		return err
	}
	p.logger.Info("receipt archived",
		zap.String("tracking_code", payload.TrackingCode),
		zap.String("key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *ReceiptProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("receipt worker stopping")
			return
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ReceiptProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
