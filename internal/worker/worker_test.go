package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etekaf/backend/pkg/queue"
	"github.com/etekaf/backend/pkg/storage"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failN   int
}

func (m *memoryObjects) Upload(_ context.Context, key, _ string, body io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errors.New("s3 unavailable")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = b
	return nil
}

func (m *memoryObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryObjects) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// chanJobs feeds jobs from a channel and pushes retries back onto it.
type chanJobs struct {
	jobs    chan *queue.Job
	retries int
	mu      sync.Mutex
}

func (c *chanJobs) Dequeue(ctx context.Context) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, nil
	case j := <-c.jobs:
		return j, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (c *chanJobs) Retry(_ context.Context, job *queue.Job) error {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
	job.Attempt++
	c.jobs <- job
	return nil
}

func receiptJob(t *testing.T) (*queue.Job, queue.ReceiptPayload) {
	t.Helper()
	p := queue.ReceiptPayload{
		RegistrationID: uuid.New(),
		TrackingCode:   "ETK123456789",
		FullName:       "Ali Rezaei",
		Mobile:         "09121234567",
		Venue:          "Main Hall",
		Amount:         650000,
		Authority:      "A000000000000000000000000000123456789",
		RefID:          987654,
		CardPan:        "610433******1234",
		PaidAt:         time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	job, err := queue.NewJob(queue.JobTypeReceipt, p)
	require.NoError(t, err)
	return job, p
}

func TestProcessWritesReceipt(t *testing.T) {
	objs := &memoryObjects{}
	p := NewReceiptProcessor(nil, objs, nil)
	issued := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	p.now = func() time.Time { return issued }

	job, payload := receiptJob(t)
	require.NoError(t, p.Process(context.Background(), job))

	raw, ok := objs.get(storage.ReceiptKey(payload.TrackingCode))
	require.True(t, ok)
	var got Receipt
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, NewReceipt(payload, issued), got)

	// A second delivery does not overwrite.
	p.now = func() time.Time { return issued.Add(time.Hour) }
	require.NoError(t, p.Process(context.Background(), job))
	again, _ := objs.get(storage.ReceiptKey(payload.TrackingCode))
	assert.Equal(t, raw, again)
}

func TestProcessRejectsBadJobs(t *testing.T) {
	p := NewReceiptProcessor(nil, &memoryObjects{}, nil)

	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: "other"}))
	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: queue.JobTypeReceipt, Payload: []byte("{")}))
	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: queue.JobTypeReceipt, Payload: []byte("{}")}))
}

func TestRunRetriesFailedUploads(t *testing.T) {
	objs := &memoryObjects{failN: 1}
	jobs := &chanJobs{jobs: make(chan *queue.Job, 4)}
	p := NewReceiptProcessor(jobs, objs, nil)
	p.backoff = time.Millisecond

	job, payload := receiptJob(t)
	jobs.jobs <- job

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := objs.get(storage.ReceiptKey(payload.TrackingCode))
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, 1, jobs.retries)
}
