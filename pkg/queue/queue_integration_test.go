//go:build integration

package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etekaf/backend/pkg/testutil/containers"
)

func TestQueueIntegration(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	q := NewQueue(rc.Client, nil)
	ctx := context.Background()

	payload := ReceiptPayload{
		RegistrationID: uuid.New(),
		TrackingCode:   "ETK123456789",
		Amount:         650000,
		RefID:          987654,
		PaidAt:         time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, q.EnqueueReceipt(ctx, payload))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeReceipt, job.Type)
	var got ReceiptPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		job, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, i, job.Attempt)
	}

	require.NoError(t, q.Retry(ctx, job))
	dlq, err := rc.Client.LLen(ctx, QueueDLQ).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq)

	emptyCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	job, err = q.Dequeue(emptyCtx)
	assert.NoError(t, err)
	assert.Nil(t, job)
}
