package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	data, err := EncodePayload(42)
	require.NoError(t, err)

	p, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.JobID)
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := DecodePayload([]byte("not json"))
	assert.Error(t, err)
}

func TestMemoryQueueDedupe(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.EnqueueJob(ctx, 1))
	require.NoError(t, q.EnqueueJob(ctx, 2))

	// The second enqueue of job 1 is rejected, as the production queue
	// rejects a reused deterministic id
	err := q.EnqueueJob(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.Equal(t, []int64{1, 2}, q.Queued())
}
