package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// TypeJobExecute is the task type for job execution work items
const TypeJobExecute = "job:execute"

// ErrDuplicate reports an enqueue rejected by the deterministic-id
// dedupe. The scheduler and recovery both treat it as "already queued,
// move on".
var ErrDuplicate = errors.New("work item already enqueued")

// JobPayload is the body of an execution work item. It carries only
// the job id; the worker reloads the job from the authoritative store
// so a stale payload can never override current state.
type JobPayload struct {
	JobID int64 `json:"job_id"`
}

// Queue hands jobs to the worker pool. Implementations must reject a
// second enqueue of the same job with ErrDuplicate.
type Queue interface {
	EnqueueJob(ctx context.Context, jobID int64) error
	Close() error
}

// EncodePayload marshals a work item body
func EncodePayload(jobID int64) ([]byte, error) {
	data, err := json.Marshal(JobPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a work item body
func DecodePayload(data []byte) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return JobPayload{}, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return p, nil
}
