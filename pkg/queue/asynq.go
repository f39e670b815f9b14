package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/types"
)

// retention keeps finished work items visible to queue inspection
// tools for a day before asynq prunes them.
const retention = 24 * time.Hour

// processingCeiling bounds how long the queue lets one work item run.
// It sits well above the 72 h runtime sweep, which owns the real
// kill decision; this is only the queue's backstop.
const processingCeiling = 7 * 24 * time.Hour

// AsynqQueue is the production queue, backed by the fast store
type AsynqQueue struct {
	client    *asynq.Client
	queueName string
}

// NewAsynqQueue creates a queue client. queueName isolates this
// service's work items from anything else sharing the fast store.
func NewAsynqQueue(redisOpt asynq.RedisClientOpt, queueName string) *AsynqQueue {
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
	}
}

// EnqueueJob queues an execution work item under the job's
// deterministic id. A second enqueue of the same job, whether from the
// scheduler, recovery, or a cleanup re-enqueue, returns ErrDuplicate.
func (q *AsynqQueue) EnqueueJob(ctx context.Context, jobID int64) error {
	payload, err := EncodePayload(jobID)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeJobExecute, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.TaskID(types.JobQueueID(jobID)),
		asynq.Queue(q.queueName),
		asynq.MaxRetry(0),
		asynq.Timeout(processingCeiling),
		asynq.Retention(retention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			metrics.QueueDuplicates.Inc()
			return fmt.Errorf("%w: job %d", ErrDuplicate, jobID)
		}
		return fmt.Errorf("failed to enqueue job %d: %w", jobID, err)
	}

	metrics.QueueEnqueued.Inc()
	log.Logger.Debug().Int64("job", jobID).Str("queue", q.queueName).Msg("Job enqueued")

	return nil
}

// Close releases the queue client's connections
func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// NewServer builds the consumer side of the queue. The worker pool
// registers its handler on a mux and runs this server; concurrency is
// the number of jobs supervised at once.
func NewServer(redisOpt asynq.RedisClientOpt, queueName string, concurrency int) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		Logger:      asynqLogger{},
		LogLevel:    asynq.WarnLevel,
	})
}

// asynqLogger routes the queue library's own logging into the
// service's structured logger.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { log.Logger.Debug().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...interface{})  { log.Logger.Info().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...interface{})  { log.Logger.Warn().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...interface{}) { log.Logger.Error().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...interface{}) { log.Logger.Fatal().Msg(fmt.Sprint(args...)) }
