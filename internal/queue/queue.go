package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"waqf-reconciliation-backend/internal/config"
	"waqf-reconciliation-backend/internal/lock"
	"waqf-reconciliation-backend/internal/services/distribution"
)

const (
	DistributionQueue = "distribution"

	TypeDistributionRun   = "distribution:run"
	TypeDistributionRetry = "distribution:retry"
)

type DistributionPayload struct {
	JobID string `json:"job_id"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules distribution work for the worker process.
type Queue struct {
	client Enqueuer
}

func New(client Enqueuer) *Queue {
	return &Queue{client: client}
}

func RedisConnOpt(cnf config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cnf.Addr, Password: cnf.Password, DB: cnf.DB}
}

func NewDistributionTask(taskType, jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DistributionPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload,
		asynq.Queue(DistributionQueue),
		asynq.MaxRetry(3),
		asynq.Timeout(24*time.Hour),
	), nil
}

func (q *Queue) EnqueueRun(ctx context.Context, jobID string) error {
	return q.enqueue(ctx, TypeDistributionRun, jobID)
}

func (q *Queue) EnqueueRetry(ctx context.Context, jobID string) error {
	return q.enqueue(ctx, TypeDistributionRetry, jobID)
}

func (q *Queue) enqueue(ctx context.Context, taskType, jobID string) error {
	task, err := NewDistributionTask(taskType, jobID)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"task_id":         info.ID,
		"type":            taskType,
		"distribution_id": jobID,
	}).Debug("task enqueued")
	return nil
}

// Runner executes distribution jobs.
type Runner interface {
	RunJob(ctx context.Context, jobID string) error
	RetryJob(ctx context.Context, jobID string) error
}

func NewServeMux(r Runner) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDistributionRun, handle("Process distribution run task", r.RunJob))
	mux.HandleFunc(TypeDistributionRetry, handle("Process distribution retry task", r.RetryJob))
	return mux
}

func NewServer(redis config.RedisConfig, concurrency int) *asynq.Server {
	return asynq.NewServer(RedisConnOpt(redis), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{DistributionQueue: 1},
		Logger:      logrus.StandardLogger(),
	})
}

// handle decodes the payload and runs fn. Errors that a retry cannot fix are
// marked with asynq.SkipRetry.
func handle(spanName string, fn func(context.Context, string) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("Queue").Start(ctx, spanName)
		defer span.End()

		var p DistributionPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.JobID == "" {
			logrus.WithError(err).WithField("type", t.Type()).Error("invalid distribution payload")
			return fmt.Errorf("invalid distribution payload: %w", asynq.SkipRetry)
		}

		logger := logrus.WithFields(logrus.Fields{"type": t.Type(), "distribution_id": p.JobID})
		err := fn(ctx, p.JobID)
		switch {
		case err == nil:
			logger.Info("distribution task processed")
			return nil
		case errors.Is(err, lock.ErrLockHeld), errors.Is(err, distribution.ErrJobRunning):
			logger.Warn("distribution is already being processed")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		case errors.Is(err, distribution.ErrNothingToRetry):
			logger.Info("nothing to retry")
			return nil
		default:
			span.RecordError(err)
			logger.WithError(err).Error("distribution task failed")
			return err
		}
	}
}
