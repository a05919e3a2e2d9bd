package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"waqf-reconciliation-backend/internal/models"
)

var ErrInvalidTransition = errors.New("invalid distribution state transition")

type JobStore interface {
	Create(ctx context.Context, job *models.DistributionJob) error
	Get(ctx context.Context, id string) (*models.DistributionJob, error)
	Save(ctx context.Context, job *models.DistributionJob) error
	UpdateStatus(ctx context.Context, id, status string) error
	List(ctx context.Context, limit int) ([]models.DistributionJob, error)
}

// Scheduler hands jobs to the background workers.
type Scheduler interface {
	EnqueueRun(ctx context.Context, jobID string) error
	EnqueueRetry(ctx context.Context, jobID string) error
}

type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// PauseController raises and clears the shared pause flag of a job.
type PauseController interface {
	PauseSignal
	Request(ctx context.Context, jobID string) error
	Clear(ctx context.Context, jobID string) error
}

type ServiceConfig struct {
	BatchSize int
	Processor ProcessorConfig
}

// Service owns distribution jobs. The API side creates and controls jobs; the
// worker side executes them through RunJob and RetryJob.
type Service struct {
	store     JobStore
	scheduler Scheduler
	locker    Locker
	pause     PauseController
	gateway   Gateway
	cfg       ServiceConfig
}

func NewService(store JobStore, scheduler Scheduler, locker Locker, pause PauseController, gateway Gateway, cfg ServiceConfig) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Service{
		store:     store,
		scheduler: scheduler,
		locker:    locker,
		pause:     pause,
		gateway:   gateway,
		cfg:       cfg,
	}
}

// CreateJob partitions the recipients and stores the job as idle. An empty id
// is generated, a zero batch size uses the configured default.
func (s *Service) CreateJob(ctx context.Context, id string, recipients []Recipient, batchSize int) (JobSummary, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if batchSize == 0 {
		batchSize = s.cfg.BatchSize
	}
	job, err := NewJob(id, recipients, batchSize)
	if err != nil {
		return JobSummary{}, err
	}
	rec, err := toRecord(job)
	if err != nil {
		return JobSummary{}, err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return JobSummary{}, fmt.Errorf("failed to store distribution: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"distribution_id": id,
		"recipients":      job.TotalRecipients(),
		"batches":         job.TotalBatches(),
	}).Info("distribution created")
	return job.Summary(), nil
}

// Start queues an idle job for processing.
func (s *Service) Start(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if JobStatus(rec.Status) != JobIdle {
		return fmt.Errorf("%w: cannot start a %s distribution", ErrInvalidTransition, rec.Status)
	}
	return s.enqueue(ctx, id, s.scheduler.EnqueueRun)
}

// Pause raises the pause flag. A running worker stops at the next item
// boundary; a job that is not running is marked paused directly.
func (s *Service) Pause(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch JobStatus(rec.Status) {
	case JobCompleted, JobCompletedWithErrors:
		return fmt.Errorf("%w: distribution already finished", ErrInvalidTransition)
	}
	if err := s.pause.Request(ctx, id); err != nil {
		return fmt.Errorf("failed to signal pause: %w", err)
	}
	if JobStatus(rec.Status) == JobIdle {
		return s.store.UpdateStatus(ctx, id, string(JobPaused))
	}
	logrus.WithField("distribution_id", id).Info("distribution pause requested")
	return nil
}

// Resume continues a paused job at the batch and item where it stopped.
func (s *Service) Resume(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if JobStatus(rec.Status) != JobPaused {
		return fmt.Errorf("%w: cannot resume a %s distribution", ErrInvalidTransition, rec.Status)
	}
	return s.enqueue(ctx, id, s.scheduler.EnqueueRun)
}

// RetryFailed queues a reprocessing of the failed batches of a job that is not
// running.
func (s *Service) RetryFailed(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	job, err := fromRecord(rec)
	if err != nil {
		return err
	}
	if JobStatus(rec.Status) == JobRunning {
		return ErrJobRunning
	}
	sum := job.Summary()
	if sum.FailedBatches == 0 && sum.FailedItems == 0 {
		return ErrNothingToRetry
	}
	return s.enqueue(ctx, id, s.scheduler.EnqueueRetry)
}

func (s *Service) enqueue(ctx context.Context, id string, fn func(context.Context, string) error) error {
	if err := s.pause.Clear(ctx, id); err != nil {
		return fmt.Errorf("failed to clear pause flag: %w", err)
	}
	if err := fn(ctx, id); err != nil {
		return fmt.Errorf("failed to enqueue distribution: %w", err)
	}
	logrus.WithField("distribution_id", id).Info("distribution queued")
	return nil
}

// Report returns the job summary with the status last persisted.
func (s *Service) Report(ctx context.Context, id string) (JobSummary, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return JobSummary{}, err
	}
	job, err := fromRecord(rec)
	if err != nil {
		return JobSummary{}, err
	}
	sum := job.Summary()
	sum.Status = JobStatus(rec.Status)
	return sum, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.DistributionJob, error) {
	return s.store.List(ctx, limit)
}

// RunJob executes queued batches of a job. Only one worker runs a job at a time.
func (s *Service) RunJob(ctx context.Context, id string) error {
	return s.execute(ctx, id, "Running distribution job", func(p *Processor, job *Job) error {
		return p.Run(ctx, job)
	})
}

// RetryJob reprocesses the failed batches of a job.
func (s *Service) RetryJob(ctx context.Context, id string) error {
	return s.execute(ctx, id, "Retrying distribution job", func(p *Processor, job *Job) error {
		return p.RetryFailedBatches(ctx, job)
	})
}

func (s *Service) execute(ctx context.Context, id, op string, fn func(*Processor, *Job) error) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("distribution.id", id))

	err := s.locker.WithLock(ctx, "distribution:"+id, func() error {
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		job, err := fromRecord(rec)
		if err != nil {
			return err
		}
		// Mark the row running before the first batch so Start and Pause see
		// the worker.
		if err := s.store.UpdateStatus(ctx, id, string(JobRunning)); err != nil {
			return fmt.Errorf("failed to mark distribution running: %w", err)
		}

		persistCtx := context.WithoutCancel(ctx)
		processor := NewProcessor(s.gateway, s.cfg.Processor,
			WithPauseSignal(s.pause),
			WithBatchHook(func(j *Job, b Batch) {
				if err := s.persist(persistCtx, j); err != nil {
					logrus.WithError(err).WithFields(logrus.Fields{
						"distribution_id": j.ID(),
						"batch":           b.Number,
					}).Error("failed to persist distribution progress")
				}
			}),
		)

		runErr := fn(processor, job)
		if errors.Is(runErr, ErrNothingToRetry) {
			if err := s.store.UpdateStatus(persistCtx, id, rec.Status); err != nil {
				return errors.Join(runErr, err)
			}
			return runErr
		}
		if err := s.persist(persistCtx, job); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *Service) persist(ctx context.Context, job *Job) error {
	rec, err := toRecord(job)
	if err != nil {
		return err
	}
	return s.store.Save(ctx, rec)
}

func toRecord(job *Job) (*models.DistributionJob, error) {
	state := job.Snapshot()
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode distribution state: %w", err)
	}
	sum := job.Summary()
	return &models.DistributionJob{
		ID:              job.ID(),
		BatchSize:       job.BatchSize(),
		TotalRecipients: sum.TotalRecipients,
		TotalBatches:    sum.TotalBatches,
		Status:          string(job.Status()),
		CurrentBatch:    sum.CurrentBatch,
		FailedItems:     sum.FailedItems,
		State:           raw,
		CreatedAt:       state.CreatedAt,
	}, nil
}

func fromRecord(rec *models.DistributionJob) (*Job, error) {
	var state JobState
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, fmt.Errorf("failed to decode distribution state: %w", err)
	}
	return RestoreJob(state)
}
