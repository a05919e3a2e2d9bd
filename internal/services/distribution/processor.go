package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("Distribution")

var (
	ErrItemTimeout = errors.New("payment timed out")
	ErrInvalidItem = errors.New("invalid payment item")

	errPaused         = errors.New("distribution paused")
	errBatchHasErrors = errors.New("batch completed with item errors")
)

// Gateway executes one payment. A nil error means the payment succeeded.
type Gateway interface {
	Pay(ctx context.Context, distributionID string, r Recipient) error
}

type GatewayFunc func(ctx context.Context, distributionID string, r Recipient) error

func (f GatewayFunc) Pay(ctx context.Context, distributionID string, r Recipient) error {
	return f(ctx, distributionID, r)
}

// PauseSignal reports a pause requested outside the process running the job.
type PauseSignal interface {
	PauseRequested(ctx context.Context, jobID string) (bool, error)
}

type ProcessorConfig struct {
	// Concurrency caps in-flight items within one batch. Batches always run
	// one after another.
	Concurrency  int
	RetryBackoff time.Duration
	AutoRetries  int
	ItemTimeout  time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Concurrency:  1,
		RetryBackoff: 2 * time.Second,
		AutoRetries:  1,
		ItemTimeout:  30 * time.Second,
	}
}

// ItemResult is reported after every processed item.
type ItemResult struct {
	JobID       string
	BatchNumber int
	ItemIndex   int
	RecipientID string
	Err         error
}

type Processor struct {
	gateway Gateway
	cfg     ProcessorConfig
	pause   PauseSignal
	onItem  func(ItemResult)
	onBatch func(job *Job, b Batch)
}

type ProcessorOption func(*Processor)

func WithPauseSignal(s PauseSignal) ProcessorOption {
	return func(p *Processor) { p.pause = s }
}

func WithItemHook(fn func(ItemResult)) ProcessorOption {
	return func(p *Processor) { p.onItem = fn }
}

// WithBatchHook registers fn to run whenever a batch stops, whether it
// completed or was interrupted.
func WithBatchHook(fn func(job *Job, b Batch)) ProcessorOption {
	return func(p *Processor) { p.onBatch = fn }
}

func NewProcessor(gateway Gateway, cfg ProcessorConfig, opts ...ProcessorOption) *Processor {
	def := DefaultProcessorConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.AutoRetries < 0 {
		cfg.AutoRetries = 0
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}
	p := &Processor{gateway: gateway, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes queued batches in order until the queue is empty or a pause
// is observed. Calling Run on a paused job resumes it at the paused batch.
func (p *Processor) Run(ctx context.Context, job *Job) error {
	if err := job.begin(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Running distribution")
	defer span.End()
	span.SetAttributes(
		attribute.String("distribution.id", job.ID()),
		attribute.Int("distribution.batches", job.TotalBatches()),
	)

	logger := logrus.WithField("distribution_id", job.ID())
	for {
		b, ok := job.head()
		if !ok {
			break
		}
		if p.pauseRequested(ctx, job) {
			job.setStatus(JobPaused)
			logger.WithField("batch", b.Number).Info("distribution paused before batch")
			return nil
		}

		err := p.runBatch(ctx, job, b)
		p.notifyBatch(job, b)
		if errors.Is(err, errPaused) {
			job.setStatus(JobPaused)
			logger.WithField("batch", b.Number).Info("distribution paused mid-batch")
			return nil
		}
		if err != nil {
			job.setStatus(JobPaused)
			span.RecordError(err)
			logger.WithError(err).WithField("batch", b.Number).Error("distribution interrupted")
			return err
		}
		job.pop()
	}

	status := job.finish()
	span.SetAttributes(attribute.String("distribution.status", string(status)))
	logger.WithField("status", status).Info("distribution finished")
	return nil
}

// RetryFailedBatches reprocesses, from their first item, the batches that
// failed or completed with item errors. Other batches are left untouched.
func (p *Processor) RetryFailedBatches(ctx context.Context, job *Job) error {
	targets, err := job.retryTargets()
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"distribution_id": job.ID(),
		"batches":         targets,
	}).Info("retrying failed batches")
	return p.Run(ctx, job)
}

// runBatch processes a batch and, if it finished with item errors, retries it
// from scratch after a constant backoff while automatic retries remain.
func (p *Processor) runBatch(ctx context.Context, job *Job, b *Batch) error {
	ctx, span := tracer.Start(ctx, "Processing distribution batch")
	defer span.End()
	span.SetAttributes(attribute.Int("distribution.batch", b.Number))

	retries := max(0, p.cfg.AutoRetries-b.AutoRetries)
	first := true
	op := func() error {
		if !first {
			job.update(func() {
				b.reset()
				b.AutoRetries++
			})
			logrus.WithFields(logrus.Fields{
				"distribution_id": job.ID(),
				"batch":           b.Number,
			}).Warn("retrying batch with failed items")
		}
		first = false

		if err := p.processBatch(ctx, job, b); err != nil {
			return backoff.Permanent(err)
		}
		if len(b.Errors) > 0 {
			return errBatchHasErrors
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryBackoff), uint64(retries)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	if errors.Is(err, errBatchHasErrors) {
		span.SetAttributes(attribute.Int("distribution.batch.failed_items", b.itemErrors()))
		return nil
	}
	return err
}

// processBatch runs the batch from its processed offset. Pause is checked
// before every item; an untouched batch stays pending, a partly processed one
// is marked failed with the interruption recorded.
func (p *Processor) processBatch(ctx context.Context, job *Job, b *Batch) error {
	if b.Status == BatchCompleted {
		return nil
	}
	resuming := b.Status == BatchFailed || b.Status == BatchProcessing
	if !resuming && p.pauseRequested(ctx, job) {
		return errPaused
	}

	now := time.Now().UTC()
	job.update(func() {
		if resuming {
			b.clearInterruption()
			return
		}
		b.Status = BatchProcessing
		b.Attempts++
		b.StartedAt = &now
	})

	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	var g errgroup.Group
	next := b.Processed
	var stop error
	for ; next < len(b.Items); next++ {
		if err := ctx.Err(); err != nil {
			stop = err
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			stop = err
			break
		}
		if p.pauseRequested(ctx, job) {
			sem.Release(1)
			stop = errPaused
			break
		}

		idx, r := next, b.Items[next]
		g.Go(func() error {
			defer sem.Release(1)
			err := p.processItem(ctx, job.ID(), r)
			job.update(func() {
				b.Processed++
				if err != nil {
					b.Errors = append(b.Errors, ItemError{
						BatchNumber: b.Number,
						ItemIndex:   idx,
						RecipientID: r.ID,
						Message:     err.Error(),
					})
					return
				}
				b.Succeeded++
			})
			p.notifyItem(ItemResult{JobID: job.ID(), BatchNumber: b.Number, ItemIndex: idx, RecipientID: r.ID, Err: err})
			return nil
		})
	}
	_ = g.Wait()

	job.update(func() {
		sort.SliceStable(b.Errors, func(i, k int) bool {
			return b.Errors[i].ItemIndex < b.Errors[k].ItemIndex
		})
		if stop != nil {
			b.Status = BatchFailed
			if !b.interrupted() {
				b.Errors = append(b.Errors, ItemError{
					BatchNumber: b.Number,
					ItemIndex:   next,
					Message:     fmt.Sprintf("interrupted before item %d: %v", next, stop),
					BatchLevel:  true,
				})
			}
			return
		}
		finished := time.Now().UTC()
		b.Status = BatchCompleted
		b.FinishedAt = &finished
	})
	return stop
}

// processItem calls the gateway under the per-item timeout. A gateway that
// ignores its context is abandoned once the timeout fires.
func (p *Processor) processItem(ctx context.Context, jobID string, r Recipient) error {
	if r.AmountMinor <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidItem)
	}
	itemCtx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.gateway.Pay(itemCtx, jobID, r)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrItemTimeout, p.cfg.ItemTimeout)
		}
		return err
	case <-itemCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %s", ErrItemTimeout, p.cfg.ItemTimeout)
	}
}

func (p *Processor) pauseRequested(ctx context.Context, job *Job) bool {
	if job.PauseRequested() {
		return true
	}
	if p.pause == nil {
		return false
	}
	paused, err := p.pause.PauseRequested(ctx, job.ID())
	if err != nil {
		logrus.WithError(err).WithField("distribution_id", job.ID()).Warn("pause signal unavailable")
		return false
	}
	if paused {
		job.Pause()
	}
	return paused
}

func (p *Processor) notifyItem(res ItemResult) {
	if p.onItem != nil {
		p.onItem(res)
	}
}

func (p *Processor) notifyBatch(job *Job, b *Batch) {
	if p.onBatch == nil {
		return
	}
	snapshot, _ := job.Batch(b.Number)
	p.onBatch(job, snapshot)
}
