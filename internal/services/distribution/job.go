package distribution

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultBatchSize = 50

var (
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrNoRecipients     = errors.New("distribution has no recipients")
	ErrJobRunning       = errors.New("distribution job is already running")
	ErrNothingToRetry   = errors.New("no failed batches to retry")
)

type JobStatus string

const (
	JobIdle                JobStatus = "idle"
	JobRunning             JobStatus = "running"
	JobPaused              JobStatus = "paused"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Recipient is one beneficiary payment.
type Recipient struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
}

// ItemError records a failed item, or a batch-level interruption when
// BatchLevel is set.
type ItemError struct {
	BatchNumber int    `json:"batch_number"`
	ItemIndex   int    `json:"item_index"`
	RecipientID string `json:"recipient_id,omitempty"`
	Message     string `json:"message"`
	BatchLevel  bool   `json:"batch_level,omitempty"`
}

type Batch struct {
	Number      int         `json:"batch_number"`
	Status      BatchStatus `json:"status"`
	Items       []Recipient `json:"items"`
	Processed   int         `json:"processed"`
	Succeeded   int         `json:"succeeded"`
	Errors      []ItemError `json:"errors"`
	Attempts    int         `json:"attempts"`
	AutoRetries int         `json:"auto_retries"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

func (b *Batch) Total() int { return len(b.Items) }

func (b *Batch) itemErrors() int {
	n := 0
	for _, e := range b.Errors {
		if !e.BatchLevel {
			n++
		}
	}
	return n
}

func (b *Batch) interrupted() bool {
	for _, e := range b.Errors {
		if e.BatchLevel {
			return true
		}
	}
	return false
}

// reset prepares the batch to be reprocessed from its first item.
func (b *Batch) reset() {
	b.Status = BatchPending
	b.Processed = 0
	b.Succeeded = 0
	b.Errors = nil
	b.StartedAt = nil
	b.FinishedAt = nil
}

// clearInterruption drops batch-level errors so a paused batch can resume
// from its processed offset.
func (b *Batch) clearInterruption() {
	kept := b.Errors[:0]
	for _, e := range b.Errors {
		if !e.BatchLevel {
			kept = append(kept, e)
		}
	}
	b.Errors = kept
	b.Status = BatchProcessing
	b.FinishedAt = nil
}

// Job is one distribution run. Batch state is mutated only by the processor;
// Pause and the read accessors are safe to call concurrently.
type Job struct {
	mu        sync.RWMutex
	id        string
	batchSize int
	status    JobStatus
	batches   []*Batch
	// queue holds batch numbers still to be processed, in order.
	queue     []int
	createdAt time.Time

	pauseRequested atomic.Bool
}

// NewJob partitions recipients into ceil(n/batchSize) batches numbered from 1.
func NewJob(distributionID string, recipients []Recipient, batchSize int) (*Job, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if distributionID == "" {
		return nil, errors.New("distribution id is required")
	}

	total := (len(recipients) + batchSize - 1) / batchSize
	job := &Job{
		id:        distributionID,
		batchSize: batchSize,
		status:    JobIdle,
		batches:   make([]*Batch, 0, total),
		queue:     make([]int, 0, total),
		createdAt: time.Now().UTC(),
	}
	for i := 0; i < total; i++ {
		start := i * batchSize
		end := min(start+batchSize, len(recipients))
		items := make([]Recipient, end-start)
		copy(items, recipients[start:end])
		job.batches = append(job.batches, &Batch{
			Number: i + 1,
			Status: BatchPending,
			Items:  items,
		})
		job.queue = append(job.queue, i+1)
	}
	return job, nil
}

func (j *Job) ID() string     { return j.id }
func (j *Job) BatchSize() int { return j.batchSize }

func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) TotalBatches() int { return len(j.batches) }

func (j *Job) TotalRecipients() int {
	n := 0
	for _, b := range j.batches {
		n += b.Total()
	}
	return n
}

// CurrentBatch is the batch number the next Run starts at, or 0 when nothing
// is queued.
func (j *Job) CurrentBatch() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.queue) == 0 {
		return 0
	}
	return j.queue[0]
}

// Batch returns a copy of the numbered batch.
func (j *Job) Batch(number int) (Batch, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if number < 1 || number > len(j.batches) {
		return Batch{}, false
	}
	return copyBatch(j.batches[number-1]), true
}

// Pause asks the processor to stop at the next item or batch boundary.
func (j *Job) Pause() {
	j.pauseRequested.Store(true)
}

func (j *Job) PauseRequested() bool {
	return j.pauseRequested.Load()
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// begin moves the job to running and clears a previous pause request.
func (j *Job) begin() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobRunning {
		return ErrJobRunning
	}
	j.status = JobRunning
	j.pauseRequested.Store(false)
	return nil
}

func (j *Job) head() (*Batch, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.queue) == 0 {
		return nil, false
	}
	return j.batches[j.queue[0]-1], true
}

func (j *Job) pop() {
	j.mu.Lock()
	if len(j.queue) > 0 {
		j.queue = j.queue[1:]
	}
	j.mu.Unlock()
}

// finish derives the terminal status from batch outcomes.
func (j *Job) finish() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobCompleted
	for _, b := range j.batches {
		if b.Status == BatchFailed || len(b.Errors) > 0 {
			j.status = JobCompletedWithErrors
			break
		}
	}
	return j.status
}

// retryTargets queues every failed batch and every batch that completed with
// item errors, resetting each to be reprocessed from scratch.
func (j *Job) retryTargets() ([]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobRunning {
		return nil, ErrJobRunning
	}
	var targets []int
	for _, b := range j.batches {
		if b.Status == BatchFailed || (b.Status == BatchCompleted && len(b.Errors) > 0) {
			b.reset()
			targets = append(targets, b.Number)
		}
	}
	if len(targets) == 0 {
		return nil, ErrNothingToRetry
	}
	queued := append([]int(nil), targets...)
	for _, n := range j.queue {
		if !slices.Contains(targets, n) {
			queued = append(queued, n)
		}
	}
	j.queue = queued
	return targets, nil
}

// update runs fn with the job's write lock held.
func (j *Job) update(fn func()) {
	j.mu.Lock()
	fn()
	j.mu.Unlock()
}

func copyBatch(b *Batch) Batch {
	c := *b
	c.Items = append([]Recipient(nil), b.Items...)
	c.Errors = append([]ItemError(nil), b.Errors...)
	return c
}

// JobState is the serializable form of a Job.
type JobState struct {
	ID        string    `json:"id"`
	BatchSize int       `json:"batch_size"`
	Status    JobStatus `json:"status"`
	Queue     []int     `json:"queue"`
	Batches   []Batch   `json:"batches"`
	CreatedAt time.Time `json:"created_at"`
}

func (j *Job) Snapshot() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	state := JobState{
		ID:        j.id,
		BatchSize: j.batchSize,
		Status:    j.status,
		Queue:     append([]int(nil), j.queue...),
		CreatedAt: j.createdAt,
	}
	for _, b := range j.batches {
		state.Batches = append(state.Batches, copyBatch(b))
	}
	return state
}

// RestoreJob rebuilds a job from a snapshot. A job persisted while running
// was interrupted and comes back paused.
func RestoreJob(state JobState) (*Job, error) {
	if state.ID == "" {
		return nil, errors.New("job state has no id")
	}
	if state.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	job := &Job{
		id:        state.ID,
		batchSize: state.BatchSize,
		status:    state.Status,
		queue:     append([]int(nil), state.Queue...),
		createdAt: state.CreatedAt,
	}
	for i := range state.Batches {
		b := copyBatch(&state.Batches[i])
		if b.Number != i+1 {
			return nil, fmt.Errorf("job state batch %d is numbered %d", i+1, b.Number)
		}
		job.batches = append(job.batches, &b)
	}
	for _, n := range job.queue {
		if n < 1 || n > len(job.batches) {
			return nil, fmt.Errorf("job state queues unknown batch %d", n)
		}
	}
	if job.status == "" {
		job.status = JobIdle
	}
	if job.status == JobRunning {
		job.status = JobPaused
	}
	return job, nil
}

type BatchSummary struct {
	Number    int         `json:"batch_number"`
	Status    BatchStatus `json:"status"`
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Attempts  int         `json:"attempts"`
}

// JobSummary is the serializable report of a job.
type JobSummary struct {
	ID               string         `json:"id"`
	Status           JobStatus      `json:"status"`
	BatchSize        int            `json:"batch_size"`
	TotalRecipients  int            `json:"total_recipients"`
	TotalBatches     int            `json:"total_batches"`
	CurrentBatch     int            `json:"current_batch"`
	CompletedBatches int            `json:"completed_batches"`
	FailedBatches    int            `json:"failed_batches"`
	ProcessedItems   int            `json:"processed_items"`
	SucceededItems   int            `json:"succeeded_items"`
	FailedItems      int            `json:"failed_items"`
	TotalAmountMinor int64          `json:"total_amount_minor"`
	PaidAmountMinor  int64          `json:"paid_amount_minor"`
	Batches          []BatchSummary `json:"batches"`
	Failures         []ItemError    `json:"failures"`
}

func (j *Job) Summary() JobSummary {
	j.mu.RLock()
	defer j.mu.RUnlock()

	sum := JobSummary{
		ID:           j.id,
		Status:       j.status,
		BatchSize:    j.batchSize,
		TotalBatches: len(j.batches),
	}
	if len(j.queue) > 0 {
		sum.CurrentBatch = j.queue[0]
	}
	for _, b := range j.batches {
		failedIdx := make(map[int]bool)
		for _, e := range b.Errors {
			if !e.BatchLevel {
				failedIdx[e.ItemIndex] = true
			}
		}
		for i, r := range b.Items {
			sum.TotalAmountMinor += r.AmountMinor
			if i < b.Processed && !failedIdx[i] {
				sum.PaidAmountMinor += r.AmountMinor
			}
		}

		sum.TotalRecipients += b.Total()
		sum.ProcessedItems += b.Processed
		sum.SucceededItems += b.Succeeded
		sum.FailedItems += b.itemErrors()
		switch b.Status {
		case BatchCompleted:
			sum.CompletedBatches++
		case BatchFailed:
			sum.FailedBatches++
		}
		sum.Batches = append(sum.Batches, BatchSummary{
			Number:    b.Number,
			Status:    b.Status,
			Total:     b.Total(),
			Processed: b.Processed,
			Succeeded: b.Succeeded,
			Failed:    b.itemErrors(),
			Attempts:  b.Attempts,
		})
		sum.Failures = append(sum.Failures, b.Errors...)
	}
	return sum
}
