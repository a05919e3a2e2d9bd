package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waqf-reconciliation-backend/internal/lock"
	"waqf-reconciliation-backend/internal/services/distribution"
)

type captureClient struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(c.tasks)), Type: task.Type()}, nil
}

type fakeRunner struct {
	runs, retries []string
	err           error
}

func (f *fakeRunner) RunJob(_ context.Context, id string) error {
	f.runs = append(f.runs, id)
	return f.err
}

func (f *fakeRunner) RetryJob(_ context.Context, id string) error {
	f.retries = append(f.retries, id)
	return f.err
}

func TestQueue_Enqueue(t *testing.T) {
	client := &captureClient{}
	q := New(client)

	require.NoError(t, q.EnqueueRun(context.Background(), "dist-1"))
	require.NoError(t, q.EnqueueRetry(context.Background(), "dist-1"))
	require.Len(t, client.tasks, 2)
	assert.Equal(t, TypeDistributionRun, client.tasks[0].Type())
	assert.Equal(t, TypeDistributionRetry, client.tasks[1].Type())

	var p DistributionPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &p))
	assert.Equal(t, "dist-1", p.JobID)

	client.err = errors.New("redis down")
	assert.EqualError(t, q.EnqueueRun(context.Background(), "dist-2"), "redis down")
}

func TestServeMux_Dispatch(t *testing.T) {
	runner := &fakeRunner{}
	mux := NewServeMux(runner)

	run, err := NewDistributionTask(TypeDistributionRun, "dist-1")
	require.NoError(t, err)
	retry, err := NewDistributionTask(TypeDistributionRetry, "dist-2")
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), run))
	require.NoError(t, mux.ProcessTask(context.Background(), retry))
	assert.Equal(t, []string{"dist-1"}, runner.runs)
	assert.Equal(t, []string{"dist-2"}, runner.retries)
}

func TestServeMux_ErrorHandling(t *testing.T) {
	ctx := context.Background()
	run, _ := NewDistributionTask(TypeDistributionRun, "dist-1")

	runner := &fakeRunner{err: fmt.Errorf("%w: distribution:dist-1", lock.ErrLockHeld)}
	err := NewServeMux(runner).ProcessTask(ctx, run)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	runner.err = distribution.ErrNothingToRetry
	assert.NoError(t, NewServeMux(runner).ProcessTask(ctx, run))

	runner.err = errors.New("gateway unreachable")
	err = NewServeMux(runner).ProcessTask(ctx, run)
	assert.EqualError(t, err, "gateway unreachable")
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	bad := asynq.NewTask(TypeDistributionRun, []byte("{"))
	assert.ErrorIs(t, NewServeMux(runner).ProcessTask(ctx, bad), asynq.SkipRetry)
}
