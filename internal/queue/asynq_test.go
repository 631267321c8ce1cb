package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/retry"
)

func setupAsynqBroker(t *testing.T) (*AsynqBroker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b := NewAsynqBroker(asynq.RedisClientOpt{Addr: mr.Addr()}, rdb, zap.NewNop())
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func optionValues(opts []asynq.Option) map[asynq.OptionType]interface{} {
	out := make(map[asynq.OptionType]interface{}, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestTaskOptions(t *testing.T) {
	cfg := HandlerConfig{
		QueueName:       "events-sync-historical",
		MaxRetries:      30,
		Concurrency:     150,
		Backoff:         retry.Fixed(time.Second),
		ConsumerTimeout: 3 * time.Minute,
	}

	values := optionValues(taskOptions(cfg, EnqueueOptions{Delay: 30 * time.Second, DedupKey: "100"}))
	assert.Equal(t, "events-sync-historical", values[asynq.QueueOpt])
	assert.Equal(t, 30, values[asynq.MaxRetryOpt])
	assert.Equal(t, 3*time.Minute, values[asynq.TimeoutOpt])
	assert.Equal(t, 30*time.Second, values[asynq.ProcessInOpt])
	assert.Equal(t, "100", values[asynq.TaskIDOpt])
}

func TestTaskOptionsWithoutDelayOrKey(t *testing.T) {
	cfg := HandlerConfig{QueueName: "q", MaxRetries: 1, Concurrency: 1}

	values := optionValues(taskOptions(cfg, EnqueueOptions{}))
	assert.Contains(t, values, asynq.QueueOpt)
	assert.NotContains(t, values, asynq.TaskIDOpt)
	assert.NotContains(t, values, asynq.ProcessInOpt)
	assert.NotContains(t, values, asynq.TimeoutOpt)
}

func TestJobFromTaskInline(t *testing.T) {
	b, _ := setupAsynqBroker(t)
	cfg := HandlerConfig{QueueName: "q", MaxRetries: 4, Concurrency: 1}

	data, err := json.Marshal(taskEnvelope{DedupKey: "9", Payload: []byte(`{"block":9}`)})
	require.NoError(t, err)

	job, ref, err := b.jobFromTask(context.Background(), cfg, asynq.NewTask("q", data))
	require.NoError(t, err)
	assert.Empty(t, ref)
	assert.Equal(t, "9", job.DedupKey)
	assert.Equal(t, `{"block":9}`, string(job.Payload))
	assert.Equal(t, 4, job.MaxRetries, "falls back to handler config outside a task context")
}

func TestJobFromTaskLazy(t *testing.T) {
	b, mr := setupAsynqBroker(t)
	cfg := HandlerConfig{QueueName: "activities", MaxRetries: 10, Concurrency: 1, LazyMode: true}

	require.NoError(t, mr.Set("queue:lazy:activities:abc", `{"cursor":null}`))
	data, err := json.Marshal(taskEnvelope{LazyRef: "queue:lazy:activities:abc"})
	require.NoError(t, err)

	job, ref, err := b.jobFromTask(context.Background(), cfg, asynq.NewTask("activities", data))
	require.NoError(t, err)
	assert.Equal(t, "queue:lazy:activities:abc", ref)
	assert.Equal(t, `{"cursor":null}`, string(job.Payload))

	b.dropLazy(context.Background(), ref)
	assert.False(t, mr.Exists("queue:lazy:activities:abc"))
}

func TestJobFromTaskLazyExpired(t *testing.T) {
	b, _ := setupAsynqBroker(t)
	cfg := HandlerConfig{QueueName: "activities", MaxRetries: 10, Concurrency: 1, LazyMode: true}

	data, err := json.Marshal(taskEnvelope{LazyRef: "queue:lazy:activities:gone"})
	require.NoError(t, err)

	_, _, err = b.jobFromTask(context.Background(), cfg, asynq.NewTask("activities", data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "a lost payload can never succeed")
}

func TestJobFromTaskMalformed(t *testing.T) {
	b, _ := setupAsynqBroker(t)
	cfg := HandlerConfig{QueueName: "q", MaxRetries: 1, Concurrency: 1}

	_, _, err := b.jobFromTask(context.Background(), cfg, asynq.NewTask("q", []byte("not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestAsynqEnqueueDedup(t *testing.T) {
	b, mr := setupAsynqBroker(t)
	ctx := context.Background()
	cfg := HandlerConfig{QueueName: "events-sync-historical", MaxRetries: 3, Concurrency: 1}

	ok, err := b.Enqueue(ctx, cfg, []byte(`{"block":11}`), EnqueueOptions{DedupKey: "11"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Enqueue(ctx, cfg, []byte(`{"block":11}`), EnqueueOptions{DedupKey: "11"})
	require.NoError(t, err)
	assert.False(t, ok, "a pending task keeps its key")

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	info, err := inspector.GetTaskInfo(cfg.QueueName, "11")
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)
}

func TestAsynqEnqueueReplacesArchivedTask(t *testing.T) {
	b, mr := setupAsynqBroker(t)
	ctx := context.Background()
	cfg := HandlerConfig{QueueName: "events-sync-historical", MaxRetries: 3, Concurrency: 1}

	ok, err := b.Enqueue(ctx, cfg, []byte(`{"block":11}`), EnqueueOptions{DedupKey: "11"})
	require.NoError(t, err)
	require.True(t, ok)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	require.NoError(t, inspector.ArchiveTask(cfg.QueueName, "11"))

	ok, err = b.Enqueue(ctx, cfg, []byte(`{"block":11}`), EnqueueOptions{DedupKey: "11"})
	require.NoError(t, err)
	assert.True(t, ok, "a dead-lettered task does not hold its key")

	info, err := inspector.GetTaskInfo(cfg.QueueName, "11")
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)

	archived, err := inspector.ListArchivedTasks(cfg.QueueName)
	require.NoError(t, err)
	assert.Empty(t, archived)
}
