package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"spoolhub/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// TaskKind says whether Key names one object or a prefix.
type TaskKind string

const (
	KindObject TaskKind = "object"
	KindPrefix TaskKind = "prefix"
)

// Task is a blob deletion that could not be completed inline.
type Task struct {
	ID           string    `json:"id"`
	Kind         TaskKind  `json:"kind"`
	Key          string    `json:"key"`
	Reason       string    `json:"reason,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one task. A returned error schedules a retry.
type Handler func(context.Context, Task) error

// CleanupQueue is a Redis stream with one consumer group. Task state is kept
// in a hash per task so operators can inspect failures.
type CleanupQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	taskTTL      time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64

	mu         sync.Mutex
	groupReady bool
}

type Config struct {
	Stream     string
	Group      string
	Consumer   string
	TaskTTL    time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// NewCleanupQueue wraps an existing client; the caller owns its lifecycle.
func NewCleanupQueue(client *redis.Client, cfg Config) (*CleanupQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "spoolhub:blob-cleanup"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "janitor"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	taskTTL := cfg.TaskTTL
	if taskTTL <= 0 {
		taskTTL = 7 * 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = time.Minute
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &CleanupQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		taskTTL:      taskTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue records a pending deletion of key.
func (q *CleanupQueue) Enqueue(ctx context.Context, kind TaskKind, key, reason string) (Task, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Task{}, errors.New("cleanup key required")
	}
	if kind != KindObject && kind != KindPrefix {
		return Task{}, fmt.Errorf("unknown cleanup kind %q", kind)
	}
	if err := q.ensureGroup(ctx); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	task := Task{
		ID:        util.NewID(),
		Kind:      kind,
		Key:       key,
		Reason:    reason,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, task); err != nil {
		return Task{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(task)).Err(); err != nil {
		return Task{}, fmt.Errorf("enqueue cleanup: %w", err)
	}
	return task, nil
}

// GetTask returns the recorded state of a task.
func (q *CleanupQueue) GetTask(ctx context.Context, taskID string) (Task, bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return Task{}, false, err
	}
	if len(data) == 0 {
		return Task{}, false, nil
	}
	return decodeTask(taskID, data), true, nil
}

// Run consumes the stream with concurrency workers until ctx is done.
func (q *CleanupQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

func (q *CleanupQueue) ensureGroup(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.groupReady {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	q.groupReady = true
	return nil
}

func (q *CleanupQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}
		if err := q.readOnce(ctx, consumer, handler); err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return
			}
			util.LoggerFromContext(ctx).Warn("cleanup_queue_read_failed", "stream", q.stream, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.retryDelay):
			}
		}
	}
}

func (q *CleanupQueue) readOnce(ctx context.Context, consumer string, handler Handler) error {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.readCount,
		Block:    q.block,
	}).Result()
	if err != nil {
		return err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			q.handleMessage(ctx, msg, handler)
		}
	}
	return nil
}

func (q *CleanupQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *CleanupQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	taskID, _ := msg.Values["task_id"].(string)
	key, _ := msg.Values["key"].(string)
	kind, _ := msg.Values["kind"].(string)
	if taskID == "" || key == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task, err := q.markProcessing(ctx, taskID, TaskKind(kind), key)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	err = handler(ctx, task)
	if err == nil {
		_ = q.mark(ctx, taskID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if task.Attempts >= q.maxRetries {
		_ = q.mark(ctx, taskID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		util.LoggerFromContext(ctx).Error("cleanup_task_abandoned", "task_id", taskID, "key", key, "attempts", task.Attempts, "err", err)
		return
	}
	_ = q.mark(ctx, taskID, StatusQueued, err.Error())
	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}
	_ = q.requeueAndAck(ctx, msg.ID, task)
}

func (q *CleanupQueue) addArgs(task Task) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"task_id": task.ID,
			"kind":    string(task.Kind),
			"key":     task.Key,
		},
	}
}

func (q *CleanupQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds the task and acknowledges the old message atomically;
// on failure the original stays pending and is reclaimed later.
func (q *CleanupQueue) requeueAndAck(ctx context.Context, msgID string, task Task) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(task))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *CleanupQueue) markProcessing(ctx context.Context, taskID string, kind TaskKind, key string) (Task, error) {
	task, _, err := q.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.ID == "" {
		task = Task{ID: taskID}
	}
	if kind != "" {
		task.Kind = kind
	}
	task.Key = key
	task.Attempts++
	task.Status = StatusProcessing
	task.UpdatedAt = time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = task.UpdatedAt
	}
	if err := q.writeStatus(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (q *CleanupQueue) mark(ctx context.Context, taskID, status, errMsg string) error {
	task, _, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Status = status
	task.ErrorMessage = errMsg
	task.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, task)
}

func (q *CleanupQueue) writeStatus(ctx context.Context, task Task) error {
	key := q.taskKey(task.ID)
	payload := map[string]any{
		"id":        task.ID,
		"kind":      string(task.Kind),
		"key":       task.Key,
		"reason":    task.Reason,
		"status":    task.Status,
		"error":     task.ErrorMessage,
		"attempts":  strconv.Itoa(task.Attempts),
		"createdAt": task.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": task.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.taskTTL).Err()
	return nil
}

func (q *CleanupQueue) taskKey(taskID string) string {
	return fmt.Sprintf("task:%s:%s", q.stream, taskID)
}

func decodeTask(taskID string, data map[string]string) Task {
	task := Task{
		ID:           taskID,
		Kind:         TaskKind(data["kind"]),
		Key:          data["key"],
		Reason:       data["reason"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			task.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			task.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			task.UpdatedAt = t
		}
	}
	return task
}
