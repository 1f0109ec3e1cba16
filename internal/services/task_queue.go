package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/pkg/logger"
)

const (
	TaskTypeCheck = "assignment:check"
	CheckQueue    = "checks"
)

// CheckTask asks for one assignment to be evaluated outside the schedule
type CheckTask struct {
	AssignmentID uint   `json:"assignment_id"`
	RequestedBy  string `json:"requested_by"`
}

// CheckProcessor runs a check task
type CheckProcessor func(context.Context, *CheckTask) error

// TaskQueue defines the interface for "check now" processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, task *CheckTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// NewTaskQueue uses Redis when enabled and reachable, otherwise an in-process queue
func NewTaskQueue(cfg *config.Config) TaskQueue {
	if cfg.Redis.Enabled {
		queue, err := NewAsyncQueue(&cfg.Redis)
		if err != nil {
			logger.Infof("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
			return NewSyncQueue()
		}
		logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
		return queue
	}
	logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	return NewSyncQueue()
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	// Test connection by pinging Redis
	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a check task to the async queue. Repeated requests for the
// same assignment within a minute collapse into one task.
func (q *AsyncQueue) Enqueue(ctx context.Context, task *CheckTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeCheck, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(CheckQueue),
		asynq.MaxRetry(2),
		asynq.Unique(time.Minute),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Debugf("[AsyncQueue] Check for assignment %d already queued", task.AssignmentID)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, assignment=%d", info.ID, info.Queue, task.AssignmentID)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue in-process (no Redis)
type SyncQueue struct {
	processor CheckProcessor
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor CheckProcessor) {
	q.processor = processor
}

// Enqueue processes the task in a new goroutine so the HTTP request returns immediately
func (q *SyncQueue) Enqueue(_ context.Context, task *CheckTask) error {
	if q.processor == nil {
		logger.Infof("[SyncQueue] Warning: no processor set, task will be dropped")
		return nil
	}

	go func() {
		if err := q.processor(context.Background(), task); err != nil {
			logger.Infof("[SyncQueue] Task processing failed: %v", err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	return nil
}

// ProcessCheckTask runs a queued check. Only errors worth a queue retry are
// returned; a busy lease means a scheduled check is already on it.
func (m *Monitor) ProcessCheckTask(ctx context.Context, task *CheckTask) error {
	res := m.CheckAssignment(ctx, task.AssignmentID)
	logger.Info().Uint("assignment_id", task.AssignmentID).Str("requested_by", task.RequestedBy).
		Str("outcome", string(res.Outcome)).Str("status", string(res.Status)).Msg("[Monitor] Check now finished")
	switch res.Outcome {
	case OutcomeError, OutcomeConflict:
		return fmt.Errorf("check assignment %d: %s", task.AssignmentID, res.Error)
	}
	return nil
}
