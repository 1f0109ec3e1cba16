package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/pkg/logger"
)

// Worker drains the Redis check queue
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor CheckProcessor
	timeout   time.Duration
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when Redis is disabled. Concurrency and the per-task
// deadline follow the monitor settings so queued and scheduled checks behave alike.
func NewWorker(cfg *config.RedisConfig, monitor config.MonitorConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}
	concurrency := monitor.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          map[string]int{CheckQueue: 1},
			ShutdownTimeout: 10 * time.Second,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().Err(err).Str("type", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).
					Msg("[Worker] Check task failed")
			}),
		},
	)

	w := &Worker{
		server:  server,
		mux:     asynq.NewServeMux(),
		timeout: monitor.AssignmentTimeout,
	}
	w.mux.HandleFunc(TaskTypeCheck, w.handleCheckTask)
	return w
}

func (w *Worker) SetProcessor(processor CheckProcessor) {
	w.processor = processor
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	logger.Info().Str("queue", CheckQueue).Msg("[Worker] Consuming check tasks")
	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.server.Shutdown()
	w.running = false
	logger.Info().Msg("[Worker] Stopped")
}

func (w *Worker) handleCheckTask(ctx context.Context, t *asynq.Task) error {
	var task CheckTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Warn().Err(err).Msg("[Worker] Malformed check task")
		return asynq.SkipRetry
	}
	if w.processor == nil {
		logger.Warn().Uint("assignment_id", task.AssignmentID).Msg("[Worker] No processor set, dropping task")
		return nil
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.processor(ctx, &task)
}
