package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"mail_worker/adapter/in/worker"
	"mail_worker/adapter/out/messaging"
	"mail_worker/pkg/logger"

	"github.com/rs/zerolog"
)

type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	periodic *worker.PeriodicSyncScheduler
	promoter *worker.RetryPromoter
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
	mu       sync.Mutex // guards startup against a concurrent Stop
	started  bool
	stopOnce sync.Once
}

func NewWorker(deps *Dependencies) *Worker {
	cfg := deps.Config

	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()
	if cfg.IsDevelopment() {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	syncProcessor := worker.NewSyncProcessor(deps.SyncService, deps.OAuthService, deps.Scheduler)
	handler := worker.NewHandler(syncProcessor)

	// 재시도는 RetryDelays 사다리로 스케줄러가 담당, 풀 내부 재시도는 스케줄러가 없을 때만
	poolCfg := &worker.PoolConfig{Workers: cfg.SyncWorkers}
	if deps.Scheduler != nil {
		poolCfg.MaxRetries = 0
	}
	pool := worker.NewPool(handler, poolCfg, zlog)

	if deps.LocalPublisher != nil {
		deps.LocalPublisher.Bind(pool)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}
	if cfg.SyncInterval > 0 {
		w.periodic = worker.NewPeriodicSyncScheduler(deps.SyncService, cfg.SyncInterval)
	}

	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:    "mail-sync-workers",
			Consumer: cfg.WorkerID,
			Streams:  []string{messaging.StreamSyncJobs},
			Handler:  &streamHandler{pool: pool},
			Logger:   zlog,
		})
		w.promoter = worker.NewRetryPromoter(deps.Producer, 0)
		logger.Info("[Bootstrap] stream consumer configured for %s", messaging.StreamSyncJobs)
	} else {
		logger.Warn("[Bootstrap] Redis not available, worker processes in-process submissions only")
	}
	return w
}

// streamHandler moves stream messages into the pool. The message is acked
// once the pool accepted it; a full pool leaves it pending for a later claim.
type streamHandler struct {
	pool *worker.Pool
}

var errPoolFull = errors.New("worker pool rejected job")

func (h *streamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	jobType, ok := streamToJobType(stream)
	if !ok {
		return fmt.Errorf("%w: unknown stream %s", messaging.ErrMalformed, stream)
	}
	job, err := worker.ParseSyncJob(data)
	if err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrMalformed, err)
	}
	if !h.pool.Submit(worker.NewMessage(jobType, job)) {
		return errPoolFull
	}
	return nil
}

// streamToJobType maps Redis stream names to job types
func streamToJobType(stream string) (worker.JobType, bool) {
	switch stream {
	case messaging.StreamSyncJobs:
		return worker.JobMailSync, true
	default:
		return "", false
	}
}

// Start runs until Stop is called.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.ctx.Err() == nil && !w.started {
		w.started = true
		w.pool.Start()

		if w.consumer != nil {
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.zlog.Info().Msg("starting stream consumer")
				if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
					w.zlog.Error().Err(err).Msg("stream consumer stopped")
				}
			}()
		}
		if w.promoter != nil {
			w.promoter.Start()
		}
		if w.periodic != nil {
			w.periodic.Start()
			w.zlog.Info().Dur("interval", w.deps.Config.SyncInterval).Msg("periodic sync enabled")
		}
	}
	w.mu.Unlock()
	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.started {
			if w.periodic != nil {
				w.periodic.Stop()
			}
			if w.promoter != nil {
				w.promoter.Stop()
			}
		}
		w.wg.Wait()
		w.pool.Stop()
	})
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
