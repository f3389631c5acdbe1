package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Worker polls for source users in reassignment and runs their passes.
type Worker struct {
	queue    Queue
	executor Executor
	locker   Locker
	opts     Options

	m *metrics

	randMu sync.Mutex
}

func New(queue Queue, executor Executor, locker Locker, opts Options) (*Worker, error) {
	if queue == nil {
		return nil, invalidConfig("queue is required")
	}
	if executor == nil {
		return nil, invalidConfig("executor is required")
	}
	if locker == nil {
		return nil, invalidConfig("locker is required")
	}
	if opts.PollInterval < 0 {
		return nil, invalidConfig("poll interval must be non-negative, got %s", opts.PollInterval)
	}
	if opts.Concurrency < 0 || opts.MaxAttempts < 0 || opts.BatchSize < 0 {
		return nil, invalidConfig("concurrency, max attempts and batch size must be non-negative")
	}
	opts.setDefaults()

	return &Worker{
		queue:    queue,
		executor: executor,
		locker:   locker,
		opts:     opts,
		m:        getMetrics(),
	}, nil
}

// Run polls until ctx is done. A failed poll is logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}
	ticker := w.opts.Clock.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.ProcessOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.m.pollErrors.Inc()
			w.opts.Logger.WithError(err).Warn("worker: poll failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// ProcessOnce claims one batch of source users and runs them with bounded concurrency.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	ids, err := w.queue.ListInProgressIDs(ctx, w.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			return w.process(gctx, id)
		})
	}
	return g.Wait()
}

func (w *Worker) process(ctx context.Context, sourceUserID int64) error {
	log := w.opts.Logger.WithField("source_user_id", sourceUserID)

	unlock, ok, err := w.locker.TryLock(ctx, sourceUserLockKey(sourceUserID))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.m.skippedTotal.WithLabelValues("lock_error").Inc()
		log.WithError(err).Warn("worker: failed to attempt advisory lock")
		return nil
	}
	if !ok {
		w.m.skippedTotal.WithLabelValues("locked").Inc()
		log.Debug("worker: source user is locked by another worker")
		return nil
	}
	defer unlock()

	w.m.inFlight.Inc()
	defer w.m.inFlight.Dec()

	for attempt := 1; ; attempt++ {
		err := w.executor.Execute(ctx, sourceUserID)
		if err == nil {
			w.m.attemptsTotal.WithLabelValues("success").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.m.attemptsTotal.WithLabelValues("failure").Inc()
		fields := logrus.Fields{"attempts": attempt, "max_attempts": w.opts.MaxAttempts}

		if attempt >= w.opts.MaxAttempts {
			w.m.failedTotal.Inc()
			log.WithError(err).WithFields(fields).Error("worker: giving up on source user")
			if failErr := w.executor.Fail(ctx, sourceUserID, err); failErr != nil {
				log.WithError(failErr).Warn("worker: failed to mark source user failed")
			}
			return nil
		}

		wait := w.retryDelay(attempt)
		log.WithError(err).WithFields(fields).WithField("retry_in", wait.String()).Warn("worker: reassignment attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.opts.Clock.After(wait):
		}
	}
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	w.randMu.Lock()
	defer w.randMu.Unlock()
	return backoff(attempt, w.opts.MaxBackoff) + jitter(w.opts.Rand, w.opts.JitterMax)
}
