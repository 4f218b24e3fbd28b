package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"notifier_server/core/port/out"
	"notifier_server/core/service/notification"
	"notifier_server/pkg/apperr"
)

// =============================================================================
// QueueFetcher - bounded background message fetch on go-pkgz/pool
// =============================================================================

var (
	ErrQueueFull    = errors.New("fetch queue full")
	ErrQueueStopped = errors.New("fetch queue not running")
)

// QueueConfig holds fetch queue configuration.
type QueueConfig struct {
	Workers      int           // concurrent fetches
	QueueSize    int           // jobs waiting before new ones are dropped
	JobTimeout   time.Duration // per attempt
	MaxAttempts  int           // 1 means no retry
	RetryBackoff time.Duration // base delay, doubled per attempt
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:      4,
		QueueSize:    100,
		JobTimeout:   30 * time.Second,
		MaxAttempts:  1,
		RetryBackoff: time.Second,
	}
}

// QueueStats holds queue counters.
type QueueStats struct {
	Submitted int64 `json:"submitted"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Retried   int64 `json:"retried"`
}

type fetchJob struct {
	client    out.MailClient
	messageID string
}

// fetchWorker implements pool.Worker for fetch jobs.
type fetchWorker struct {
	q *QueueFetcher
}

func (w *fetchWorker) Do(ctx context.Context, job *fetchJob) error {
	return w.q.process(ctx, job)
}

// QueueFetcher implements notification.Fetcher by handing work to a pool.
// Fetch returns once the job is queued.
type QueueFetcher struct {
	sink out.MessageSink
	cfg  QueueConfig
	log  zerolog.Logger

	jobs   chan *fetchJob
	pool   *pool.WorkerGroup[*fetchJob]
	feeder sync.WaitGroup

	mu      sync.RWMutex
	started bool

	stats QueueStats
}

func NewQueueFetcher(sink out.MessageSink, cfg QueueConfig, log zerolog.Logger) *QueueFetcher {
	def := DefaultQueueConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &QueueFetcher{
		sink: sink,
		cfg:  cfg,
		log:  log.With().Str("component", "fetch_queue").Logger(),
	}
}

// Start launches the workers.
func (q *QueueFetcher) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	q.jobs = make(chan *fetchJob, q.cfg.QueueSize)
	q.pool = pool.New[*fetchJob](q.cfg.Workers, &fetchWorker{q: q}).
		WithBatchSize(1).
		WithWorkerChanSize(1).
		WithContinueOnError()
	if err := q.pool.Go(ctx); err != nil {
		return err
	}

	q.feeder.Add(1)
	go func() {
		defer q.feeder.Done()
		for job := range q.jobs {
			q.pool.Submit(job)
		}
	}()

	q.started = true
	q.log.Info().
		Int("workers", q.cfg.Workers).
		Int("queue_size", q.cfg.QueueSize).
		Int("max_attempts", q.cfg.MaxAttempts).
		Msg("fetch queue started")
	return nil
}

// Stop drains queued jobs and waits for the workers.
func (q *QueueFetcher) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false
	close(q.jobs)
	q.mu.Unlock()

	q.feeder.Wait()
	err := q.pool.Close(ctx)

	s := q.Stats()
	q.log.Info().
		Int64("processed", s.Processed).
		Int64("failed", s.Failed).
		Int64("dropped", s.Dropped).
		Msg("fetch queue stopped")
	return err
}

// Fetch queues a fetch. A full queue drops the job.
func (q *QueueFetcher) Fetch(_ context.Context, client out.MailClient, messageID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started {
		return ErrQueueStopped
	}

	select {
	case q.jobs <- &fetchJob{client: client, messageID: messageID}:
		atomic.AddInt64(&q.stats.Submitted, 1)
		return nil
	default:
		atomic.AddInt64(&q.stats.Dropped, 1)
		q.log.Warn().Str("message_id", messageID).Msg("fetch queue full, job dropped")
		return ErrQueueFull
	}
}

func (q *QueueFetcher) Stats() QueueStats {
	return QueueStats{
		Submitted: atomic.LoadInt64(&q.stats.Submitted),
		Processed: atomic.LoadInt64(&q.stats.Processed),
		Failed:    atomic.LoadInt64(&q.stats.Failed),
		Dropped:   atomic.LoadInt64(&q.stats.Dropped),
		Retried:   atomic.LoadInt64(&q.stats.Retried),
	}
}

func (q *QueueFetcher) process(ctx context.Context, job *fetchJob) error {
	var err error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			atomic.AddInt64(&q.stats.Retried, 1)
			backoff := q.cfg.RetryBackoff << (attempt - 2)
			select {
			case <-ctx.Done():
				atomic.AddInt64(&q.stats.Failed, 1)
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
		err = notification.FetchAndDeliver(jobCtx, job.client, q.sink, job.messageID)
		cancel()
		if err == nil {
			atomic.AddInt64(&q.stats.Processed, 1)
			return nil
		}

		q.log.Warn().
			Err(err).
			Str("message_id", job.messageID).
			Int("attempt", attempt).
			Msg("fetch attempt failed")

		if !retryable(err) {
			break
		}
	}

	atomic.AddInt64(&q.stats.Failed, 1)
	q.log.Error().Err(err).Str("message_id", job.messageID).Msg("fetch failed")
	return err
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if apperr.HasCode(err, apperr.CodeAuthError) {
		return false
	}
	status := apperr.ProviderStatus(err)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}

var _ notification.Fetcher = (*QueueFetcher)(nil)
