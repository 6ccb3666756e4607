package embedding

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/store"
)

// reconcileLimit caps how many unembedded highlights a single reconcile
// pass enqueues. Larger backlogs drain across subsequent passes.
const reconcileLimit = 1000

// defaultJobTimeout bounds a single embed-and-write cycle. The first job
// after startup also pays the model load, so this is generous.
const defaultJobTimeout = 2 * time.Minute

// QueueStore is the persistence surface the queue needs.
type QueueStore interface {
	GetHighlightByID(ctx context.Context, highlightID string) (*domain.Highlight, error)
	WriteEmbedding(ctx context.Context, highlightID string, vector []float32) error
	FindUnembedded(ctx context.Context, ownerID string, limit int) ([]*domain.Highlight, error)
}

// Status is a point-in-time snapshot of the queue.
type Status struct {
	Pending    int    `json:"pending"`
	Processing bool   `json:"processing"`
	Failed     uint64 `json:"failed"`
}

// Queue computes embeddings for highlights in the background.
//
// Jobs are highlight IDs in an unbounded FIFO. At most one worker
// goroutine runs at a time: enqueueing into an idle queue starts the
// worker, enqueueing into a busy one just appends. The worker paces
// itself with a rate limiter so a bulk import does not monopolize the
// CPU, drains the queue to empty, and exits.
//
// A job that fails is logged, counted, and dropped. There is no retry;
// Reconcile sweeps up anything still missing a vector.
type Queue struct {
	store    QueueStore
	embedder Embedder
	limiter  *rate.Limiter
	logger   *slog.Logger

	jobTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	pending    []string
	processing bool
	closed     bool

	failed uint64
}

// QueueOptions configures the queue.
type QueueOptions struct {
	Store      QueueStore
	Embedder   Embedder
	Delay      time.Duration // Minimum gap between jobs; <= 0 disables pacing
	JobTimeout time.Duration // Per-job deadline; <= 0 uses the default
	Logger     *slog.Logger
}

// NewQueue creates an idle queue. Work starts on the first Enqueue.
func NewQueue(opts QueueOptions) *Queue {
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:      opts.Store,
		embedder:   opts.Embedder,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     opts.Logger,
		jobTimeout: jobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue schedules a highlight for embedding. Safe for concurrent use;
// a no-op after Close.
func (q *Queue) Enqueue(highlightID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, highlightID)
	if !q.processing {
		q.processing = true
		q.wg.Add(1)
		go q.work()
	}
}

// EnqueueBatch schedules several highlights under a single lock acquisition.
func (q *Queue) EnqueueBatch(highlightIDs []string) {
	if len(highlightIDs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, highlightIDs...)
	if !q.processing {
		q.processing = true
		q.wg.Add(1)
		go q.work()
	}
}

// work drains the queue and exits. Only one instance runs at a time.
func (q *Queue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.processing = false
			q.mu.Unlock()
			return
		}
		highlightID := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.limiter.Wait(q.ctx); err != nil {
			// Queue closed mid-wait.
			q.mu.Lock()
			q.processing = false
			q.mu.Unlock()
			return
		}

		if err := q.processOne(highlightID); err != nil {
			atomic.AddUint64(&q.failed, 1)
			if q.logger != nil {
				q.logger.Error("embedding job failed",
					"highlight_id", highlightID,
					"error", err,
				)
			}
		}
	}
}

// processOne embeds a single highlight and persists the vector.
// Highlights deleted or already embedded since enqueueing are skipped.
func (q *Queue) processOne(highlightID string) error {
	ctx, cancel := context.WithTimeout(q.ctx, q.jobTimeout)
	defer cancel()

	h, err := q.store.GetHighlightByID(ctx, highlightID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if h.HasEmbedding() {
		return nil
	}

	vector, err := q.embedder.Embed(ctx, h.Content)
	if err != nil {
		return err
	}

	err = q.store.WriteEmbedding(ctx, highlightID, vector)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Reconcile enqueues highlights that have no stored embedding, up to the
// reconcile cap, and returns how many were scheduled. Run at startup to
// recover work lost to crashes or failed jobs.
func (q *Queue) Reconcile(ctx context.Context) (int, error) {
	missing, err := q.store.FindUnembedded(ctx, "", reconcileLimit)
	if err != nil {
		return 0, err
	}
	for _, h := range missing {
		q.Enqueue(h.ID)
	}
	if len(missing) > 0 && q.logger != nil {
		q.logger.Info("reconciled missing embeddings", "count", len(missing))
	}
	return len(missing), nil
}

// Status returns a snapshot of queue depth and failure count.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Pending:    len(q.pending),
		Processing: q.processing,
		Failed:     atomic.LoadUint64(&q.failed),
	}
}

// Close stops accepting jobs, interrupts the worker, and waits for it to
// exit. Pending jobs are abandoned; Reconcile picks them up next start.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
