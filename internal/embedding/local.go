package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ee "github.com/soundprediction/go-embedeverything/pkg/embedder"
	"golang.org/x/sync/singleflight"
)

// Local runs a sentence-transformer model in process. The model is loaded
// lazily on the first Embed call; loading takes several seconds, so
// concurrent first callers are collapsed into a single load via
// singleflight and everyone waits on the same result.
type Local struct {
	model  string
	dims   int
	logger *slog.Logger
	cache  *Cache

	initGroup singleflight.Group

	mu     sync.RWMutex
	client *ee.Embedder
	closed bool
}

// LocalOptions configures the local embedder.
type LocalOptions struct {
	Model      string // Model name, e.g. "all-MiniLM-L6-v2"
	Dimensions int    // Expected vector size
	CacheSize  int    // LRU entries; <= 0 uses the default
	Logger     *slog.Logger
}

// NewLocal creates a local embedder. The model is not loaded until the
// first Embed call.
func NewLocal(opts LocalOptions) *Local {
	return &Local{
		model:  opts.Model,
		dims:   opts.Dimensions,
		logger: opts.Logger,
		cache:  NewCache(opts.CacheSize),
	}
}

// Embed generates a vector for text, truncated to the model input cap.
// Results are cached by content hash.
func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	text = Truncate(text)
	hash := ComputeHash(text)
	if v, ok := l.cache.Get(hash); ok {
		return v, nil
	}

	client, err := l.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	// go-embedeverything does not take a context; honor cancellation
	// before committing to the call.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors, err := client.Embed([]string{text})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed text: no vectors returned")
	}
	v := vectors[0]
	if l.dims > 0 && len(v) != l.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(v), l.dims)
	}

	l.cache.Set(hash, v)

	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// ensureClient loads the model exactly once across concurrent callers.
func (l *Local) ensureClient(ctx context.Context) (*ee.Embedder, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrEmbedderClosed
	}
	if l.client != nil {
		client := l.client
		l.mu.RUnlock()
		return client, nil
	}
	l.mu.RUnlock()

	result := l.initGroup.DoChan("init", func() (any, error) {
		start := time.Now()
		client, err := ee.NewEmbedder(l.model)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModelInit, l.model, err)
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			client.Close()
			return nil, ErrEmbedderClosed
		}
		l.client = client
		l.mu.Unlock()

		if l.logger != nil {
			l.logger.Info("embedding model loaded",
				"model", l.model,
				"took", time.Since(start).String(),
			)
		}
		return client, nil
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ee.Embedder), nil
	case <-ctx.Done():
		// The load continues in the background; later callers benefit.
		return nil, ctx.Err()
	}
}

// Dimensions returns the configured vector size.
func (l *Local) Dimensions() int {
	return l.dims
}

// Loaded reports whether the model is resident in memory.
func (l *Local) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client != nil
}

// Close releases the model. Embed calls after Close fail.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
	return nil
}
