package providers

import (
	"context"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/marginalia-app/marginalia-server/internal/config"
	"github.com/marginalia-app/marginalia-server/internal/embedding"
	"github.com/marginalia-app/marginalia-server/internal/logger"
	"github.com/marginalia-app/marginalia-server/internal/search"
	"github.com/marginalia-app/marginalia-server/internal/service"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.Index
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve search index.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	index, err := search.NewIndex(search.Options{
		DataPath: filepath.Join(cfg.Data.BasePath, "search"),
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	docCount, _ := index.DocumentCount()
	log.Info("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{Index: index}, nil
}

// EmbedderHandle wraps the local embedder with shutdown capability.
type EmbedderHandle struct {
	*embedding.Local
}

// Shutdown implements do.Shutdownable.
func (h *EmbedderHandle) Shutdown() error {
	return h.Close()
}

// ProvideEmbedder provides the local embedding model.
func ProvideEmbedder(i do.Injector) (*EmbedderHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	emb := embedding.NewLocal(embedding.LocalOptions{
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		Logger:     log.Logger,
	})

	log.Info("Embedder configured",
		"model", cfg.Embedding.Model,
		"dimensions", cfg.Embedding.Dimensions,
	)

	return &EmbedderHandle{Local: emb}, nil
}

// EmbeddingQueueHandle wraps the embedding queue with shutdown capability.
type EmbeddingQueueHandle struct {
	*embedding.Queue
}

// Shutdown implements do.Shutdownable.
func (h *EmbeddingQueueHandle) Shutdown() error {
	return h.Close()
}

// ProvideEmbeddingQueue provides the background embedding queue.
func ProvideEmbeddingQueue(i do.Injector) (*EmbeddingQueueHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	embedderHandle := do.MustInvoke[*EmbedderHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	queue := embedding.NewQueue(embedding.QueueOptions{
		Store:    storeHandle.Store,
		Embedder: embedderHandle.Local,
		Delay:    cfg.Embedding.QueueDelay,
		Logger:   log.Logger,
	})

	return &EmbeddingQueueHandle{Queue: queue}, nil
}

// ProvideSearchService provides the hybrid search service.
func ProvideSearchService(i do.Injector) (*service.SearchService, error) {
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	embedderHandle := do.MustInvoke[*EmbedderHandle](i)
	queueHandle := do.MustInvoke[*EmbeddingQueueHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewSearchService(indexHandle.Index, storeHandle.Store, embedderHandle.Local, queueHandle.Queue, log.Logger), nil
}

// TriggerSearchReindexIfNeeded rebuilds the index when it is empty but
// highlights exist, e.g. after an index mapping upgrade dropped it.
// Should be called after all services are wired.
func TriggerSearchReindexIfNeeded(i do.Injector) {
	searchService := do.MustInvoke[*service.SearchService](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	docCount, _ := indexHandle.DocumentCount()
	if docCount > 0 {
		return
	}

	ctx := context.Background()
	counts, err := storeHandle.CountEmbeddingStatus(ctx, "")
	if err != nil || counts.WithEmbedding+counts.WithoutEmbedding == 0 {
		return
	}

	log.Info("Search index is empty but highlights exist, triggering initial reindex",
		"highlight_count", counts.WithEmbedding+counts.WithoutEmbedding,
	)

	go func() {
		reindexCtx := context.Background()
		if err := searchService.ReindexAll(reindexCtx); err != nil {
			log.Error("Initial search reindex failed", "error", err)
			return
		}
		count, _ := indexHandle.DocumentCount()
		log.Info("Initial search reindex completed", "documents", count)
	}()
}

// TriggerEmbeddingReconcile enqueues highlights whose embeddings were
// lost to a crash or content edit before the previous shutdown.
func TriggerEmbeddingReconcile(i do.Injector) {
	queueHandle := do.MustInvoke[*EmbeddingQueueHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	go func() {
		count, err := queueHandle.Reconcile(context.Background())
		if err != nil {
			log.Warn("Embedding reconcile failed", "error", err)
			return
		}
		if count > 0 {
			log.Info("Queued highlights missing embeddings", "count", count)
		}
	}()
}
