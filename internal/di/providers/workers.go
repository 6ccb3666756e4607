package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/marginalia-app/marginalia-server/internal/config"
	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/logger"
	"github.com/marginalia-app/marginalia-server/internal/service"
	"github.com/marginalia-app/marginalia-server/internal/watcher"
)

// FileWatcherHandle wraps the import drop-folder watcher with shutdown
// capability. Watcher is nil when the watcher is disabled.
type FileWatcherHandle struct {
	*watcher.Watcher
}

// Shutdown implements do.Shutdownable.
func (h *FileWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	return h.Close()
}

// ProvideFileWatcher provides the import drop-folder watcher. The watcher
// needs an owner to assign imported highlights to, so it only runs when a
// default owner is configured.
func ProvideFileWatcher(i do.Injector) (*FileWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	highlightService := do.MustInvoke[*service.HighlightService](i)

	if !cfg.Import.WatchEnabled {
		log.Info("Import watcher disabled by configuration")
		return &FileWatcherHandle{}, nil
	}

	ownerID := cfg.Import.DefaultOwner
	if ownerID == "" {
		log.Info("Import watcher disabled: no default owner configured (set IMPORT_OWNER)")
		return &FileWatcherHandle{}, nil
	}

	// The owner row must exist before imports reference it.
	now := time.Now()
	if err := storeHandle.EnsureUser(context.Background(), &domain.User{
		ID:        ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}

	w, err := watcher.New(cfg.Import.WatchPath, ownerID, highlightService, log.Logger)
	if err != nil {
		return nil, err
	}

	if err := w.Start(context.Background()); err != nil {
		w.Close()
		return nil, err
	}

	log.Info("Import watcher started", "path", cfg.Import.WatchPath, "owner", ownerID)

	return &FileWatcherHandle{Watcher: w}, nil
}
