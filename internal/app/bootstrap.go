package app

import (
	"log/slog"

	"optiondesk/internal/domain"
	"optiondesk/internal/infra"
	"optiondesk/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Journal *storage.Storage // nil when storage is disabled
	Client  *infra.BackendClient
	Session *infra.HTTPSession
	Metrics *infra.Metrics
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config at path and builds the infrastructure the desk
// runs on: logger, journal, backend transport and session gate.
func (b *Bootstrap) Initialize(path string) error {
	slog.Info("Bootstrapping optiondesk", slog.String("config", path))

	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith is Initialize for an already loaded config.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))

	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.JournalPath)
		if err != nil {
			return err
		}
		b.Journal = store
		slog.Info("Action journal opened", slog.String("path", cfg.Storage.JournalPath))
	}

	b.Client = infra.NewBackendClient(cfg.Backend.BaseURL, cfg.RequestTimeout(), nil)
	b.Session = infra.NewHTTPSession(b.Client)
	b.Client.SetTokenSource(b.Session)

	if b.Metrics == nil {
		b.Metrics = infra.GlobalMetrics
	}
	return nil
}

// journal returns the journal as the gateway's interface, keeping a nil
// *Storage from turning into a non-nil interface.
func (b *Bootstrap) journal() domain.ActionJournal {
	if b.Journal == nil {
		return nil
	}
	return b.Journal
}

// Close releases what Initialize opened.
func (b *Bootstrap) Close() {
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Failed to close journal", slog.Any("error", err))
		}
	}
}
