package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/fraudlink/internal/extract"
	"github.com/starford/fraudlink/internal/linker"
	"github.com/starford/fraudlink/internal/matcher"
	"github.com/starford/fraudlink/internal/store"
	"github.com/starford/fraudlink/internal/store/badgerstore"
	"github.com/starford/fraudlink/internal/store/sqlite"
	"github.com/starford/fraudlink/internal/worker"
)

// engine is the linking stack shared by the server and the one-shot commands.
type engine struct {
	store     store.Store
	registry  *matcher.Registry
	linker    *linker.Service
	extractor *extract.Extractor
	log       *slog.Logger
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

func openEngine(cfg *Config, logger *slog.Logger) (*engine, error) {
	registry, err := matcher.NewRegistry(cfg.Matchers)
	if err != nil {
		return nil, fmt.Errorf("init matchers: %w", err)
	}

	st, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	svc := linker.NewService(st, registry,
		linker.WithDefaults(cfg.Resolver.Options()),
		linker.WithTimeout(time.Duration(cfg.Resolver.Timeout)),
		linker.WithPushdown(cfg.Resolver.Pushdown),
		linker.WithLogger(logger),
	)

	return &engine{
		store:     st,
		registry:  registry,
		linker:    svc,
		extractor: extract.New(registry),
		log:       logger,
	}, nil
}

func openStore(cfg StorageConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case DriverBadger:
		if cfg.Badger.InMemory {
			s, err := badgerstore.OpenInMemory(logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		if err := os.MkdirAll(cfg.Badger.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		s, err := badgerstore.Open(cfg.Badger.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// pipeline builds the processing pipeline. Results always reach the log sink.
func (e *engine) pipeline(sinks ...worker.Sink) *worker.Pipeline {
	opts := []worker.Option{
		worker.WithLogger(e.log),
		worker.WithSink(worker.NewLogSink(e.log)),
	}
	for _, s := range sinks {
		opts = append(opts, worker.WithSink(s))
	}
	return worker.NewPipeline(e.linker, e.extractor, opts...)
}

func (e *engine) Close() error {
	return e.store.Close()
}
