package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/codectx/codectx/internal/assemble"
	"github.com/codectx/codectx/internal/config"
	"github.com/codectx/codectx/internal/corpus"
	"github.com/codectx/codectx/internal/embed"
	"github.com/codectx/codectx/internal/logging"
	"github.com/codectx/codectx/internal/retrieve"
	"github.com/codectx/codectx/internal/search"
	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

// Files the CLI keeps under the index directory, next to the extractor's
// unit records.
const (
	metadataFile   = "metadata.db"
	keywordsDir    = "keywords.bleve"
	vectorsFile    = "vectors.gob"
	checkpointFile = "checkpoint.json"
	tracesFile     = "queries.jsonl"
	feedbackFile   = "feedback.jsonl"

	indexLockName = "index"
)

// env bundles the wired stores every command works over. The graph is
// rebuilt from the corpus on open; vectors persist only under the hnsw
// backend.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	embedder embed.Embedder
	vectors  store.VectorStore
	metadata store.MetadataStore
	keywords store.KeywordIndex
	graph    store.GraphStore
	units    []*unit.Unit

	cleanups []func()
}

func openEnv(cfgPath string) (*env, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	// Log to file only; stdout belongs to command output (and to the MCP
	// protocol under serve).
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.WriteToStderr = false
	if logger, cleanup, lerr := logging.Setup(logCfg); lerr == nil {
		e.logger = logger
		e.cleanups = append(e.cleanups, cleanup)
	} else {
		e.logger = slog.Default()
	}

	embedder, err := embed.New(cfg.Embeddings)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.embedder = embedder
	e.cleanups = append(e.cleanups, func() { embedder.Close() })

	dir := cfg.Index.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.Close()
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	metadata, err := store.NewSQLiteMetadataStore(filepath.Join(dir, metadataFile))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.metadata = metadata
	e.cleanups = append(e.cleanups, func() { metadata.Close() })

	keywords, err := store.NewBleveKeywordIndex(filepath.Join(dir, keywordsDir))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.keywords = keywords
	e.cleanups = append(e.cleanups, func() { keywords.Close() })

	vectors, err := e.openVectorStore()
	if err != nil {
		e.Close()
		return nil, err
	}
	e.vectors = vectors
	e.cleanups = append(e.cleanups, func() { vectors.Close() })

	// Corpus records feed the graph; a missing or partial corpus is not
	// fatal, retrieval degrades instead.
	loader := corpus.NewLoader(dir, e.logger)
	units, err := loader.LoadAll()
	if err != nil {
		e.logger.Warn("cannot load corpus, continuing without it", "dir", dir, "error", err)
	}
	e.units = units

	graph := store.NewMemoryGraphStore()
	graph.AddUnits(units...)
	e.graph = graph

	return e, nil
}

func (e *env) openVectorStore() (store.VectorStore, error) {
	dims := e.embedder.Dimensions()

	switch e.cfg.Retrieval.VectorStore {
	case "memory":
		return store.NewMemoryVectorStore(dims), nil
	case "hnsw":
		vectors, err := store.NewHNSWStore(store.HNSWConfig{Dimensions: dims})
		if err != nil {
			return nil, err
		}
		path := e.path(vectorsFile)
		if _, serr := os.Stat(path); serr == nil {
			if lerr := vectors.Load(path); lerr != nil {
				e.logger.Warn("cannot load persisted vectors, starting empty",
					"path", path, "error", lerr)
			}
		}
		return vectors, nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q (supported: memory, hnsw)",
			e.cfg.Retrieval.VectorStore)
	}
}

// saveVectors persists the vector store when the backend supports it.
func (e *env) saveVectors() error {
	hnsw, ok := e.vectors.(*store.HNSWStore)
	if !ok {
		return nil
	}
	return hnsw.Save(e.path(vectorsFile))
}

// retriever wires the full retrieval pipeline over the environment.
func (e *env) retriever(opts ...retrieve.Option) *retrieve.Retriever {
	base := []retrieve.Option{
		retrieve.WithDefaultBudget(e.cfg.Retrieval.Budget),
		retrieve.WithRankLimit(e.cfg.Retrieval.Limit),
		retrieve.WithLogger(e.logger),
	}
	if e.cfg.Retrieval.Formatter != "" {
		base = append(base, retrieve.WithFormat(e.cfg.Retrieval.Formatter))
	}

	executor := search.NewExecutor(e.embedder, e.vectors, e.metadata, e.keywords, e.graph)
	return retrieve.NewRetriever(
		search.NewQueryClassifier(),
		executor,
		search.NewRanker(e.graph),
		assemble.NewAssembler(e.metadata),
		e.metadata,
		append(base, opts...)...,
	)
}

func (e *env) path(name string) string {
	return filepath.Join(e.cfg.Index.Dir, name)
}

// Close releases stores and the log file in reverse open order.
func (e *env) Close() {
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		e.cleanups[i]()
	}
	e.cleanups = nil
}
