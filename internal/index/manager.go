package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"docindex/internal/config"
	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
)

// Manager is the registry of named indices. Its lock only guards the name
// table; encoding, training and file I/O happen outside it.
type Manager struct {
	conf    *config.Config
	mu      sync.RWMutex
	indices map[string]Index
	pending map[string]struct{} // names reserved by in-flight creates
}

// NewIndexManager creates the data directory if needed and loads every
// index persisted in it.
func NewIndexManager(ctx context.Context, conf *config.Config) (*Manager, error) {
	if err := os.MkdirAll(conf.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", conf.DataDir, err)
	}
	m := &Manager{
		conf:    conf,
		indices: make(map[string]Index),
		pending: make(map[string]struct{}),
	}
	if err := m.LoadIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

type discovered struct {
	name  string
	dense bool // <name>.data present
	bm25  bool // <name>.bm25 present
}

// discover lists index names found in the data directory.
func (m *Manager) discover() ([]*discovered, error) {
	entries, err := os.ReadDir(m.conf.DataDir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	seen := make(map[string]*discovered)
	get := func(name string) *discovered {
		d, ok := seen[name]
		if !ok {
			d = &discovered{name: name}
			seen[name] = d
		}
		return d
	}
	for _, entry := range entries {
		if entry.IsDir() || isTempFile(entry.Name()) {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, dataSuffix):
			get(strings.TrimSuffix(name, dataSuffix)).dense = true
		case strings.HasSuffix(name, bm25Suffix):
			get(strings.TrimSuffix(name, bm25Suffix)).bm25 = true
		}
	}

	out := make([]*discovered, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// LoadIndexes loads all indexes from disk in parallel. A corrupt index aborts
// the load or is skipped, depending on the configured load policy.
func (m *Manager) LoadIndexes(ctx context.Context) error {
	found, err := m.discover()
	if err != nil {
		return err
	}

	loaded := make([]Index, len(found))
	failures := make([]error, len(found))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, d := range found {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			idx, err := m.load(d)
			if err != nil {
				failures[i] = fmt.Errorf("index %q: %w", d.name, err)
				if m.conf.LoadPolicy == config.LoadPolicySkip {
					return nil
				}
				return failures[i]
			}
			loaded[i] = idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, idx := range loaded {
		if idx == nil {
			logger.Error("Skipped corrupt index", "index", found[i].name, "error", failures[i])
			continue
		}
		m.indices[idx.Name()] = idx
		logger.Info("Loaded index", "index", idx.Name(), "type", idx.Type(), "documents", idx.Len())
	}
	return nil
}

func (m *Manager) load(d *discovered) (Index, error) {
	if err := ValidateName(d.name); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrPersistence, err)
	}
	switch {
	case d.dense && d.bm25:
		return nil, fmt.Errorf("%w: both dense and bm25 files exist", pkgerrors.ErrPersistence)
	case d.bm25:
		return loadBM25Index(m.conf.DataDir, d.name)
	default:
		return loadVectorIndex(m.conf.DataDir, d.name)
	}
}

// CreateIndex registers a new empty index and persists it.
func (m *Manager) CreateIndex(config IndexConfig) (Index, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.indices[config.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrIndexExists, config.Name)
	}
	if _, busy := m.pending[config.Name]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrIndexExists, config.Name)
	}
	m.pending[config.Name] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, config.Name)
		m.mu.Unlock()
	}()

	var idx Index
	if config.IndexType == BM25Index {
		idx = newBM25Index(m.conf.DataDir, config)
	} else {
		idx = newVectorIndex(m.conf.DataDir, config)
	}
	if err := idx.Save(); err != nil {
		_ = removeIndexFiles(m.conf.DataDir, config.Name)
		return nil, err
	}

	m.mu.Lock()
	m.indices[config.Name] = idx
	m.mu.Unlock()
	logger.Info("Created index", "index", config.Name, "type", config.IndexType,
		"metric", config.SpaceType, "dimension", config.Dimension)
	return idx, nil
}

// GetIndex retrieves an existing index
func (m *Manager) GetIndex(name string) (Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, exists := m.indices[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrIndexNotFound, name)
	}
	return idx, nil
}

// ListIndexes returns all registered indices ordered by name.
func (m *Manager) ListIndexes() []Index {
	m.mu.RLock()
	out := make([]Index, 0, len(m.indices))
	for _, idx := range m.indices {
		out = append(out, idx)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// DeleteIndex unregisters name, waits for in-flight operations on it, then
// removes its files.
func (m *Manager) DeleteIndex(name string) error {
	m.mu.Lock()
	idx, exists := m.indices[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", pkgerrors.ErrIndexNotFound, name)
	}
	delete(m.indices, name)
	m.mu.Unlock()

	// Close takes the index write lock, so no add can persist after this
	if err := idx.Close(); err != nil {
		logger.Error("Failed to close index", "index", name, "error", err)
	}
	if err := removeIndexFiles(m.conf.DataDir, name); err != nil {
		return err
	}
	logger.Info("Deleted index and related files", "index", name)
	return nil
}

// Close closes all indices
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, idx := range m.indices {
		if err := idx.Close(); err != nil {
			logger.Error("Failed to close index", "index", name, "error", err)
			errs = append(errs, err)
		}
	}
	m.indices = make(map[string]Index)
	return errors.Join(errs...)
}
