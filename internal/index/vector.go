package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"

	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
)

// VectorIndex is a dense index over a flat or IVF-flat ANN structure.
type VectorIndex struct {
	mu     sync.RWMutex
	dir    string
	config IndexConfig
	closed bool
	state  *vectorState
}

// vectorState is replaced wholesale on every successful add, so readers
// holding the shared lock always see a complete batch or none of it.
type vectorState struct {
	docs *docStore
	ann  annIndex
	zero *roaring.Bitmap // cosine positions whose vector has zero norm
}

func newVectorIndex(dir string, config IndexConfig) *VectorIndex {
	var ann annIndex
	switch config.IndexType {
	case IVFFLATIndex:
		ann = newIVFANN(config.Dimension, config.SpaceType, config.NList)
	default:
		ann = newFlatANN(config.Dimension, config.SpaceType)
	}
	return &VectorIndex{
		dir:    dir,
		config: config,
		state: &vectorState{
			docs: newDocStore(),
			ann:  ann,
			zero: roaring.New(),
		},
	}
}

func (s *vectorState) clone() *vectorState {
	return &vectorState{
		docs: s.docs.clone(),
		ann:  s.ann.clone(),
		zero: s.zero.Clone(),
	}
}

func (x *VectorIndex) Name() string        { return x.config.Name }
func (x *VectorIndex) Type() IndexType     { return x.config.IndexType }
func (x *VectorIndex) Config() IndexConfig { return x.config }

// validate checks the whole batch before anything is applied.
func (x *VectorIndex) validate(docs []*Document) error {
	if len(docs) == 0 {
		return fmt.Errorf("%w: no documents", pkgerrors.ErrBadParameter)
	}
	for i, doc := range docs {
		switch {
		case doc == nil || doc.ID == "":
			return fmt.Errorf("%w: document %d has no id", pkgerrors.ErrBadParameter, i)
		case strings.TrimSpace(doc.Content) == "":
			return fmt.Errorf("%w: document %q", pkgerrors.ErrEmptyContent, doc.ID)
		case doc.Vector == nil:
			return fmt.Errorf("%w: document %q", pkgerrors.ErrMissingVector, doc.ID)
		case len(doc.Vector) != x.config.Dimension:
			return fmt.Errorf("%w: document %q has %d dimensions, index expects %d",
				pkgerrors.ErrDimensionMismatch, doc.ID, len(doc.Vector), x.config.Dimension)
		case !finite(doc.Vector):
			return fmt.Errorf("%w: document %q has a non-finite vector component", pkgerrors.ErrBadParameter, doc.ID)
		}
	}
	return nil
}

func (x *VectorIndex) Add(docs []*Document) ([]string, error) {
	if err := x.validate(docs); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrIndexNotFound, x.config.Name)
	}

	next := x.state.clone()
	prepared := make([][]float32, len(docs))
	for i, doc := range docs {
		prepared[i] = prepare(doc.Vector, x.config.SpaceType)
	}
	if ivf, ok := next.ann.(*ivfANN); ok && !ivf.Trained {
		ivf.train(prepared)
		logger.Info("Trained IVF quantizer", "index", x.config.Name,
			"vectors", len(prepared), "nlist", x.config.NList, "effective_nlist", ivf.effectiveNList())
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		stored := copyDocument(doc)
		pos, exists := next.docs.positionOf(stored.ID)
		if exists {
			next.ann.replace(pos, prepared[i])
		} else {
			pos = next.docs.assign(stored.ID)
			next.ann.add(pos, prepared[i])
		}
		next.docs.put(stored)

		if x.config.SpaceType == CosSpace && norm(stored.Vector) == 0 {
			next.zero.Add(uint32(pos))
		} else {
			next.zero.Remove(uint32(pos))
		}
		ids[i] = stored.ID
	}

	// the current state stays in place if the batch cannot be persisted
	if err := saveVectorState(x.dir, x.config, next); err != nil {
		return nil, err
	}
	x.state = next
	logger.Debug("Added documents", "index", x.config.Name, "count", len(ids), "total", next.docs.len())
	return ids, nil
}

func (x *VectorIndex) Get(id string) (*Document, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	doc, err := x.state.docs.get(id)
	if err != nil {
		return nil, err
	}
	return copyDocument(doc), nil
}

func (x *VectorIndex) List(offset, limit int) ([]*Document, int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.list(offset, limit)
}

// Search returns up to q.K hits ordered best-first. Stored zero vectors of a
// cosine index rank after every other vector.
func (x *VectorIndex) Search(q *Query) ([]Hit, error) {
	if q.Vector == nil {
		return nil, pkgerrors.ErrMissingQuery
	}
	if err := validateK(q.K); err != nil {
		return nil, err
	}
	if len(q.Vector) != x.config.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			pkgerrors.ErrDimensionMismatch, len(q.Vector), x.config.Dimension)
	}
	if !finite(q.Vector) {
		return nil, fmt.Errorf("%w: query vector has a non-finite component", pkgerrors.ErrBadParameter)
	}
	if q.NProbe < 0 {
		return nil, fmt.Errorf("%w: nprobe must be positive, got %d", pkgerrors.ErrBadParameter, q.NProbe)
	}
	nprobe := x.config.NProbe
	if q.NProbe > 0 {
		nprobe = q.NProbe
	}
	query := prepare(q.Vector, x.config.SpaceType)

	x.mu.RLock()
	defer x.mu.RUnlock()
	st := x.state
	if st.docs.len() == 0 {
		return []Hit{}, nil
	}

	zeros := int(st.zero.GetCardinality())
	found := st.ann.search(query, q.K+zeros, nprobe)
	if zeros > 0 {
		found = zeroLast(found, st.zero)
	}
	if len(found) > q.K {
		found = found[:q.K]
	}

	hits := make([]Hit, len(found))
	for i, n := range found {
		hits[i] = Hit{Position: n.pos, Score: float64(n.dist)}
		if n.pos != notFound {
			hits[i].Document = st.docs.at(n.pos)
		}
	}
	return hits, nil
}

// zeroLast moves zero-vector hits behind real hits and ahead of sentinels,
// keeping relative order within each group.
func zeroLast(found []neighbor, zero *roaring.Bitmap) []neighbor {
	out := make([]neighbor, 0, len(found))
	var zeros, missing []neighbor
	for _, n := range found {
		switch {
		case n.pos == notFound:
			missing = append(missing, n)
		case zero.Contains(uint32(n.pos)):
			zeros = append(zeros, n)
		default:
			out = append(out, n)
		}
	}
	out = append(out, zeros...)
	return append(out, missing...)
}

func (x *VectorIndex) PositionOf(id string) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.positionOf(id)
}

func (x *VectorIndex) IDAt(pos int64) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.idAt(pos)
}

func (x *VectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.len()
}

// IsTrained reports whether the coarse quantizer has been trained. Flat
// indices need no training and always report true.
func (x *VectorIndex) IsTrained() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if ivf, ok := x.state.ann.(*ivfANN); ok {
		return ivf.Trained
	}
	return true
}

// VectorCount is the number of vectors held by the ANN structure.
func (x *VectorIndex) VectorCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.ann.count()
}

func (x *VectorIndex) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := Stats{
		Name:             x.config.Name,
		IndexType:        x.config.IndexType,
		SpaceType:        x.config.SpaceType,
		Dimension:        x.config.Dimension,
		NumDocuments:     x.state.docs.len(),
		EmbeddingModel:   x.config.EmbeddingModel,
		EmbeddingBackend: x.config.EmbeddingBackend,
	}
	if ivf, ok := x.state.ann.(*ivfANN); ok {
		trained := ivf.Trained
		s.NList = x.config.NList
		s.NProbe = x.config.NProbe
		s.EffectiveNList = ivf.effectiveNList()
		s.IsTrained = &trained
	}
	return s
}

func (x *VectorIndex) Save() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return saveVectorState(x.dir, x.config, x.state)
}

func (x *VectorIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}
