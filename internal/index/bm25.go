package index

import (
	"container/heap"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"

	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
)

// BM25 is a lexical index. Every insertion rebuilds the corpus from
// scratch in ascending id order, so positions always equal the rank of the
// id among all ids.
type BM25 struct {
	mu     sync.RWMutex
	dir    string
	config IndexConfig
	closed bool
	state  *bm25State
}

type bm25State struct {
	docs         *docStore
	docTokens    [][]string
	docLengths   []int
	avgDocLength float64
	docFreqs     map[string]int
	idf          map[string]float64
	postings     map[string]*roaring.Bitmap // term -> positions containing it
}

func newBM25Index(dir string, config IndexConfig) *BM25 {
	return &BM25{
		dir:    dir,
		config: config,
		state: &bm25State{
			docs:     newDocStore(),
			docFreqs: make(map[string]int),
			idf:      make(map[string]float64),
			postings: make(map[string]*roaring.Bitmap),
		},
	}
}

func (s *bm25State) numDocs() int {
	return len(s.docTokens)
}

// rebuildCorpus derives positions and every statistic from the documents
// alone.
func rebuildCorpus(docs *docStore, epsilon float64) *bm25State {
	ids := make([]string, 0, docs.len())
	for id := range docs.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	docs.reassign(ids)

	n := len(ids)
	s := &bm25State{
		docs:       docs,
		docTokens:  make([][]string, n),
		docLengths: make([]int, n),
		docFreqs:   make(map[string]int),
		idf:        make(map[string]float64),
		postings:   make(map[string]*roaring.Bitmap),
	}

	total := 0
	for pos, id := range ids {
		tokens := Tokenize(docs.docs[id].Content)
		s.docTokens[pos] = tokens
		s.docLengths[pos] = len(tokens)
		total += len(tokens)

		for _, t := range tokens {
			p, ok := s.postings[t]
			if !ok {
				p = roaring.New()
				s.postings[t] = p
			}
			if p.CheckedAdd(uint32(pos)) {
				s.docFreqs[t]++
			}
		}
	}
	if n > 0 {
		s.avgDocLength = float64(total) / float64(n)
	}
	for t, df := range s.docFreqs {
		s.idf[t] = idf(n, df, epsilon)
	}
	return s
}

// idf is the BM25 inverse document frequency with a floor of epsilon.
func idf(n, df int, epsilon float64) float64 {
	v := math.Log((float64(n-df) + 0.5) / (float64(df) + 0.5))
	return math.Max(epsilon, v)
}

// score computes the BM25 score of the document at pos for distinct terms.
func (s *bm25State) score(terms []string, pos int, k1, b float64) float64 {
	if s.avgDocLength == 0 {
		return 0
	}
	tokens := s.docTokens[pos]
	lengthNorm := k1 * (1 - b + b*float64(s.docLengths[pos])/s.avgDocLength)

	var total float64
	for _, t := range terms {
		w, ok := s.idf[t]
		if !ok {
			continue
		}
		tf := 0
		for _, tok := range tokens {
			if tok == t {
				tf++
			}
		}
		if tf == 0 {
			continue
		}
		f := float64(tf)
		total += w * (f * (k1 + 1)) / (f + lengthNorm)
	}
	return total
}

func (x *BM25) Name() string        { return x.config.Name }
func (x *BM25) Type() IndexType     { return BM25Index }
func (x *BM25) Config() IndexConfig { return x.config }

func (x *BM25) Add(docs []*Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents", pkgerrors.ErrBadParameter)
	}
	for i, doc := range docs {
		switch {
		case doc == nil || doc.ID == "":
			return nil, fmt.Errorf("%w: document %d has no id", pkgerrors.ErrBadParameter, i)
		case strings.TrimSpace(doc.Content) == "":
			return nil, fmt.Errorf("%w: document %q", pkgerrors.ErrEmptyContent, doc.ID)
		case doc.Vector != nil:
			return nil, fmt.Errorf("%w: bm25 index does not accept vectors (document %q)", pkgerrors.ErrBadParameter, doc.ID)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrIndexNotFound, x.config.Name)
	}

	store := x.state.docs.clone()
	ids := make([]string, len(docs))
	for i, doc := range docs {
		store.put(copyDocument(doc))
		ids[i] = doc.ID
	}
	next := rebuildCorpus(store, x.config.Epsilon)

	if err := saveBM25State(x.dir, x.config, next); err != nil {
		return nil, err
	}
	x.state = next
	logger.Debug("Rebuilt bm25 corpus", "index", x.config.Name, "added", len(ids),
		"documents", next.numDocs(), "terms", len(next.docFreqs))
	return ids, nil
}

func (x *BM25) Get(id string) (*Document, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	doc, err := x.state.docs.get(id)
	if err != nil {
		return nil, err
	}
	return copyDocument(doc), nil
}

func (x *BM25) List(offset, limit int) ([]*Document, int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.list(offset, limit)
}

// Search ranks every document against q.Text. Documents sharing no term with
// the query score zero and still fill the remaining slots by position.
func (x *BM25) Search(q *Query) ([]Hit, error) {
	if q.Vector != nil {
		return nil, pkgerrors.ErrQueryKindMismatch
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, pkgerrors.ErrMissingQueryText
	}
	if err := validateK(q.K); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	s := x.state
	n := s.numDocs()
	if n == 0 {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrEmptyCorpus, x.config.Name)
	}

	terms := queryTerms(q.Text)
	candidates := roaring.New()
	for _, t := range terms {
		if p, ok := s.postings[t]; ok {
			candidates.Or(p)
		}
	}
	scores := make([]float64, n)
	it := candidates.Iterator()
	for it.HasNext() {
		pos := int(it.Next())
		scores[pos] = s.score(terms, pos, x.config.K1, x.config.B)
	}

	top := topK(scores, q.K)
	hits := make([]Hit, len(top))
	for i, r := range top {
		hits[i] = Hit{Position: int64(r.pos), Document: s.docs.at(int64(r.pos)), Score: r.score}
	}
	return hits, nil
}

type scoredPos struct {
	pos   int
	score float64
}

// ranksBefore orders by descending score, then ascending position.
func (a scoredPos) ranksBefore(b scoredPos) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.pos < b.pos
}

// resultHeap keeps the k best results with the worst at the root.
type resultHeap []scoredPos

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[j].ranksBefore(h[i]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x interface{}) {
	*h = append(*h, x.(scoredPos))
}

func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func topK(scores []float64, k int) []scoredPos {
	if k > len(scores) {
		k = len(scores)
	}
	h := make(resultHeap, 0, k)
	for pos, score := range scores {
		r := scoredPos{pos: pos, score: score}
		if h.Len() < k {
			heap.Push(&h, r)
			continue
		}
		if r.ranksBefore(h[0]) {
			h[0] = r
			heap.Fix(&h, 0)
		}
	}
	out := make([]scoredPos, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(scoredPos)
	}
	return out
}

func (x *BM25) PositionOf(id string) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.positionOf(id)
}

func (x *BM25) IDAt(pos int64) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.idAt(pos)
}

func (x *BM25) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docs.len()
}

// AvgDocLength returns the mean token count over the corpus.
func (x *BM25) AvgDocLength() float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.avgDocLength
}

// DocFreq returns the number of documents containing term.
func (x *BM25) DocFreq(term string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.docFreqs[term]
}

// IDF returns the smoothed inverse document frequency of term.
func (x *BM25) IDF(term string) (float64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	v, ok := x.state.idf[term]
	return v, ok
}

func (x *BM25) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		Name:           x.config.Name,
		IndexType:      BM25Index,
		NumDocuments:   x.state.docs.len(),
		K1:             x.config.K1,
		B:              x.config.B,
		Epsilon:        x.config.Epsilon,
		AvgDocLength:   x.state.avgDocLength,
		VocabularySize: len(x.state.docFreqs),
	}
}

func (x *BM25) Save() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return saveBM25State(x.dir, x.config, x.state)
}

func (x *BM25) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}
