package index

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring"

	pkgerrors "docindex/pkg/errors"
)

// File suffixes under the data directory.
const (
	indexSuffix = ".index"
	dataSuffix  = ".data"
	bm25Suffix  = ".bm25"
)

// denseData is the JSON document file of a dense index.
type denseData struct {
	Config       IndexConfig      `json:"config"`
	Documents    []*Document      `json:"documents"` // position order
	IDToPosition map[string]int64 `json:"id_to_position"`
	NextPosition int64            `json:"next_position"`
}

// annFile is the gob-encoded structural file of a dense index.
type annFile struct {
	IndexType IndexType
	Flat      *flatANN
	IVF       *ivfANN
	Zero      []byte
}

type storedDocument struct {
	ID       string
	Content  string
	Metadata []byte // JSON; gob cannot carry arbitrary interface values
}

// bm25File is the gob-encoded state of a BM25 index.
type bm25File struct {
	Config       IndexConfig
	Documents    []storedDocument // insertion order
	PosToID      []string
	DocTokens    [][]string
	DocLengths   []int
	AvgDocLength float64
	DocFreqs     map[string]int
	IDF          map[string]float64
	Postings     map[string][]byte
}

// isTempFile reports whether file is a leftover of writeFileAtomic.
func isTempFile(file string) bool {
	for _, suffix := range []string{indexSuffix, dataSuffix, bm25Suffix} {
		if strings.Contains(file, suffix+".tmp") {
			return true
		}
	}
	return false
}

func basePath(dir, name string) string {
	return filepath.Join(dir, name)
}

// writeFileAtomic writes through a temporary file renamed over path, so a
// single file is never left half written.
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func saveVectorState(dir string, config IndexConfig, s *vectorState) error {
	base := basePath(dir, config.Name)

	docs := make([]*Document, len(s.docs.posToID))
	for pos, id := range s.docs.posToID {
		docs[pos] = s.docs.docs[id]
	}
	data := denseData{
		Config:       config,
		Documents:    docs,
		IDToPosition: s.docs.idToPos,
		NextPosition: s.docs.nextPos,
	}

	zero, err := s.zero.ToBytes()
	if err != nil {
		return fmt.Errorf("%w: encode zero set: %v", pkgerrors.ErrPersistence, err)
	}
	file := annFile{IndexType: config.IndexType, Zero: zero}
	switch ann := s.ann.(type) {
	case *flatANN:
		file.Flat = ann
	case *ivfANN:
		file.IVF = ann
	}

	if err := writeFileAtomic(base+indexSuffix, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(&file)
	}); err != nil {
		return fmt.Errorf("%w: write %s: %v", pkgerrors.ErrPersistence, base+indexSuffix, err)
	}
	if err := writeFileAtomic(base+dataSuffix, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(&data)
	}); err != nil {
		return fmt.Errorf("%w: write %s: %v", pkgerrors.ErrPersistence, base+dataSuffix, err)
	}
	return nil
}

func loadVectorIndex(dir, name string) (*VectorIndex, error) {
	base := basePath(dir, name)

	raw, err := os.ReadFile(base + dataSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrPersistence, err)
	}
	var data denseData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", pkgerrors.ErrPersistence, base+dataSuffix, err)
	}
	if data.Config.Name != name || !data.Config.IndexType.dense() {
		return nil, fmt.Errorf("%w: %s does not describe dense index %q", pkgerrors.ErrPersistence, base+dataSuffix, name)
	}

	f, err := os.Open(base + indexSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrPersistence, err)
	}
	defer f.Close()
	var file annFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", pkgerrors.ErrPersistence, base+indexSuffix, err)
	}

	x := newVectorIndex(dir, data.Config)
	st := x.state
	switch {
	case data.Config.IndexType == FLATIndex && file.Flat != nil:
		st.ann = file.Flat
	case data.Config.IndexType == IVFFLATIndex && file.IVF != nil:
		st.ann = file.IVF
	default:
		return nil, fmt.Errorf("%w: %s holds no %s structure", pkgerrors.ErrPersistence, base+indexSuffix, data.Config.IndexType)
	}
	if len(file.Zero) > 0 {
		if err := st.zero.UnmarshalBinary(file.Zero); err != nil {
			return nil, fmt.Errorf("%w: decode zero set: %v", pkgerrors.ErrPersistence, err)
		}
	}

	for pos, doc := range data.Documents {
		if doc == nil || data.IDToPosition[doc.ID] != int64(pos) {
			return nil, fmt.Errorf("%w: document at position %d is inconsistent", pkgerrors.ErrPersistence, pos)
		}
		st.docs.put(doc)
		st.docs.assign(doc.ID)
	}
	st.docs.nextPos = data.NextPosition
	if err := st.docs.check(); err != nil {
		return nil, err
	}
	if st.ann.count() != st.docs.len() {
		return nil, fmt.Errorf("%w: %d vectors for %d documents", pkgerrors.ErrPersistence, st.ann.count(), st.docs.len())
	}
	return x, nil
}

func saveBM25State(dir string, config IndexConfig, s *bm25State) error {
	file := bm25File{
		Config:       config,
		Documents:    make([]storedDocument, 0, len(s.docs.order)),
		PosToID:      s.docs.posToID,
		DocTokens:    s.docTokens,
		DocLengths:   s.docLengths,
		AvgDocLength: s.avgDocLength,
		DocFreqs:     s.docFreqs,
		IDF:          s.idf,
		Postings:     make(map[string][]byte, len(s.postings)),
	}
	for _, id := range s.docs.order {
		doc := s.docs.docs[id]
		sd := storedDocument{ID: doc.ID, Content: doc.Content}
		if doc.Metadata != nil {
			meta, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("%w: encode metadata of %q: %v", pkgerrors.ErrPersistence, id, err)
			}
			sd.Metadata = meta
		}
		file.Documents = append(file.Documents, sd)
	}
	for term, p := range s.postings {
		b, err := p.ToBytes()
		if err != nil {
			return fmt.Errorf("%w: encode postings of %q: %v", pkgerrors.ErrPersistence, term, err)
		}
		file.Postings[term] = b
	}

	path := basePath(dir, config.Name) + bm25Suffix
	if err := writeFileAtomic(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(&file)
	}); err != nil {
		return fmt.Errorf("%w: write %s: %v", pkgerrors.ErrPersistence, path, err)
	}
	return nil
}

func loadBM25Index(dir, name string) (*BM25, error) {
	path := basePath(dir, name) + bm25Suffix
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrPersistence, err)
	}
	defer f.Close()

	var file bm25File
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", pkgerrors.ErrPersistence, path, err)
	}
	if file.Config.Name != name || file.Config.IndexType != BM25Index {
		return nil, fmt.Errorf("%w: %s does not describe bm25 index %q", pkgerrors.ErrPersistence, path, name)
	}

	x := newBM25Index(dir, file.Config)
	docs := newDocStore()
	for _, sd := range file.Documents {
		doc := &Document{ID: sd.ID, Content: sd.Content}
		if len(sd.Metadata) > 0 {
			if err := json.Unmarshal(sd.Metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("%w: decode metadata of %q: %v", pkgerrors.ErrPersistence, sd.ID, err)
			}
		}
		docs.put(doc)
	}
	docs.reassign(file.PosToID)
	if err := docs.check(); err != nil {
		return nil, err
	}

	n := docs.len()
	if len(file.DocTokens) != n || len(file.DocLengths) != n {
		return nil, fmt.Errorf("%w: %s has %d token lists for %d documents", pkgerrors.ErrPersistence, path, len(file.DocTokens), n)
	}
	st := &bm25State{
		docs:         docs,
		docTokens:    file.DocTokens,
		docLengths:   file.DocLengths,
		avgDocLength: file.AvgDocLength,
		docFreqs:     file.DocFreqs,
		idf:          file.IDF,
		postings:     make(map[string]*roaring.Bitmap, len(file.Postings)),
	}
	if st.docTokens == nil {
		st.docTokens = [][]string{}
		st.docLengths = []int{}
	}
	if st.docFreqs == nil {
		st.docFreqs = make(map[string]int)
	}
	if st.idf == nil {
		st.idf = make(map[string]float64)
	}
	for term, b := range file.Postings {
		p := roaring.New()
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("%w: decode postings of %q: %v", pkgerrors.ErrPersistence, term, err)
		}
		st.postings[term] = p
	}
	x.state = st
	return x, nil
}

// removeIndexFiles deletes every artifact of name, including an asset
// directory if one exists. Only paths derived from name are touched.
func removeIndexFiles(dir, name string) error {
	base := basePath(dir, name)
	var errs []error
	for _, suffix := range []string{indexSuffix, dataSuffix, bm25Suffix} {
		if err := os.Remove(base + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if info, err := os.Stat(base); err == nil && info.IsDir() {
		if err := os.RemoveAll(base); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrPersistence, err)
	}
	return nil
}
