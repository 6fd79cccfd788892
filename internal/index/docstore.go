package index

import (
	"fmt"
	"maps"

	pkgerrors "docindex/pkg/errors"
)

// docStore holds the documents of one index together with the id/position
// bijection. Documents are treated as immutable once stored.
type docStore struct {
	docs    map[string]*Document
	order   []string // ids in first-insertion order
	idToPos map[string]int64
	posToID []string
	nextPos int64
}

func newDocStore() *docStore {
	return &docStore{
		docs:    make(map[string]*Document),
		idToPos: make(map[string]int64),
	}
}

func (s *docStore) clone() *docStore {
	return &docStore{
		docs:    maps.Clone(s.docs),
		order:   append([]string(nil), s.order...),
		idToPos: maps.Clone(s.idToPos),
		posToID: append([]string(nil), s.posToID...),
		nextPos: s.nextPos,
	}
}

func (s *docStore) len() int {
	return len(s.docs)
}

// put stores doc and reports whether its id was new.
func (s *docStore) put(doc *Document) bool {
	_, exists := s.docs[doc.ID]
	s.docs[doc.ID] = doc
	if !exists {
		s.order = append(s.order, doc.ID)
	}
	return !exists
}

// assign gives id the next position. Positions are never reused.
func (s *docStore) assign(id string) int64 {
	pos := s.nextPos
	s.nextPos++
	s.idToPos[id] = pos
	s.posToID = append(s.posToID, id)
	return pos
}

// reassign replaces the bijection with ids mapped to 0..len(ids)-1.
func (s *docStore) reassign(ids []string) {
	s.idToPos = make(map[string]int64, len(ids))
	s.posToID = make([]string, len(ids))
	for i, id := range ids {
		s.idToPos[id] = int64(i)
		s.posToID[i] = id
	}
	s.nextPos = int64(len(ids))
}

func (s *docStore) get(id string) (*Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (s *docStore) positionOf(id string) (int64, bool) {
	pos, ok := s.idToPos[id]
	return pos, ok
}

func (s *docStore) idAt(pos int64) (string, bool) {
	if pos < 0 || pos >= int64(len(s.posToID)) {
		return "", false
	}
	return s.posToID[pos], true
}

func (s *docStore) at(pos int64) *Document {
	id, ok := s.idAt(pos)
	if !ok {
		return nil
	}
	return s.docs[id]
}

func (s *docStore) list(offset, limit int) ([]*Document, int) {
	total := len(s.order)
	if offset >= total {
		return []*Document{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Document, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, s.docs[id])
	}
	return out, total
}

// check verifies the bijection invariants after a load.
func (s *docStore) check() error {
	if len(s.docs) != len(s.idToPos) || len(s.docs) != len(s.posToID) || len(s.docs) != len(s.order) {
		return fmt.Errorf("%w: document store has %d documents, %d positions, %d ids",
			pkgerrors.ErrPersistence, len(s.docs), len(s.idToPos), len(s.posToID))
	}
	for pos, id := range s.posToID {
		if p, ok := s.idToPos[id]; !ok || p != int64(pos) {
			return fmt.Errorf("%w: position %d does not map back to %q", pkgerrors.ErrPersistence, pos, id)
		}
		if _, ok := s.docs[id]; !ok {
			return fmt.Errorf("%w: position %d references missing document %q", pkgerrors.ErrPersistence, pos, id)
		}
	}
	return nil
}

func copyDocument(d *Document) *Document {
	out := *d
	if d.Vector != nil {
		out.Vector = append([]float32(nil), d.Vector...)
	}
	if d.Metadata != nil {
		out.Metadata = maps.Clone(d.Metadata)
	}
	return &out
}
