package db

import (
	"docindex/internal/embedding"
	"docindex/internal/index"
)

// Health summarises the service state.
type Health struct {
	Status    string                 `json:"status"`
	Indexes   []index.Stats          `json:"indexes"`
	Embedders []embedding.HandleInfo `json:"embedders"`
	Config    map[string]any         `json:"config"`
}

func (db *DB) Health() *Health {
	return &Health{
		Status:    "healthy",
		Indexes:   db.ListIndexes(),
		Embedders: db.Embedders.Loaded(),
		Config:    db.conf.Snapshot(),
	}
}
