package errors

import "errors"

var (
	// Request errors
	ErrBadParameter = errors.New("bad parameter")

	// Index errors
	ErrIndexExists      = errors.New("index already exists")
	ErrIndexNotFound    = errors.New("index not found")
	ErrDocumentNotFound = errors.New("document not found")

	// Document validation errors
	ErrEmptyContent      = errors.New("document content is empty")
	ErrMissingVector     = errors.New("document vector is missing")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// Search errors
	ErrMissingQuery      = errors.New("either query_vector or query_text is required")
	ErrMissingQueryText  = errors.New("bm25 search requires query_text")
	ErrQueryKindMismatch = errors.New("vector query is not supported by this index")
	ErrEmptyCorpus       = errors.New("index has no documents")

	// Embedder errors
	ErrUnknownBackend     = errors.New("unknown embedding backend")
	ErrMissingCredential  = errors.New("missing embedding api credential")
	ErrUnexpectedResponse = errors.New("unexpected embedding api response")
	ErrTransientRemote    = errors.New("embedding api unavailable")

	// Storage errors
	ErrPersistence = errors.New("persistence failure")
)
