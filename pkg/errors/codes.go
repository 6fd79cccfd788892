package errors

import (
	"context"
	"errors"
	"net/http"
)

// External error codes returned to clients.
const (
	CodeBadParameter       = "BAD_PARAMETER"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeIndexNotFound      = "INDEX_NOT_FOUND"
	CodeDocumentNotFound   = "DOCUMENT_NOT_FOUND"
	CodeEmptyContent       = "EMPTY_CONTENT"
	CodeMissingVector      = "MISSING_VECTOR"
	CodeDimensionMismatch  = "DIMENSION_MISMATCH"
	CodeMissingQuery       = "MISSING_QUERY"
	CodeMissingQueryText   = "MISSING_QUERY_TEXT"
	CodeQueryKindMismatch  = "QUERY_KIND_MISMATCH"
	CodeEmptyCorpus        = "EMPTY_CORPUS"
	CodeUnknownBackend     = "UNKNOWN_BACKEND"
	CodeMissingCredential  = "MISSING_CREDENTIAL"
	CodeUnexpectedResponse = "UNEXPECTED_RESPONSE"
	CodeRemoteUnavailable  = "REMOTE_UNAVAILABLE"
	CodePersistence        = "PERSISTENCE_FAILURE"
	CodeDeadlineExceeded   = "DEADLINE_EXCEEDED"
	CodeInternal           = "INTERNAL"
)

type kind struct {
	err    error
	code   string
	status int
}

// kinds is checked in order; the first sentinel matched by errors.Is wins.
var kinds = []kind{
	{ErrBadParameter, CodeBadParameter, http.StatusBadRequest},
	{ErrIndexExists, CodeAlreadyExists, http.StatusConflict},
	{ErrIndexNotFound, CodeIndexNotFound, http.StatusNotFound},
	{ErrDocumentNotFound, CodeDocumentNotFound, http.StatusNotFound},
	{ErrEmptyContent, CodeEmptyContent, http.StatusBadRequest},
	{ErrMissingVector, CodeMissingVector, http.StatusBadRequest},
	{ErrDimensionMismatch, CodeDimensionMismatch, http.StatusBadRequest},
	{ErrMissingQuery, CodeMissingQuery, http.StatusBadRequest},
	{ErrMissingQueryText, CodeMissingQueryText, http.StatusBadRequest},
	{ErrQueryKindMismatch, CodeQueryKindMismatch, http.StatusBadRequest},
	{ErrEmptyCorpus, CodeEmptyCorpus, http.StatusBadRequest},
	{ErrUnknownBackend, CodeUnknownBackend, http.StatusBadRequest},
	{ErrMissingCredential, CodeMissingCredential, http.StatusBadRequest},
	{ErrUnexpectedResponse, CodeUnexpectedResponse, http.StatusBadGateway},
	{ErrTransientRemote, CodeRemoteUnavailable, http.StatusServiceUnavailable},
	{ErrPersistence, CodePersistence, http.StatusInternalServerError},
	{context.DeadlineExceeded, CodeDeadlineExceeded, http.StatusGatewayTimeout},
}

func lookup(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// Code returns the stable external code for err.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if k, ok := lookup(err); ok {
		return k.code
	}
	return CodeInternal
}

// HTTPStatus maps err to the status code the transport should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if k, ok := lookup(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientRemote)
}

// IsClientError reports whether err maps to a 4xx status.
func IsClientError(err error) bool {
	status := HTTPStatus(err)
	return status >= 400 && status < 500
}
