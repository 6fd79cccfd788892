package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	DB "docindex/internal/db"
	pkgerrors "docindex/pkg/errors"
)

const defaultListLimit = 100

// fail answers with the status and code of err's kind.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(pkgerrors.HTTPStatus(err), errorResponse{
		Error: errorBody{Code: pkgerrors.Code(err), Message: err.Error()},
	})
}

func badRequest(c *gin.Context, err error) {
	fail(c, fmt.Errorf("%w: %v", pkgerrors.ErrBadParameter, err))
}

func (s *Server) handleHealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Success: true, Health: s.db.Health()})
	}
}

func (s *Server) handleCreateIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateIndexRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		cfg, err := s.db.CreateIndex(c.Request.Context(), &DB.CreateIndexOptions{
			Name:             req.Name,
			IndexType:        req.IndexType,
			DistanceMetric:   req.DistanceMetric,
			Dimension:        req.Dimension,
			NList:            req.NList,
			NProbe:           req.NProbe,
			K1:               req.K1,
			B:                req.B,
			Epsilon:          req.Epsilon,
			EmbeddingModel:   req.EmbeddingModel,
			EmbeddingBackend: req.EmbeddingBackend,
		})
		if err != nil {
			fail(c, err)
			return
		}

		c.JSON(http.StatusCreated, CreateIndexResponse{Success: true, Name: cfg.Name, Index: cfg})
	}
}

func (s *Server) handleListIndexes() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ListIndexesResponse{Success: true, Indexes: s.db.ListIndexes()})
	}
}

func (s *Server) handleDeleteIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := s.db.DeleteIndex(name); err != nil {
			fail(c, err)
			return
		}

		c.JSON(http.StatusOK, MessageResponse{Success: true, Message: fmt.Sprintf("index %q deleted", name)})
	}
}

func (s *Server) handleAddDocuments() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AddDocumentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		res, err := s.db.AddDocuments(c.Request.Context(), c.Param("name"), req.Documents)
		if err != nil {
			fail(c, err)
			return
		}

		c.JSON(http.StatusOK, AddDocumentsResponse{Success: true, Count: res.Count, IDs: res.IDs})
	}
}

func (s *Server) handleGetDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := s.db.GetDocument(c.Param("name"), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}

		c.JSON(http.StatusOK, GetDocumentResponse{Success: true, Document: doc})
	}
}

func (s *Server) handleListDocuments() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit", defaultListLimit)
		if err != nil {
			badRequest(c, err)
			return
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			badRequest(c, err)
			return
		}

		page, err := s.db.ListDocuments(c.Param("name"), limit, offset)
		if err != nil {
			fail(c, err)
			return
		}

		c.JSON(http.StatusOK, ListDocumentsResponse{Success: true, DocumentPage: page})
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		resp, err := s.db.Search(c.Request.Context(), &DB.SearchOptions{
			IndexName:   req.IndexName,
			QueryVector: req.QueryVector,
			QueryText:   req.QueryText,
			K:           req.K,
			NProbe:      req.NProbe,
		})
		if err != nil {
			fail(c, err)
			return
		}

		c.JSON(http.StatusOK, SearchResponse{Success: true, Results: resp.Results, QueryTimeMs: resp.QueryTimeMs})
	}
}

func (s *Server) handleGetEmbeddings() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmbeddingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		res, err := s.db.GetEmbeddings(c.Request.Context(), req.Texts, req.Model, req.Backend)
		if err != nil {
			fail(c, err)
			return
		}

		c.JSON(http.StatusOK, EmbeddingsResponse{
			Success:    true,
			Embeddings: res.Embeddings,
			Dimension:  res.Dimension,
			Model:      res.Model,
			Backend:    res.Backend,
		})
	}
}
