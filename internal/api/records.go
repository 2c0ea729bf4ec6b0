package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/avangerus/kalita-import/internal/store"
)

// GET /api/:module/:entity
func ListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := s.resolveEntity(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		all, err := s.Repo.List(c.Request.Context(), fqn)
		if err != nil {
			s.Log.WithError(err).WithField("entity", fqn).Error("list records")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}

		lp := parseListParams(c.Request.URL.Query())
		filtered := all[:0]
		for _, rec := range all {
			if lp.Filters.Matches(rec) {
				filtered = append(filtered, rec)
			}
		}
		sortRecordsMultiNulls(filtered, lp.Sort, lp.Nulls)

		out := make([]map[string]any, 0, lp.Limit)
		for _, rec := range page(filtered, lp.Offset, lp.Limit) {
			out = append(out, store.Flatten(rec))
		}
		c.Header("X-Total-Count", strconv.Itoa(len(filtered)))
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/:module/:entity/:id
func GetOneHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := s.resolveEntity(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		rec, err := s.Repo.Get(c.Request.Context(), fqn, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		if err != nil {
			s.Log.WithError(err).WithField("entity", fqn).Error("get record")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}
		c.Header("ETag", fmt.Sprintf(`"%d"`, rec.Version))
		c.JSON(http.StatusOK, store.Flatten(rec))
	}
}
