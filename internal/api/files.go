package api

import (
	"fmt"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/store"
)

// GET /api/:module/:entity/:id/_file/:field: файл, приложенный при импорте.
func DownloadFileHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, schema, ok := s.resolveEntity(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		field, ok := schema.Field(c.Param("field"))
		if !ok || !field.IsFile() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Field is not a file field"})
			return
		}
		if s.Blobs == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "blob store not configured"})
			return
		}

		ctx := c.Request.Context()
		rec, err := s.Repo.Get(ctx, fqn, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}

		meta, _ := rec.Data[field.Name].(map[string]any)
		// legacy: в поле id записи core.Attachment
		if attID, isID := rec.Data[field.Name].(string); isID && attID != "" {
			att, err := s.Repo.Get(ctx, dsl.AttachmentEntity, attID)
			if err == nil {
				meta = att.Data
			}
		}
		key := store.Stringify(meta["storage_key"])
		if key == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Attachment not found"})
			return
		}

		rc, err := s.Blobs.Open(ctx, key)
		if err != nil {
			s.Log.WithError(err).WithField("key", key).Warn("open attachment")
			c.JSON(http.StatusNotFound, gin.H{"error": "Attachment not found"})
			return
		}
		defer rc.Close()

		name := store.Stringify(meta["file_name"])
		if name == "" {
			name = path.Base(key)
		}
		mime := store.Stringify(meta["mime"])
		if mime == "" {
			mime = "application/octet-stream"
		}
		c.DataFromReader(http.StatusOK, -1, mime, rc, map[string]string{
			"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, name),
		})
	}
}
