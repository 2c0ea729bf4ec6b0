package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type reloadReq struct {
	DSLRoot      string `json:"dsl_root"`      // директория с *.dsl
	ProfilesRoot string `json:"profiles_root"` // директория с профилями импорта
}

// POST /admin/_reload: перечитать схемы и профили, пересобрать полиморфный индекс.
func AdminReloadHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reloadReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
				return
			}
		}
		if s.Load == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "reload is not configured"})
			return
		}

		// 1) читаем новые схемы и профили
		cat, profiles, err := s.Load(strings.TrimSpace(req.DSLRoot), strings.TrimSpace(req.ProfilesRoot))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reload error", "details": err.Error()})
			return
		}

		// 2) линтер до подмены
		if issues := cat.Lint(); len(issues) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "schema has blocking issues",
				"issues": issues,
				"hint":   "fix DSL and retry",
			})
			return
		}

		// 3) атомарная замена
		s.swap(cat, profiles)
		s.Log.WithField("entities", len(cat)).Info("schemas reloaded")

		c.JSON(http.StatusOK, gin.H{
			"ok":       true,
			"entities": len(cat),
			"profiles": len(profiles),
		})
	}
}
