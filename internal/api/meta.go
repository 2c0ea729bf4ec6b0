package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avangerus/kalita-import/internal/dsl"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Module string `json:"module"`
	Entity string `json:"entity"`
	Fields int    `json:"fields"`
}

func MetaListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat := s.catalog()
		out := make([]metaEntityListItem, 0, len(cat))
		for _, fqn := range cat.Names() {
			mod, ent := dsl.SplitFQN(fqn)
			out = append(out, metaEntityListItem{Module: mod, Entity: ent, Fields: len(cat[fqn].Fields)})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	ElemType string            `json:"elemType,omitempty"`
	Ref      string            `json:"ref,omitempty"`
	RefFQN   string            `json:"refFQN,omitempty"`
	Enum     []string          `json:"enum,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

type metaEntity struct {
	Module      string         `json:"module"`
	Entity      string         `json:"entity"`
	Fields      []metaField    `json:"fields"`
	Constraints map[string]any `json:"constraints,omitempty"` // {"unique":[["code"],["base","quote","date"]]}
}

func MetaEntityHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, schema, ok := s.resolveEntity(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		cat := s.catalog()

		fields := make([]metaField, 0, len(schema.Fields))
		for _, f := range schema.Fields {
			opts := map[string]string{}
			for k, v := range f.Options {
				opts[k] = v
			}
			mf := metaField{
				Name:     f.Name,
				Type:     strings.ToLower(f.Type),
				ElemType: f.ElemType,
				Enum:     append([]string(nil), f.Enum...),
				Options:  opts,
			}
			if f.RefTarget != "" {
				mf.Ref = f.RefTarget
				if full, ok := cat.ResolveFrom(schema, f.RefTarget); ok {
					mf.RefFQN = full
				}
			}
			fields = append(fields, mf)
		}

		var constraints map[string]any
		if len(schema.Constraints.Unique) > 0 {
			uniq := make([][]string, 0, len(schema.Constraints.Unique))
			for _, set := range schema.Constraints.Unique {
				uniq = append(uniq, append([]string(nil), set...))
			}
			constraints = map[string]any{"unique": uniq}
		}

		m, e := dsl.SplitFQN(fqn)
		c.JSON(http.StatusOK, metaEntity{
			Module:      m,
			Entity:      e,
			Fields:      fields,
			Constraints: constraints,
		})
	}
}
