package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/avangerus/kalita-import/internal/importer"
)

// POST /api/:module/:entity/_import
// multipart: file, update_if_exists, update_lookup и по полю на каждую ассоциацию.
func ImportHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := s.resolveEntity(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		runner := s.current()
		desc, err := runner.Describe(fqn)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		var up *importer.Upload
		if file, hdr, err := c.Request.FormFile("file"); err == nil {
			data, err := io.ReadAll(file)
			_ = file.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload", "details": err.Error()})
				return
			}
			up = &importer.Upload{Name: hdr.Filename, Data: data}
		}

		opts := importer.Options{
			Entity:         fqn,
			UpdateIfExists: formBool(c.PostForm("update_if_exists")),
			UpdateLookup:   strings.TrimSpace(c.PostForm("update_lookup")),
			Associations:   map[string]string{},
		}
		for _, name := range append(append([]string{}, desc.BelongsTo...), desc.Collection...) {
			fd, _ := desc.Lookup(name)
			for _, key := range []string{name, fd.Field.Name} {
				if v := strings.TrimSpace(c.PostForm(key)); v != "" {
					opts.Associations[name] = v
					break
				}
			}
		}

		report, err := runner.Run(c.Request.Context(), up, opts)
		var abortErr *importer.BatchAbortError
		switch {
		case err == nil:
			c.JSON(http.StatusOK, report)
		case errors.As(err, &abortErr):
			c.JSON(http.StatusUnprocessableEntity, report)
		default:
			c.JSON(http.StatusInternalServerError, report)
		}
	}
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes", "y":
		return true
	}
	b, _ := strconv.ParseBool(strings.TrimSpace(v))
	return b
}

type importFieldOut struct {
	Name        string   `json:"name"`
	Field       string   `json:"field"`
	Target      string   `json:"target,omitempty"`
	Polymorphic bool     `json:"polymorphic,omitempty"`
	Candidates  []string `json:"candidates,omitempty"` // типы-кандидаты полиморфной роли
	DefaultKey  string   `json:"default_key,omitempty"`
}

type importMetaOut struct {
	Entity        string           `json:"entity"`
	LabelField    string           `json:"label_field"`
	LineItemLimit int              `json:"line_item_limit"`
	Scalar        []string         `json:"scalar"`
	BelongsTo     []importFieldOut `json:"belongs_to"`
	Collection    []importFieldOut `json:"collection"`
	File          []string         `json:"file"`
	Excluded      []string         `json:"excluded,omitempty"`
}

// GET /api/meta/:module/:entity/_import: что можно загрузить и как настроить ассоциации.
func ImportMetaHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := s.resolveEntity(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		runner := s.current()
		desc, err := runner.Describe(fqn)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		prof := runner.Profiles.For(fqn)
		targets := runner.Index.Snapshot()

		assoc := func(names []string) []importFieldOut {
			out := make([]importFieldOut, 0, len(names))
			for _, name := range names {
				fd, _ := desc.Lookup(name)
				fo := importFieldOut{Name: name, Field: fd.Field.Name, DefaultKey: prof.Associations[fd.Field.Name]}
				if fd.Field.IsPolymorphic() {
					fo.Polymorphic = true
					fo.Candidates = targets.Targets(fd.Field.Name)
				} else if full, ok := runner.Catalog.ResolveFrom(desc.Entity, fd.Field.RefTarget); ok {
					fo.Target = full
				}
				out = append(out, fo)
			}
			return out
		}

		limit := runner.LineItemLimit
		if prof.LineItemLimit > 0 {
			limit = prof.LineItemLimit
		}
		c.JSON(http.StatusOK, importMetaOut{
			Entity:        fqn,
			LabelField:    desc.LabelField,
			LineItemLimit: limit,
			Scalar:        nonNil(desc.Scalar),
			BelongsTo:     assoc(desc.BelongsTo),
			Collection:    assoc(desc.Collection),
			File:          nonNil(desc.File),
			Excluded:      prof.ExcludedFields,
		})
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
