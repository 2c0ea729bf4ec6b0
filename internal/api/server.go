package api

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avangerus/kalita-import/internal/blob"
	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/importer"
	"github.com/avangerus/kalita-import/internal/profile"
	"github.com/avangerus/kalita-import/internal/store"
)

// Loader читает схемы и профили импорта; пустые пути берутся из конфигурации.
type Loader func(dslRoot, profilesRoot string) (dsl.Catalog, profile.Set, error)

// Server: состояние HTTP-слоя. Каталог и профили подменяются целиком при перезагрузке.
type Server struct {
	mu     sync.RWMutex
	runner *importer.Runner

	base     importer.Runner // шаблон: всё, кроме каталога и профилей
	Repo     store.Repository
	Blobs    blob.Store
	Load     Loader
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
}

// NewServer принимает настроенный Runner (хранилище, индекс, загрузчик файлов, хуки, аудит).
func NewServer(base importer.Runner, blobs blob.Store, load Loader, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	if base.Index == nil {
		base.Index = importer.NewPolymorphicIndex()
	}
	base.Index.Build(base.Catalog)
	s := &Server{
		base:     base,
		Repo:     base.Repo,
		Blobs:    blobs,
		Load:     load,
		Gatherer: gatherer,
		Log:      log,
	}
	r := base
	s.runner = &r
	return s
}

// current: снимок текущего Runner (каталог + профили).
func (s *Server) current() *importer.Runner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runner
}

func (s *Server) catalog() dsl.Catalog { return s.current().Catalog }

// swap ставит новый каталог и профили и пересобирает полиморфный индекс.
func (s *Server) swap(cat dsl.Catalog, profiles profile.Set) {
	next := s.base
	next.Catalog = cat
	next.Profiles = profiles
	s.mu.Lock()
	s.runner = &next
	next.Index.Rebuild(cat)
	s.mu.Unlock()
}

// resolveEntity: FQN по параметрам :module/:entity.
func (s *Server) resolveEntity(module, entity string) (string, *dsl.Entity, bool) {
	cat := s.catalog()
	fqn, ok := cat.NormalizeEntityName(module, entity)
	if !ok {
		return "", nil, false
	}
	return fqn, cat[fqn], true
}
