// Package app собирает зависимости импорта из конфигурации: хранилище, файлы, аудит, метрики.
package app

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/avangerus/kalita-import/internal/blob"
	"github.com/avangerus/kalita-import/internal/config"
	"github.com/avangerus/kalita-import/internal/dsl"
	"github.com/avangerus/kalita-import/internal/importer"
	"github.com/avangerus/kalita-import/internal/pg"
	"github.com/avangerus/kalita-import/internal/profile"
	"github.com/avangerus/kalita-import/internal/store"
)

// App: собранное окружение. Close освобождает БД и журнал аудита.
type App struct {
	Config   config.Config
	Log      *logrus.Logger
	Runner   importer.Runner
	Blobs    blob.Store
	Registry *prometheus.Registry

	closers []io.Closer
}

// NewLogger настраивает logrus по уровню и формату из конфигурации.
func NewLogger(cfg config.Config, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	log.SetLevel(lvl)
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown log format %q (allowed: text|json)", cfg.LogFormat)
	}
	return log, nil
}

// Load: загрузчик схем и профилей; пустые пути берутся из конфигурации.
func Load(cfg config.Config) func(dslRoot, profilesRoot string) (dsl.Catalog, profile.Set, error) {
	return func(dslRoot, profilesRoot string) (dsl.Catalog, profile.Set, error) {
		if dslRoot == "" {
			dslRoot = cfg.DSLDir
		}
		if profilesRoot == "" {
			profilesRoot = cfg.ProfilesDir
		}
		cat, err := dsl.LoadCatalog(dslRoot)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "load dsl from %s", dslRoot)
		}
		profiles, err := profile.LoadDir(profilesRoot)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "load profiles from %s", profilesRoot)
		}
		return cat, profiles, nil
	}
}

// New собирает App. Схемы должны пройти линтер.
func New(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cat, profiles, err := Load(cfg)("", "")
	if err != nil {
		return nil, err
	}
	if issues := cat.Lint(); len(issues) > 0 {
		for _, is := range issues {
			log.WithFields(logrus.Fields{"entity": is.Entity, "field": is.Field, "code": is.Code}).Error(is.Message)
		}
		return nil, errors.Errorf("schema has %d blocking issues", len(issues))
	}
	log.WithFields(logrus.Fields{"entities": len(cat), "profiles": len(profiles)}).Info("schemas loaded")

	repo, err := a.openRepo(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.Blobs, err = a.openBlobs(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var audit *importer.Audit
	if cfg.Import.Logging || profiles.AnyLogging() {
		if audit, err = importer.NewAudit(cfg.Import.LogDir); err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, audit)
	}

	idx := importer.NewPolymorphicIndex()
	idx.Build(cat)
	a.Runner = importer.Runner{
		Catalog:       cat,
		Repo:          repo,
		Profiles:      profiles,
		Index:         idx,
		Fetcher:       importer.NewFetcher(a.Blobs, cfg.Import.FetchTimeout, cfg.Import.FetchRetries, log),
		Hooks:         map[string]importer.PreSaveHook{},
		LineItemLimit: cfg.Import.LineItemLimit,
		Logging:       cfg.Import.Logging,
		Audit:         audit,
		Metrics:       importer.NewMetrics(a.Registry),
		Log:           log,
	}
	return a, nil
}

func (a *App) openRepo(ctx context.Context) (store.Repository, error) {
	if a.Config.DBURL == "" {
		a.Log.Info("storage: in-memory")
		return store.NewMemStore(), nil
	}
	db, err := pg.Open(ctx, a.Config.DBURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	st := pg.NewStore(db)
	if err := st.Migrate(ctx, a.Log); err != nil {
		return nil, err
	}
	a.Log.Info("storage: postgres")
	return st, nil
}

func (a *App) openBlobs(ctx context.Context) (blob.Store, error) {
	b := a.Config.Blob
	if strings.EqualFold(b.Driver, "s3") {
		return blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  b.S3Endpoint,
			Region:    b.S3Region,
			Bucket:    b.S3Bucket,
			Prefix:    b.S3Prefix,
			AccessKey: b.S3AccessKey,
			SecretKey: b.S3SecretKey,
		}, a.Log)
	}
	if err := os.MkdirAll(b.FilesRoot, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create files root %s", b.FilesRoot)
	}
	return blob.NewLocalStore(b.FilesRoot), nil
}

// Close закрывает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Log.WithError(err).Warn("close")
		}
	}
	a.closers = nil
}
