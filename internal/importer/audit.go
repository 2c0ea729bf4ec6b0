package importer

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const uploadCopyLayout = "2006-01-02-15-04-05"

// Audit ведёт журнал загрузок: копия каждого файла и строка на каждый исход.
type Audit struct {
	dir    string
	log    *logrus.Logger
	closer io.Closer
}

// NewAudit пишет в <dir>/import.log с ротацией.
func NewAudit(dir string) (*Audit, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create audit dir %s", dir)
	}
	out := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "import.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // дней
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return &Audit{dir: dir, log: log, closer: out}, nil
}

// SaveUpload сохраняет копию загрузки как <dir>/2006-01-02-15-04-05-import.csv.
func (a *Audit) SaveUpload(at time.Time, data []byte) (string, error) {
	name := filepath.Join(a.dir, at.Format(uploadCopyLayout)+"-import.csv")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", errors.Wrap(err, "save upload copy")
	}
	return name, nil
}

func (a *Audit) Row(entity string, res RowResult) {
	fields := logrus.Fields{
		"entity": entity,
		"line":   res.Line,
		"verb":   res.Outcome.String(),
		"label":  res.Label,
	}
	if len(res.Errors) > 0 {
		fields["errors"] = joinMessages(res.Errors)
		a.log.WithFields(fields).Warn(res.Message())
		return
	}
	a.log.WithFields(fields).Info(res.Message())
}

// Abort: загрузка прервана целиком.
func (a *Audit) Abort(entity string, err *BatchAbortError) {
	a.log.WithFields(logrus.Fields{"entity": entity, "verb": "aborted"}).Error(err.Message)
}

func (a *Audit) Close() error { return a.closer.Close() }
