package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DSLDir      string `env:"DSL_DIR" envDefault:"dsl"`
	ProfilesDir string `env:"PROFILES_DIR" envDefault:"profiles"`
	DBURL       string `env:"DB_URL"` // пусто = in-memory
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"` // text | json

	Blob   BlobOptions   `envPrefix:"BLOB_"`
	Import ImportOptions `envPrefix:"IMPORT_"`
}

// BlobOptions: файлы (локально или S3/MinIO).
type BlobOptions struct {
	Driver    string `env:"DRIVER" envDefault:"local"` // local | s3
	FilesRoot string `env:"FILES_ROOT" envDefault:"uploads"`

	S3Region    string `env:"S3_REGION"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX"`
	S3Endpoint  string `env:"S3_ENDPOINT"` // опционально (MinIO/кастом)
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
}

// ImportOptions: глобальные настройки импорта; профиль сущности может переопределить лимит.
type ImportOptions struct {
	LineItemLimit int           `env:"LINE_ITEM_LIMIT" envDefault:"1000"`
	Logging       bool          `env:"LOGGING" envDefault:"false"`
	LogDir        string        `env:"LOG_DIR" envDefault:"log/import"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"15s"`
	FetchRetries  int           `env:"FETCH_RETRIES" envDefault:"2"`
}

// DefaultEnvFiles: локальный файл перекрывает общий.
var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadEnv подхватывает существующие из envFiles: каждый следующий файл перекрывает
// предыдущие, а переменные, заданные в окружении процесса, не трогаются.
func LoadEnv(envFiles []string) (int, error) {
	preset := map[string]bool{}
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		preset[k] = true
	}

	merged := map[string]string{}
	n := 0
	for _, f := range envFiles {
		if st, err := os.Stat(f); err != nil || st.IsDir() {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			return n, errors.Wrapf(err, "read env file %s", f)
		}
		for k, v := range vals {
			merged[k] = v
		}
		n++
	}
	for k, v := range merged {
		if preset[k] {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return n, errors.Wrapf(err, "set %s", k)
		}
	}
	return n, nil
}

// Load: .env-файлы, затем переменные KALITA_*. Флаги команд применяются поверх в cmd/.
func Load(envFiles ...string) (Config, error) {
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "KALITA_"}); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Blob.Driver) {
	case "local", "s3":
	default:
		return errors.Errorf("unknown blob driver %q (allowed: local|s3)", c.Blob.Driver)
	}
	if strings.EqualFold(c.Blob.Driver, "s3") && c.Blob.S3Bucket == "" {
		return errors.New("KALITA_BLOB_S3_BUCKET is required when blob driver is s3")
	}
	if c.Import.LineItemLimit <= 0 {
		return errors.Errorf("import line item limit must be positive, got %d", c.Import.LineItemLimit)
	}
	if c.Import.FetchRetries < 0 {
		return errors.Errorf("import fetch retries must be non-negative, got %d", c.Import.FetchRetries)
	}
	return nil
}
