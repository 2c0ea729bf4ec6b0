package importer

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/avangerus/kalita-import/internal/blob"
)

var extRe = regexp.MustCompile(`^[a-z0-9]+$`)

// Attachment: скачанный и сохранённый файл.
type Attachment struct {
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	Mime       string `json:"mime"`
	Size       int64  `json:"size"`
	Hash       string `json:"hash"`
	Source     string `json:"source"`
}

// Value: представление вложения в поле типа file.
func (a Attachment) Value() map[string]any {
	return map[string]any{
		"storage_key": a.StorageKey,
		"file_name":   a.FileName,
		"mime":        a.Mime,
		"size":        float64(a.Size),
		"hash":        a.Hash,
		"source":      a.Source,
	}
}

// Fetcher скачивает файлы по URL из ячеек и кладёт их в blob-хранилище.
type Fetcher struct {
	client *resty.Client
	blobs  blob.Store
	log    logrus.FieldLogger
}

func NewFetcher(blobs blob.Store, timeout time.Duration, retries int, log logrus.FieldLogger) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &Fetcher{client: client, blobs: blobs, log: log}
}

// CleanURL убирает пробельные символы из ячейки.
func CleanURL(raw string) string {
	return strings.Join(strings.Fields(raw), "")
}

// URLExtension: расширение из последнего сегмента пути ("" если его нет).
func URLExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if !extRe.MatchString(ext) {
		return ""
	}
	return ext
}

// Fetch скачивает rawURL и сохраняет под keyBase.<ext>.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, keyBase string) (Attachment, error) {
	src := CleanURL(rawURL)
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Attachment{}, errors.Errorf("invalid url %q", src)
	}

	resp, err := f.client.R().SetContext(ctx).Get(src)
	if err != nil {
		return Attachment{}, errors.Wrapf(err, "fetch %s", src)
	}
	if resp.IsError() {
		return Attachment{}, errors.Errorf("fetch %s: status %d", src, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return Attachment{}, errors.Errorf("fetch %s: empty body", src)
	}

	mt := mimetype.Detect(body)
	ext := URLExtension(src)
	if ext == "" {
		ext = strings.TrimPrefix(mt.Extension(), ".")
	}
	key := keyBase
	if ext != "" {
		key += "." + ext
	}

	obj, err := f.blobs.Put(ctx, key, bytes.NewReader(body), mt.String())
	if err != nil {
		return Attachment{}, errors.Wrapf(err, "store %s", key)
	}
	f.log.WithFields(logrus.Fields{"url": src, "key": obj.Key, "size": obj.Size}).Debug("attachment fetched")

	return Attachment{
		StorageKey: obj.Key,
		FileName:   path.Base(obj.Key),
		Mime:       mt.String(),
		Size:       obj.Size,
		Hash:       obj.SHA256,
		Source:     src,
	}, nil
}
