package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calreport/internal/log"
)

// Source is one calendar export: either a local file or a subscription URL.
type Source struct {
	// ID is used for output file names and logging.
	ID   string
	Name string
	// Path is a local file; it wins over URL when both are set.
	Path string
	URL  string
}

// Label returns a non-empty identifier for logs.
func (s Source) Label() string {
	switch {
	case s.ID != "":
		return s.ID
	case s.Name != "":
		return s.Name
	case s.Path != "":
		return filepath.Base(s.Path)
	default:
		return RedactURL(s.URL)
	}
}

// Payload is the raw content of one source.
type Payload struct {
	Source    Source
	Body      []byte
	FromCache bool // true if a cached body was reused (304 or fetch failure)
}

// cacheMeta holds HTTP validators for one URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Loader reads local exports and fetches remote ones with a disk cache
// keyed by URL, honoring ETag / Last-Modified.
type Loader struct {
	client   *http.Client
	cacheDir string
}

// NewLoader creates a Loader caching remote bodies under cacheDir.
func NewLoader(cacheDir string) *Loader {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Loader{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// Load returns the content of a single source.
func (l *Loader) Load(ctx context.Context, src Source) (Payload, error) {
	switch {
	case src.Path != "":
		body, err := os.ReadFile(src.Path)
		if err != nil {
			return Payload{}, err
		}
		appLog.Debug("source read", "source", src.Label(), "bytes", len(body))
		return Payload{Source: src, Body: body}, nil
	case src.URL != "":
		return l.fetch(ctx, src)
	default:
		return Payload{}, errors.New("source has neither path nor url")
	}
}

func (l *Loader) fetch(ctx context.Context, src Source) (Payload, error) {
	target := normalizeURL(src.URL)

	cachePath := l.cachePathForURL(target)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Payload{}, err
	}

	meta, _ := loadMeta(cachePath)
	cached, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Payload{}, err
	}
	if meta.URL == target {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("source fetch start", "source", src.Label(), "url", RedactURL(target))

	resp, err := l.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("source fetch failed, using cached body", err, "source", src.Label())
			return Payload{Source: src, Body: cached, FromCache: true}, nil
		}
		return Payload{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Payload{}, err
		}
		newMeta := cacheMeta{
			URL:          target,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("source cache save failed", err, "source", src.Label())
		}
		appLog.Info("source fetch success", "source", src.Label(), "bytes", len(body))
		return Payload{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Payload{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("source not modified; using cache", "source", src.Label())
		return Payload{Source: src, Body: cached, FromCache: true}, nil

	default:
		if len(cached) > 0 {
			appLog.Error("source fetch non-OK, using cached body", errors.New(resp.Status), "source", src.Label(), "status", resp.StatusCode)
			return Payload{Source: src, Body: cached, FromCache: true}, nil
		}
		return Payload{}, errors.New(resp.Status)
	}
}

func (l *Loader) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(l.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(cachePath string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheMeta, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// normalizeURL maps webcal:// subscriptions onto https://.
func normalizeURL(u string) string {
	if rest, ok := strings.CutPrefix(u, "webcal://"); ok {
		return "https://" + rest
	}
	return u
}

// RedactURL keeps scheme and host only; export URLs often embed tokens.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
