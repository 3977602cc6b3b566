package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Source kinds in a fetch manifest.
const (
	KindPDF = "pdf"
	KindQA  = "qa"
)

// Defaults for FetchConfig.
const (
	DefaultFetchTimeout  = 60 * time.Second
	DefaultFetchMaxBytes = 200 << 20
	DefaultUserAgent     = "finqa-go/1.0 (knowledge base fetch)"
	defaultFetchWorkers  = 2
)

// Source is one document to download.
type Source struct {
	// URL is the HTTP(S) location of the document.
	URL string `yaml:"url"`

	// Kind is "pdf" for filings or "qa" for Q&A JSON arrays.
	Kind string `yaml:"kind"`

	// Name is the file name to store under. Defaults to the last URL path
	// segment, with the kind's extension added when missing.
	Name string `yaml:"name,omitempty"`
}

// Manifest lists the sources `finqa index fetch` downloads.
type Manifest struct {
	Sources []Source `yaml:"sources"`
}

// LoadManifest reads and validates a YAML fetch manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ingestion: parsing manifest %s: %w", path, err)
	}
	for i, s := range m.Sources {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("ingestion: manifest %s: source %d: %w", path, i, err)
		}
	}
	return &m, nil
}

func (s Source) validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", s.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", s.URL)
	}
	if s.Kind != KindPDF && s.Kind != KindQA {
		return fmt.Errorf("kind %q: want %q or %q", s.Kind, KindPDF, KindQA)
	}
	if s.Name != "" && (s.Name != filepath.Base(s.Name) || s.Name == "." || s.Name == "..") {
		return fmt.Errorf("name %q must be a plain file name", s.Name)
	}
	return nil
}

// fileName is the name the source is stored under.
func (s Source) fileName() string {
	name := s.Name
	if name == "" {
		if u, err := url.Parse(s.URL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	ext := ".pdf"
	if s.Kind == KindQA {
		ext = ".json"
	}
	if !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}
	return name
}

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	// PDFDir and QADir receive pdf and qa sources.
	PDFDir string
	QADir  string

	// Timeout bounds each download. Defaults to 60s.
	Timeout time.Duration

	// MaxBytes caps a single document. Defaults to 200 MiB.
	MaxBytes int64

	// UserAgent is sent with every request.
	UserAgent string

	// Workers bounds concurrent downloads. Defaults to 2.
	Workers int
}

// FetchStats counts the outcome of a Fetch.
type FetchStats struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Fetcher downloads manifest sources into the knowledge base directories.
// Files already present are never downloaded again.
type Fetcher struct {
	cfg        FetchConfig
	httpClient *http.Client
	log        *slog.Logger
}

// NewFetcher returns a Fetcher with defaults applied to cfg.
func NewFetcher(cfg FetchConfig, log *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultFetchMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultFetchWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type fetchOutcome int

const (
	fetchFailed fetchOutcome = iota
	fetchDownloaded
	fetchSkipped
)

// Fetch downloads sources. A source that fails is logged and counted;
// only cancellation aborts the run.
func (f *Fetcher) Fetch(ctx context.Context, sources []Source) (FetchStats, error) {
	outcomes := make([]fetchOutcome, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := f.fetchOne(gctx, src)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.log.Warn("fetch: download failed", slog.String("url", src.URL), slog.Any("error", err))
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FetchStats{}, fmt.Errorf("ingestion: fetch: %w", err)
	}

	var stats FetchStats
	for _, o := range outcomes {
		switch o {
		case fetchDownloaded:
			stats.Downloaded++
		case fetchSkipped:
			stats.Skipped++
		default:
			stats.Failed++
		}
	}
	return stats, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) (fetchOutcome, error) {
	if err := src.validate(); err != nil {
		return fetchFailed, err
	}
	dir := f.cfg.PDFDir
	if src.Kind == KindQA {
		dir = f.cfg.QADir
	}
	if dir == "" {
		return fetchFailed, fmt.Errorf("no directory configured for %s sources", src.Kind)
	}
	dest := filepath.Join(dir, src.fileName())
	if _, err := os.Stat(dest); err == nil {
		f.log.Debug("fetch: already present", slog.String("file", dest))
		return fetchSkipped, nil
	}

	body, err := f.get(ctx, src.URL)
	if err != nil {
		return fetchFailed, err
	}
	if err := checkBody(src.Kind, body); err != nil {
		return fetchFailed, err
	}
	if err := writeFileAtomic(dest, body); err != nil {
		return fetchFailed, fmt.Errorf("writing %s: %w", dest, err)
	}
	f.log.Info("fetch: downloaded", slog.String("file", dest), slog.Int("bytes", len(body)))
	return fetchDownloaded, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", f.cfg.MaxBytes)
	}
	return body, nil
}

var errBadContent = errors.New("unexpected content")

// checkBody rejects a download that the loader could not use.
func checkBody(kind string, body []byte) error {
	switch kind {
	case KindPDF:
		if !bytes.HasPrefix(body, []byte("%PDF-")) {
			return fmt.Errorf("%w: not a PDF", errBadContent)
		}
	case KindQA:
		var items []qaItem
		if err := json.Unmarshal(body, &items); err != nil {
			return fmt.Errorf("%w: not a Q&A array: %v", errBadContent, err)
		}
	}
	return nil
}
