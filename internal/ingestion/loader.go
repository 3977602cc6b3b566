// Package ingestion turns the raw knowledge base on disk into chunks for the
// index: PDF filings are extracted page by page and split with a recursive
// character splitter, and Q&A JSON files contribute one chunk per item.
// Files that cannot be read are logged and skipped. An Enricher asks the
// chat model for report and question metadata ahead of a build, the Fetcher
// downloads listed sources into the data directories, and the loader merges
// what they leave on disk.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/finqa-go/internal/rag"
)

// Defaults for Config.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	maxWorkers          = 4
)

// Config holds the loader configuration.
type Config struct {
	// PDFDir holds *.pdf filings. Empty disables PDF loading.
	PDFDir string
	// QADir holds *.json Q&A arrays. Empty disables Q&A loading.
	QADir string

	// ChunkSize is the maximum chunk length in runes.
	ChunkSize int
	// ChunkOverlap is the overlap between consecutive chunks in runes.
	ChunkOverlap int

	// Workers bounds the files processed concurrently. Defaults to
	// min(4, NumCPU).
	Workers int
}

// Loader reads the knowledge base directories into chunks.
type Loader struct {
	cfg      Config
	splitter textsplitter.TextSplitter
	log      *slog.Logger
	extract  func(path string, maxPages int) (string, int, error)
}

// NewLoader returns a Loader with defaults applied to cfg.
func NewLoader(cfg Config, log *slog.Logger) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = min(DefaultChunkOverlap, cfg.ChunkSize/5)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = min(maxWorkers, runtime.NumCPU())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		cfg: cfg,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		log:     log,
		extract: extractPDFText,
	}
}

// LoadAll returns the PDF chunks followed by the Q&A chunks.
func (l *Loader) LoadAll(ctx context.Context) ([]rag.Chunk, error) {
	pdfs, err := l.LoadPDFs(ctx)
	if err != nil {
		return nil, err
	}
	qa, err := l.LoadQA(ctx)
	if err != nil {
		return nil, err
	}
	l.log.Info("ingestion: knowledge base loaded",
		slog.Int("pdf_chunks", len(pdfs)),
		slog.Int("qa_chunks", len(qa)),
	)
	return append(pdfs, qa...), nil
}

// LoadPDFs extracts and chunks every *.pdf in PDFDir. Each chunk carries
// metadata {source, type: pdf, page_count} plus date when the file name
// encodes a period. Fields cached by Enricher.EnrichPDFs are added without
// replacing any of these; a cached report year supplies a missing date.
func (l *Loader) LoadPDFs(ctx context.Context) ([]rag.Chunk, error) {
	if l.cfg.PDFDir == "" {
		return nil, nil
	}
	reports, err := LoadReportMetadata(l.cfg.PDFDir)
	if err != nil {
		l.log.Warn("ingestion: ignoring unreadable report metadata", slog.Any("error", err))
		reports = nil
	}
	return l.loadDir(ctx, l.cfg.PDFDir, ".pdf", func(path string) ([]rag.Chunk, error) {
		return l.processPDF(path, reports)
	})
}

// LoadQA reads every *.json array of {question, answer, id} in QADir into
// one "Q: ...\nA: ..." chunk per item with metadata {source, type: qa,
// question_id}. Items matched in the file's enhanced copy also carry
// category and quality.
func (l *Loader) LoadQA(ctx context.Context) ([]rag.Chunk, error) {
	return l.loadDir(ctx, l.cfg.QADir, ".json", l.processQA)
}

// loadDir processes the files of dir with ext in name order, at most
// cfg.Workers at a time. Per-file failures are logged and skipped; only
// cancellation aborts the load.
func (l *Loader) loadDir(ctx context.Context, dir, ext string, process func(path string) ([]rag.Chunk, error)) ([]rag.Chunk, error) {
	if dir == "" {
		return nil, nil
	}
	files, err := listFiles(dir, ext)
	if errors.Is(err, fs.ErrNotExist) {
		l.log.Warn("ingestion: data directory does not exist, skipping", slog.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion: listing %s: %w", dir, err)
	}

	perFile := make([][]rag.Chunk, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := process(path)
			if err != nil {
				l.log.Warn("ingestion: skipping unreadable file",
					slog.String("file", path),
					slog.Any("error", err),
				)
				return nil
			}
			perFile[i] = chunks
			l.log.Debug("ingestion: file processed", slog.String("file", path), slog.Int("chunks", len(chunks)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingestion: loading %s: %w", dir, err)
	}

	var out []rag.Chunk
	for _, c := range perFile {
		out = append(out, c...)
	}
	return out, nil
}

func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

func (l *Loader) processPDF(path string, reports map[string]ReportMetadata) ([]rag.Chunk, error) {
	text, pages, err := l.extract(path, 0)
	if err != nil {
		return nil, err
	}
	parts, err := l.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting: %w", err)
	}

	name := filepath.Base(path)
	date := InferDate(name)
	report, enriched := reports[name]
	if date == "" && enriched {
		date = InferDate(string(report.ReportYear))
	}
	chunks := make([]rag.Chunk, 0, len(parts))
	for _, p := range parts {
		meta := rag.Metadata{
			"source":     name,
			"type":       TypePDF,
			"page_count": pages,
		}
		if date != "" {
			meta["date"] = date
		}
		if enriched {
			mergeAbsent(meta, report.Fields())
		}
		chunks = append(chunks, rag.Chunk{Content: p, Metadata: meta})
	}
	return chunks, nil
}

// extractPDFText returns the plain text of the first maxPages pages (all
// when maxPages <= 0) joined by newlines, and the total page count. The pdf
// package panics on some malformed files; the panic is converted to an
// error.
func extractPDFText(path string, maxPages int) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	pages = r.NumPage()
	last := pages
	if maxPages > 0 {
		last = min(pages, maxPages)
	}
	texts := make([]string, 0, last)
	for i := 1; i <= last; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		t, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		texts = append(texts, t)
	}
	return strings.Join(texts, "\n"), pages, nil
}

type qaItem struct {
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	ID       json.RawMessage `json:"id"`
}

func readQAFile(path string) ([]qaItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []qaItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	return items, nil
}

func (l *Loader) processQA(path string) ([]rag.Chunk, error) {
	items, err := readQAFile(path)
	if err != nil {
		return nil, err
	}
	enhanced, err := loadEnhancedQA(path)
	if err != nil {
		l.log.Warn("ingestion: ignoring unreadable enhanced q&a",
			slog.String("file", EnhancedQAPath(path)),
			slog.Any("error", err),
		)
	}

	name := filepath.Base(path)
	date := InferDate(name)
	chunks := make([]rag.Chunk, 0, len(items))
	for _, it := range items {
		meta := rag.Metadata{
			"source":      name,
			"type":        TypeQA,
			"question_id": questionID(it.ID),
		}
		if date != "" {
			meta["date"] = date
		}
		if e, ok := enhanced[CleanText(it.Question)]; ok {
			meta["category"] = e.Category
			meta["quality"] = e.Quality
		}
		chunks = append(chunks, rag.Chunk{
			Content:  fmt.Sprintf("Q: %s\nA: %s", it.Question, it.Answer),
			Metadata: meta,
		})
	}
	return chunks, nil
}

// mergeAbsent copies fields into meta without replacing existing keys.
func mergeAbsent(meta rag.Metadata, fields map[string]any) {
	for k, v := range fields {
		if _, ok := meta[k]; !ok {
			meta[k] = v
		}
	}
}

// questionID renders a string or numeric id as text; missing ids are "".
func questionID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
