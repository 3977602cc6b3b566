package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// On-disk layout of enrichment output. Report metadata for the filings in a
// PDF directory lives in one cache file keyed by file name; each Q&A file
// gets an enhanced copy under the enhanced subdirectory, which the loader
// never lists as a Q&A source.
const (
	ReportMetadataFile = "metadata.json"
	EnhancedQADir      = "enhanced"
	enhancedQAPrefix   = "enhanced_"
)

// Defaults for EnrichConfig.
const (
	DefaultEnrichPages       = 3
	DefaultEnrichChars       = 5000
	DefaultEnrichMaxTokens   = 8192
	DefaultEnrichTemperature = 0.3
)

// Quality labels for enhanced Q&A items.
const (
	QualityHigh = "high"
	QualityLow  = "low"
)

// minQuestionRunes is the shortest question rated QualityHigh.
const minQuestionRunes = 5

// QACategories are the topics a question may be filed under. The last one
// catches answers that name none of the others.
var QACategories = []string{
	"stock analysis",
	"financial reports",
	"investment strategy",
	"economic policy",
	"industry trends",
	"trading rules",
	"financial products",
	"risk management",
	"other",
}

// ReportMetadata is what the model extracts from the opening pages of a
// filing.
type ReportMetadata struct {
	CompanyName string     `json:"company_name"`
	StockCode   flexString `json:"stock_code"`
	ReportYear  flexString `json:"report_year"`
	ReportType  string     `json:"report_type"`
	KeyTopics   []string   `json:"key_topics"`
	Summary     string     `json:"summary"`
	FilePath    string     `json:"file_path,omitempty"`
}

// Fields returns the non-empty enrichment fields as chunk metadata.
func (r ReportMetadata) Fields() map[string]any {
	out := make(map[string]any, 6)
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	set("company_name", r.CompanyName)
	set("stock_code", string(r.StockCode))
	set("report_year", string(r.ReportYear))
	set("report_type", r.ReportType)
	set("summary", r.Summary)
	if len(r.KeyTopics) > 0 {
		out["key_topics"] = append([]string(nil), r.KeyTopics...)
	}
	return out
}

// flexString accepts a JSON string or number. Models are inconsistent
// about quoting codes and years.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("want string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// EnhancedQA is one cleaned and classified Q&A item.
type EnhancedQA struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
	Quality  string `json:"quality"`
	Source   string `json:"source"`
}

// EnrichConfig configures an Enricher.
type EnrichConfig struct {
	PDFDir string
	QADir  string

	// Pages and Chars bound the excerpt of each filing sent to the model.
	Pages int
	Chars int

	MaxTokens   int
	Temperature float32
}

// EnrichStats counts the files an enrichment run touched.
type EnrichStats struct {
	Enriched int `json:"enriched"`
	Cached   int `json:"cached"`
	Failed   int `json:"failed"`
}

// Enricher asks the chat model for structured metadata about the knowledge
// base files. Results are cached on disk and picked up by Loader on the
// next index build. Files are processed one at a time.
type Enricher struct {
	model   model.BaseChatModel
	cfg     EnrichConfig
	log     *slog.Logger
	extract func(path string, maxPages int) (string, int, error)
}

// NewEnricher returns an Enricher with defaults applied to cfg.
func NewEnricher(cm model.BaseChatModel, cfg EnrichConfig, log *slog.Logger) (*Enricher, error) {
	if cm == nil {
		return nil, fmt.Errorf("ingestion: chat model must not be nil")
	}
	if cfg.Pages <= 0 {
		cfg.Pages = DefaultEnrichPages
	}
	if cfg.Chars <= 0 {
		cfg.Chars = DefaultEnrichChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultEnrichMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultEnrichTemperature
	}
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{model: cm, cfg: cfg, log: log, extract: extractPDFText}, nil
}

// EnrichPDFs extracts report metadata for every filing in PDFDir that is
// not already in the cache. The cache is rewritten after each success, so
// an interrupted run keeps what it finished. A file the model cannot
// describe is counted as failed and retried on the next run.
func (e *Enricher) EnrichPDFs(ctx context.Context) (EnrichStats, error) {
	var stats EnrichStats
	if e.cfg.PDFDir == "" {
		return stats, nil
	}
	files, err := listFiles(e.cfg.PDFDir, ".pdf")
	if errors.Is(err, fs.ErrNotExist) {
		e.log.Warn("enrich: data directory does not exist, skipping", slog.String("dir", e.cfg.PDFDir))
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("ingestion: listing %s: %w", e.cfg.PDFDir, err)
	}

	cache, err := LoadReportMetadata(e.cfg.PDFDir)
	if err != nil {
		return stats, err
	}
	cachePath := filepath.Join(e.cfg.PDFDir, ReportMetadataFile)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		name := filepath.Base(path)
		if _, ok := cache[name]; ok {
			stats.Cached++
			continue
		}

		meta, err := e.describeReport(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			e.log.Warn("enrich: no metadata for filing", slog.String("file", name), slog.Any("error", err))
			continue
		}
		meta.FilePath = path
		cache[name] = meta
		if err := writeJSONFile(cachePath, cache); err != nil {
			return stats, fmt.Errorf("ingestion: saving %s: %w", cachePath, err)
		}
		stats.Enriched++
		e.log.Info("enrich: filing described",
			slog.String("file", name),
			slog.String("company", meta.CompanyName),
			slog.String("year", string(meta.ReportYear)),
		)
	}
	return stats, nil
}

func (e *Enricher) describeReport(ctx context.Context, path string) (ReportMetadata, error) {
	text, _, err := e.extract(path, e.cfg.Pages)
	if err != nil {
		return ReportMetadata{}, err
	}
	text = truncateRunes(strings.TrimSpace(text), e.cfg.Chars)
	if text == "" {
		return ReportMetadata{}, fmt.Errorf("no extractable text")
	}

	reply, err := e.ask(ctx, reportPrompt(text))
	if err != nil {
		return ReportMetadata{}, err
	}
	raw, ok := jsonObject(reply)
	if !ok {
		return ReportMetadata{}, fmt.Errorf("reply holds no JSON object")
	}
	var meta ReportMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return ReportMetadata{}, fmt.Errorf("decoding reply: %w", err)
	}
	return meta, nil
}

// EnrichQA writes an enhanced copy of every Q&A file in QADir that has
// none yet: text is cleaned, items without a question are dropped, and each
// remaining question is classified into one of QACategories. A model
// failure on one item files it under "other"; a file that cannot be read
// counts as failed.
func (e *Enricher) EnrichQA(ctx context.Context) (EnrichStats, error) {
	var stats EnrichStats
	if e.cfg.QADir == "" {
		return stats, nil
	}
	files, err := listFiles(e.cfg.QADir, ".json")
	if errors.Is(err, fs.ErrNotExist) {
		e.log.Warn("enrich: data directory does not exist, skipping", slog.String("dir", e.cfg.QADir))
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("ingestion: listing %s: %w", e.cfg.QADir, err)
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		out := EnhancedQAPath(path)
		if _, err := os.Stat(out); err == nil {
			stats.Cached++
			continue
		}

		items, err := readQAFile(path)
		if err != nil {
			stats.Failed++
			e.log.Warn("enrich: skipping unreadable file", slog.String("file", path), slog.Any("error", err))
			continue
		}

		name := filepath.Base(path)
		enhanced := make([]EnhancedQA, 0, len(items))
		for _, it := range items {
			q := CleanText(it.Question)
			if q == "" {
				continue
			}
			enhanced = append(enhanced, EnhancedQA{
				ID:       questionID(it.ID),
				Question: q,
				Answer:   CleanText(it.Answer),
				Category: e.categorize(ctx, q),
				Quality:  rateQuestion(q),
				Source:   name,
			})
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := writeJSONFile(out, enhanced); err != nil {
			return stats, fmt.Errorf("ingestion: saving %s: %w", out, err)
		}
		stats.Enriched++
		e.log.Info("enrich: q&a file enhanced", slog.String("file", name), slog.Int("items", len(enhanced)))
	}
	return stats, nil
}

func (e *Enricher) categorize(ctx context.Context, question string) string {
	reply, err := e.ask(ctx, categoryPrompt(question))
	if err != nil {
		e.log.Debug("enrich: classification failed", slog.Any("error", err))
		return QACategories[len(QACategories)-1]
	}
	return matchCategory(reply)
}

func (e *Enricher) ask(ctx context.Context, prompt string) (string, error) {
	resp, err := e.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)},
		model.WithMaxTokens(e.cfg.MaxTokens),
		model.WithTemperature(e.cfg.Temperature),
	)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("empty response")
	}
	return stripThinking(resp.Content), nil
}

// LoadReportMetadata reads the report metadata cache of dir. A missing
// cache is empty.
func LoadReportMetadata(dir string) (map[string]ReportMetadata, error) {
	path := filepath.Join(dir, ReportMetadataFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]ReportMetadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion: reading %s: %w", path, err)
	}
	cache := map[string]ReportMetadata{}
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("ingestion: decoding %s: %w", path, err)
	}
	return cache, nil
}

// EnhancedQAPath returns where the enhanced copy of a Q&A file is written.
func EnhancedQAPath(qaPath string) string {
	return filepath.Join(filepath.Dir(qaPath), EnhancedQADir, enhancedQAPrefix+filepath.Base(qaPath))
}

// loadEnhancedQA indexes the enhanced copy of qaPath by cleaned question.
// A missing copy yields nil.
func loadEnhancedQA(qaPath string) (map[string]EnhancedQA, error) {
	data, err := os.ReadFile(EnhancedQAPath(qaPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []EnhancedQA
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make(map[string]EnhancedQA, len(items))
	for _, it := range items {
		out[it.Question] = it
	}
	return out, nil
}

var (
	spaceRun  = regexp.MustCompile(`\s+`)
	oddSymbol = regexp.MustCompile(`[^\p{L}\p{N}_\s.,?;:!()\-\x{2014}'"@#$%&*+=/\\]`)
)

// CleanText collapses whitespace runs and removes symbols outside a small
// punctuation set.
func CleanText(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = oddSymbol.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func rateQuestion(q string) string {
	if utf8.RuneCountInString(q) < minQuestionRunes {
		return QualityLow
	}
	return QualityHigh
}

// matchCategory maps a free-text classification to QACategories, falling
// back to the catch-all.
func matchCategory(reply string) string {
	r := strings.ToLower(strings.Trim(strings.TrimSpace(reply), `"'.[]`))
	for _, c := range QACategories {
		if r == c {
			return c
		}
	}
	for _, c := range QACategories {
		if strings.Contains(r, c) {
			return c
		}
	}
	return QACategories[len(QACategories)-1]
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinking drops reasoning blocks some local models emit.
func stripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

// jsonObject returns the span from the first '{' to the last '}'.
func jsonObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func reportPrompt(excerpt string) string {
	return `You are a financial analyst. From the following excerpt of a listed company's periodic report, produce structured metadata.

` + excerpt + `

Reply with JSON in exactly this shape:
{
  "company_name": "full company name",
  "stock_code": "stock code",
  "report_year": "reporting year",
  "report_type": "annual, semi-annual or quarterly",
  "key_topics": ["topic 1", "topic 2", "topic 3"],
  "summary": "summary of the report in at most 100 words"
}`
}

func categoryPrompt(question string) string {
	return `You are a financial expert. Classify the question below into one topic.
Reply with the category name only, without reasoning or any other text.

Question: ` + strconv.Quote(question) + `

Categories: [` + strings.Join(QACategories, ", ") + `]`
}

// writeJSONFile writes v as indented JSON through writeFileAtomic.
func writeJSONFile(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

// writeFileAtomic writes data to a temporary file in the destination
// directory and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
