// Package system owns the long-lived pieces of a finqa process: the
// knowledge base index, the conversation history store and the answering
// pipeline. A System is opened once at startup and handed to the HTTP
// server or the CLI; nothing in it is global.
package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"

	"github.com/54b3r/finqa-go/internal/agent"
	"github.com/54b3r/finqa-go/internal/rag"
	"github.com/54b3r/finqa-go/internal/store"
)

// Metadata defaults applied while building the index.
const (
	DefaultSource = "unlabeled source"
	DefaultDate   = "unknown date"
)

// ErrEmptyQuery is returned by Analyze for a blank query.
var ErrEmptyQuery = errors.New("system: query must not be empty")

// ChunkSource produces the knowledge base chunks the index is built from.
// *ingestion.Loader satisfies it.
type ChunkSource interface {
	LoadAll(ctx context.Context) ([]rag.Chunk, error)
}

// Config holds the dependencies of a System.
type Config struct {
	ChatModel model.BaseChatModel

	// Index is the knowledge base. When it implements rag.Persister it is
	// loaded from IndexPath, or built and saved there.
	Index rag.Index
	// Source feeds index builds. Required unless the index can always be
	// loaded.
	Source ChunkSource
	// History defaults to an in-memory store.
	History store.History

	// IndexPath is the blob path for persistent indexes. For remote
	// indexes it is only recorded in the state file.
	IndexPath string
	// StatePath is where SaveState writes. Empty disables state files.
	StatePath string
	// ForceRebuild rebuilds the index on Open even when a saved one
	// exists.
	ForceRebuild bool

	// Pipeline carries the stage parameters; its ChatModel, Index and
	// History fields are overwritten.
	Pipeline agent.Config

	Logger *slog.Logger
}

// System is the explicitly owned application context.
type System struct {
	cfg      Config
	index    rag.Index
	source   ChunkSource
	history  store.History
	pipeline *agent.Orchestrator
	log      *slog.Logger

	// buildMu serialises index builds. Builds must not overlap with
	// Analyze traffic.
	buildMu sync.Mutex
	now     func() time.Time
}

// AnalysisRequest is one question submitted to Analyze.
type AnalysisRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AnalysisResult is the answer to one AnalysisRequest.
type AnalysisResult struct {
	Query        string             `json:"query"`
	Analysis     string             `json:"analysis"`
	Confidence   agent.Confidence   `json:"confidence"`
	Sources      []string           `json:"sources"`
	CitationMode agent.CitationMode `json:"citation_mode"`
	Evaluation   string             `json:"evaluation"`
	Timestamp    time.Time          `json:"timestamp"`
	SessionID    string             `json:"session_id"`
}

// Open wires cfg into a System. A persistent index is loaded from
// IndexPath when the file exists; a remote index that already holds
// chunks is used as is; otherwise the index is built from Source.
func Open(ctx context.Context, cfg Config) (*System, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("system: Index must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	history := cfg.History
	if history == nil {
		history = store.NewMemory()
	}

	pc := cfg.Pipeline
	pc.ChatModel = cfg.ChatModel
	pc.Index = cfg.Index
	pc.History = history
	pipeline, err := agent.New(&pc)
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}

	s := &System{
		cfg:      cfg,
		index:    cfg.Index,
		source:   cfg.Source,
		history:  history,
		pipeline: pipeline,
		log:      cfg.Logger,
		now:      time.Now,
	}

	if err := s.loadOrBuild(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *System) loadOrBuild(ctx context.Context) error {
	p, persistent := s.index.(rag.Persister)
	if s.cfg.ForceRebuild {
		_, err := s.Rebuild(ctx)
		return err
	}
	if persistent && s.cfg.IndexPath != "" {
		_, err := os.Stat(s.cfg.IndexPath)
		switch {
		case err == nil:
			if err := p.Load(s.cfg.IndexPath); err != nil {
				return fmt.Errorf("system: %w", err)
			}
			s.log.Info("system: knowledge base loaded",
				slog.String("path", s.cfg.IndexPath),
				slog.Int("documents", s.index.Len()),
			)
			return nil
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("system: stat %s: %w", s.cfg.IndexPath, err)
		}
	}
	if !persistent && s.index.Len() > 0 {
		s.log.Info("system: using existing remote knowledge base", slog.Int("documents", s.index.Len()))
		return nil
	}

	s.log.Info("system: no saved knowledge base, building one")
	_, err := s.Rebuild(ctx)
	return err
}

// Rebuild recreates the index from Source, saves it when the index is
// persistent and writes the state file. It returns the number of chunks
// indexed. Rebuild must not run while Analyze calls are in flight.
func (s *System) Rebuild(ctx context.Context) (int, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if s.source == nil {
		return 0, fmt.Errorf("system: no chunk source configured")
	}
	chunks, err := s.source.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("system: loading knowledge base: %w", err)
	}
	for i := range chunks {
		chunks[i].Metadata = withDefaults(chunks[i].Metadata)
	}

	if err := s.index.Create(ctx); err != nil {
		return 0, fmt.Errorf("system: %w", err)
	}
	if len(chunks) > 0 {
		contents, metas := rag.SplitChunks(chunks)
		if err := s.index.AddDocuments(ctx, contents, metas); err != nil {
			return 0, fmt.Errorf("system: indexing: %w", err)
		}
	} else {
		s.log.Warn("system: knowledge base is empty; answers will have no context")
	}

	if p, ok := s.index.(rag.Persister); ok && s.cfg.IndexPath != "" {
		if err := p.Save(s.cfg.IndexPath); err != nil {
			return 0, fmt.Errorf("system: %w", err)
		}
	}
	if err := s.SaveState(); err != nil {
		return 0, err
	}
	s.log.Info("system: knowledge base built", slog.Int("documents", len(chunks)))
	return len(chunks), nil
}

// withDefaults fills in a missing source or date. Other keys are kept.
func withDefaults(m rag.Metadata) rag.Metadata {
	out := m.Clone()
	if out == nil {
		out = rag.Metadata{}
	}
	if s, _ := out["source"].(string); strings.TrimSpace(s) == "" {
		out["source"] = DefaultSource
	}
	if d, ok := out["date"]; !ok || d == nil || d == "" {
		out["date"] = DefaultDate
	}
	return out
}

// Analyze runs one question through the pipeline. Without a SessionID the
// UserID scopes the history; without either a fresh session is used.
func (s *System) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	session := req.SessionID
	if session == "" {
		session = req.UserID
	}
	if session == "" {
		session = uuid.NewString()
	}

	turn, err := s.pipeline.Turn(ctx, session, query)
	if err != nil {
		return nil, fmt.Errorf("system: analyze: %w", err)
	}
	return &AnalysisResult{
		Query:        turn.Query,
		Analysis:     turn.Analysis,
		Confidence:   turn.Confidence,
		Sources:      turn.Sources,
		CitationMode: turn.CitationMode,
		Evaluation:   turn.Evaluation,
		Timestamp:    turn.Timestamp,
		SessionID:    session,
	}, nil
}

// ChatModel returns the model serving both answering stages.
func (s *System) ChatModel() model.BaseChatModel { return s.cfg.ChatModel }

// Index returns the knowledge base index.
func (s *System) Index() rag.Index { return s.index }

// History returns the conversation history store.
func (s *System) History() store.History { return s.history }

// Close releases the history store and the index. It does not write the
// state file.
func (s *System) Close() error {
	var errs []error
	if err := s.history.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := s.index.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
