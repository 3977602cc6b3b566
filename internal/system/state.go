package system

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/54b3r/finqa-go/internal/rag"
)

// Status values reported by Status.
const (
	StatusRunning     = "running"
	StatusInitialized = "initialized"
)

// State is the record written to the state file.
type State struct {
	LastUpdated     string `json:"last_updated"`
	VectorStorePath string `json:"vector_store_path"`
	DocumentCount   int    `json:"document_count"`
}

// Status describes the system for GET /api/v1/status and `finqa status`.
type Status struct {
	Status          string `json:"status"`
	LastUpdated     string `json:"last_updated,omitempty"`
	VectorStorePath string `json:"vector_store_path,omitempty"`
	DocumentCount   *int   `json:"document_count,omitempty"`
	Message         string `json:"message,omitempty"`

	Index IndexStatus `json:"index"`
}

// IndexStatus reports the live index rather than the saved state.
type IndexStatus struct {
	Documents  int         `json:"documents"`
	Consistent bool        `json:"consistent"`
	Health     *rag.Health `json:"health,omitempty"`
}

type healthReporter interface {
	Health() rag.Health
}

// SaveState writes the current document count and index location to the
// state file. It is a no-op when no state path is configured.
func (s *System) SaveState() error {
	if s.cfg.StatePath == "" {
		return nil
	}
	st := State{
		LastUpdated:     s.now().Format(time.RFC3339),
		VectorStorePath: s.cfg.IndexPath,
		DocumentCount:   s.index.Len(),
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("system: encoding state: %w", err)
	}
	if err := os.WriteFile(s.cfg.StatePath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("system: writing state %s: %w", s.cfg.StatePath, err)
	}
	return nil
}

// Status reports "running" with the saved state, or "initialized" when no
// state has been saved yet. An unreadable state file is an error.
func (s *System) Status() (*Status, error) {
	out := &Status{Index: s.indexStatus()}

	if s.cfg.StatePath == "" {
		out.Status = StatusInitialized
		out.Message = "system has not saved state yet"
		return out, nil
	}
	data, err := os.ReadFile(s.cfg.StatePath)
	if errors.Is(err, fs.ErrNotExist) {
		out.Status = StatusInitialized
		out.Message = "system has not saved state yet"
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("system: reading state %s: %w", s.cfg.StatePath, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("system: decoding state %s: %w", s.cfg.StatePath, err)
	}

	out.Status = StatusRunning
	out.LastUpdated = st.LastUpdated
	out.VectorStorePath = st.VectorStorePath
	out.DocumentCount = &st.DocumentCount
	return out, nil
}

func (s *System) indexStatus() IndexStatus {
	is := IndexStatus{Documents: s.index.Len(), Consistent: true}
	if hr, ok := s.index.(healthReporter); ok {
		h := hr.Health()
		is.Health = &h
		is.Consistent = h.Consistent
	}
	return is
}

// CheckIndex returns an error when the index cannot serve searches, which
// happens after loading a blob whose metadata sidecar was missing.
func (s *System) CheckIndex() error {
	is := s.indexStatus()
	if !is.Consistent {
		return fmt.Errorf("%w: %d vectors, %d documents", rag.ErrMissingMetadata, is.Health.Vectors, is.Health.Documents)
	}
	return nil
}
