package rag

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// The index persists as two co-located files sharing a base name: a binary
// vector blob and a JSON sidecar {"content": [...], "metadata": [...]}.
//
// Blob layout, little endian:
//
//	magic   [8]byte "FINQAIDX"
//	version uint32
//	dim     uint32
//	count   uint64
//	vectors count*dim float32
const blobVersion = 1

var blobMagic = [8]byte{'F', 'I', 'N', 'Q', 'A', 'I', 'D', 'X'}

type blobHeader struct {
	Magic   [8]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// ErrNotCreated reports a Save on an index that was never created.
var ErrNotCreated = errors.New("rag: index not initialised")

const sidecarSchema = `{
  "type": "object",
  "required": ["content", "metadata"],
  "properties": {
    "content":  {"type": "array", "items": {"type": "string"}},
    "metadata": {"type": "array", "items": {"type": ["object", "null"]}}
  }
}`

var sidecarSchemaLoader = gojsonschema.NewStringLoader(sidecarSchema)

type sidecar struct {
	Content  []string   `json:"content"`
	Metadata []Metadata `json:"metadata"`
}

// rawSidecar defers metadata decoding so numbers keep their integer type.
type rawSidecar struct {
	Content  []string          `json:"content"`
	Metadata []json.RawMessage `json:"metadata"`
}

// SidecarPath returns the metadata file paired with an index blob path:
// the blob extension is replaced by ".json" ("vector_store.faiss" pairs
// with "vector_store.json").
func SidecarPath(blobPath string) string {
	base := strings.TrimSuffix(blobPath, filepath.Ext(blobPath))
	if base+".json" == blobPath {
		return blobPath + ".meta.json"
	}
	return base + ".json"
}

// Save writes the blob and its sidecar. Each file is written to a
// temporary name and renamed into place.
func (x *FlatIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.created {
		return ErrNotCreated
	}
	if x.missingSidecar {
		return fmt.Errorf("rag: refusing to save: %w", ErrMissingMetadata)
	}

	if err := writeAtomic(path, func(w io.Writer) error {
		return writeBlob(w, x.dim, x.vectors)
	}); err != nil {
		return fmt.Errorf("rag: saving index blob %s: %w", path, err)
	}

	meta := x.metadata
	if meta == nil {
		meta = []Metadata{}
	}
	docs := x.documents
	if docs == nil {
		docs = []string{}
	}
	side := SidecarPath(path)
	if err := writeAtomic(side, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(sidecar{Content: docs, Metadata: meta})
	}); err != nil {
		return fmt.Errorf("rag: saving sidecar %s: %w", side, err)
	}

	x.log.Info("rag: index saved",
		slog.String("path", path),
		slog.String("sidecar", side),
		slog.Int("documents", len(x.documents)),
	)
	return nil
}

// Load replaces the index contents with the blob at path and its sidecar.
//
// A blob whose dimension differs from the embedder's fails with
// [ErrDimensionMismatch]; a sidecar whose arrays disagree with the blob
// fails with [ErrLengthMismatch]. A missing sidecar is not fatal: the
// vectors are restored, the index is flagged inconsistent (see Health) and
// Search fails with [ErrMissingMetadata] until the index is rebuilt.
func (x *FlatIndex) Load(path string) error {
	dim, vectors, err := readBlobFile(path)
	if err != nil {
		return fmt.Errorf("rag: loading index blob %s: %w", path, err)
	}
	if want := x.embedder.Dimension(); dim != want {
		return fmt.Errorf("%w: index %s has dimension %d, embedder has %d", ErrDimensionMismatch, path, dim, want)
	}

	side := SidecarPath(path)
	data, err := os.ReadFile(side)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		x.mu.Lock()
		x.reset(dim)
		x.vectors = vectors
		x.missingSidecar = len(vectors) > 0
		x.mu.Unlock()
		if len(vectors) > 0 {
			x.log.Warn("rag: index loaded without metadata sidecar; searches will fail until it is rebuilt",
				slog.String("path", path),
				slog.String("sidecar", side),
				slog.Int("vectors", len(vectors)),
			)
		}
		return nil
	case err != nil:
		return fmt.Errorf("rag: reading sidecar %s: %w", side, err)
	}

	sc, err := decodeSidecar(data)
	if err != nil {
		return fmt.Errorf("rag: sidecar %s: %w", side, err)
	}
	if len(sc.Content) != len(vectors) || len(sc.Metadata) != len(vectors) {
		return fmt.Errorf("%w: %s has %d vectors, sidecar has %d contents and %d metadata",
			ErrLengthMismatch, path, len(vectors), len(sc.Content), len(sc.Metadata))
	}

	x.mu.Lock()
	x.reset(dim)
	x.vectors = vectors
	x.documents = sc.Content
	x.metadata = sc.Metadata
	x.mu.Unlock()

	x.log.Info("rag: index loaded", slog.String("path", path), slog.Int("documents", len(vectors)))
	return nil
}

func decodeSidecar(data []byte) (*sidecar, error) {
	result, err := gojsonschema.Validate(sidecarSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("schema violation: %s", strings.Join(msgs, "; "))
	}

	var raw rawSidecar
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	sc := &sidecar{Content: raw.Content, Metadata: make([]Metadata, len(raw.Metadata))}
	for i, m := range raw.Metadata {
		meta, err := decodeMetadata(m)
		if err != nil {
			return nil, fmt.Errorf("metadata %d: %w", i, err)
		}
		sc.Metadata[i] = meta
	}
	return sc, nil
}

func writeBlob(w io.Writer, dim int, vectors [][]float32) error {
	bw := bufio.NewWriter(w)
	hdr := blobHeader{Magic: blobMagic, Version: blobVersion, Dim: uint32(dim), Count: uint64(len(vectors))}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return err
	}
	for _, v := range vectors {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readBlobFile(path string) (int, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	return readBlob(bufio.NewReader(f))
}

func readBlob(r io.Reader) (int, [][]float32, error) {
	var hdr blobHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.Magic != blobMagic {
		return 0, nil, fmt.Errorf("not a finqa index blob")
	}
	if hdr.Version != blobVersion {
		return 0, nil, fmt.Errorf("unsupported blob version %d", hdr.Version)
	}
	if hdr.Dim == 0 && hdr.Count > 0 {
		return 0, nil, fmt.Errorf("blob declares %d vectors of dimension 0", hdr.Count)
	}

	vectors := make([][]float32, 0, min(hdr.Count, 1<<20))
	for i := uint64(0); i < hdr.Count; i++ {
		v := make([]float32, hdr.Dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return 0, nil, fmt.Errorf("reading vector %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}
	return int(hdr.Dim), vectors, nil
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
