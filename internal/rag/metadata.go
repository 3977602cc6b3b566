package rag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// normalizeMetadata reduces m to the value shapes a JSON round trip
// produces, so metadata held in memory compares equal to metadata read
// back from a sidecar or a Qdrant payload. Integral numbers become int,
// other numbers float64, slices []any and objects map[string]any.
func normalizeMetadata(m Metadata) (Metadata, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(data)
}

// decodeMetadata parses one metadata object. JSON null yields nil.
func decodeMetadata(data []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		nv, err := normalizeJSONValue(v)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeJSONValue(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return normalizeNumber(t)
	case map[string]any:
		for k, e := range t {
			ne, err := normalizeJSONValue(e)
			if err != nil {
				return nil, err
			}
			t[k] = ne
		}
		return t, nil
	case []any:
		for i, e := range t {
			ne, err := normalizeJSONValue(e)
			if err != nil {
				return nil, err
			}
			t[i] = ne
		}
		return t, nil
	default:
		return v, nil
	}
}

func normalizeNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			if i >= math.MinInt && i <= math.MaxInt {
				return int(i), nil
			}
			return i, nil
		}
	}
	return n.Float64()
}
