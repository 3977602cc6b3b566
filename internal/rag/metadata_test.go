package rag

import (
	"reflect"
	"testing"
)

func TestNormalizeMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Metadata
		want Metadata
	}{
		{name: "nil", in: nil, want: nil},
		{name: "empty", in: Metadata{}, want: Metadata{}},
		{
			name: "numbers",
			in:   Metadata{"page_count": 12, "id": int64(7), "whole": 2.0, "ratio": 0.5, "big": uint64(1) << 63},
			want: Metadata{"page_count": 12, "id": 7, "whole": 2, "ratio": 0.5, "big": float64(uint64(1) << 63)},
		},
		{
			name: "typed slices and nested maps",
			in:   Metadata{"topics": []string{"a", "b"}, "period": map[string]int{"year": 2023}},
			want: Metadata{"topics": []any{"a", "b"}, "period": map[string]any{"year": 2023}},
		},
		{
			name: "null values survive",
			in:   Metadata{"date": nil, "tags": []any{1.5, nil}},
			want: Metadata{"date": nil, "tags": []any{1.5, nil}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalizeMetadata(tt.in)
			if err != nil {
				t.Fatalf("normalizeMetadata: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMetadata_RejectsUnencodable(t *testing.T) {
	t.Parallel()

	if _, err := normalizeMetadata(Metadata{"fn": func() {}}); err == nil {
		t.Fatal("expected an error for a non-JSON value")
	}
}

func TestDecodeMetadata(t *testing.T) {
	t.Parallel()

	got, err := decodeMetadata([]byte(`{"source":"a.pdf","page_count":3,"score":1e2}`))
	if err != nil {
		t.Fatalf("decodeMetadata: %v", err)
	}
	want := Metadata{"source": "a.pdf", "page_count": 3, "score": float64(100)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}

	if m, err := decodeMetadata([]byte("null")); err != nil || m != nil {
		t.Errorf("null: got %v, %v", m, err)
	}
	if _, err := decodeMetadata([]byte(`[1]`)); err == nil {
		t.Error("expected an error for a non-object")
	}
}
