package store

import (
	"context"
	"fmt"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// eachStore runs fn against both History implementations.
func eachStore(t *testing.T, fn func(t *testing.T, h History)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		fn(t, openTestStore(t))
	})
}

func Test_History_AppendAndRecent(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, h History) {
		ctx := context.Background()
		if err := h.Append(ctx, "s1", RoleUser, "茅台的毛利率是多少?"); err != nil {
			t.Fatalf("append user: %v", err)
		}
		if err := h.Append(ctx, "s1", RoleAssistant, "[analysis]: 91%"); err != nil {
			t.Fatalf("append assistant: %v", err)
		}

		entries, err := h.Recent(ctx, "s1", 10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("want 2 entries, got %d", len(entries))
		}
		if entries[0].Role != RoleUser || entries[1].Role != RoleAssistant {
			t.Errorf("unexpected roles %s, %s", entries[0].Role, entries[1].Role)
		}
		if entries[1].CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})
}

func Test_History_WindowNeverPrunes(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, h History) {
		ctx := context.Background()
		for turn := range 7 {
			if err := h.Append(ctx, "s", RoleUser, fmt.Sprintf("q%d", turn)); err != nil {
				t.Fatal(err)
			}
			if err := h.Append(ctx, "s", RoleAssistant, fmt.Sprintf("a%d", turn)); err != nil {
				t.Fatal(err)
			}
		}

		window, err := h.Recent(ctx, "s", 5)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		want := []string{"a4", "q5", "a5", "q6", "a6"}
		if len(window) != len(want) {
			t.Fatalf("want %d entries, got %d", len(want), len(window))
		}
		for i, w := range want {
			if window[i].Content != w {
				t.Errorf("window[%d] = %q, want %q", i, window[i].Content, w)
			}
		}

		n, err := h.Len(ctx, "s")
		if err != nil {
			t.Fatalf("len: %v", err)
		}
		if n != 14 {
			t.Errorf("stored entries = %d, want 14", n)
		}
	})
}

func Test_History_SessionIsolation(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, h History) {
		ctx := context.Background()
		if err := h.Append(ctx, "x", RoleUser, "from x"); err != nil {
			t.Fatal(err)
		}
		if err := h.Append(ctx, "y", RoleUser, "from y"); err != nil {
			t.Fatal(err)
		}

		for session, want := range map[string]string{"x": "from x", "y": "from y"} {
			entries, err := h.Recent(ctx, session, 10)
			if err != nil {
				t.Fatalf("recent %s: %v", session, err)
			}
			if len(entries) != 1 || entries[0].Content != want {
				t.Errorf("session %s isolation failed: got %v", session, entries)
			}
		}
	})
}

func Test_History_EmptyAndZeroWindow(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, h History) {
		ctx := context.Background()
		entries, err := h.Recent(ctx, "nobody", 10)
		if err != nil || len(entries) != 0 {
			t.Errorf("empty session: %v, %v", entries, err)
		}

		if err := h.Append(ctx, "s", RoleUser, "q"); err != nil {
			t.Fatal(err)
		}
		entries, err = h.Recent(ctx, "s", 0)
		if err != nil || len(entries) != 0 {
			t.Errorf("zero window: %v, %v", entries, err)
		}
	})
}

func Test_MemoryStore_RecentReturnsCopy(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	_ = m.Append(ctx, "s", RoleUser, "original")

	entries, _ := m.Recent(ctx, "s", 1)
	entries[0].Content = "mutated"

	again, _ := m.Recent(ctx, "s", 1)
	if again[0].Content != "original" {
		t.Errorf("stored history mutated through Recent result")
	}
}

func Test_Store_ReopenKeepsHistory(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/history.db"
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, "s", RoleUser, "persisted"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	entries, err := s.Recent(ctx, "s", 1)
	if err != nil || len(entries) != 1 || entries[0].Content != "persisted" {
		t.Errorf("after reopen: %v, %v", entries, err)
	}
}
