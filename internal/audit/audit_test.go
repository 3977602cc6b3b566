package audit

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key, value, want string
	}{
		{"OPENAI_API_KEY", "sk-abc123", "set"},
		{"OPENAI_API_KEY", "", "unset"},
		{"FINQA_API_KEY", "token", "set"},
		{"MODEL_PROVIDER", "ollama", "ollama"},
		{"MODEL_PROVIDER", "", "unset"},
		{"INDEX_PATH", "vector_store.faiss", "vector_store.faiss"},
	}
	for _, tc := range cases {
		if got := SanitiseKey(tc.key, tc.value); got != tc.want {
			t.Errorf("SanitiseKey(%q, %q): expected %q, got %q", tc.key, tc.value, tc.want, got)
		}
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		p := home + "/.finqa/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.finqa/config.yaml" {
			t.Errorf("expected '~/.finqa/config.yaml', got %q", got)
		}
	}
}

// TestLogCommandStart_RedactsSecrets verifies secret values never reach the
// log output.
func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	t.Setenv("MODEL_PROVIDER", "openai")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	LogCommandStart(log, "ask", "")

	out := buf.String()
	if strings.Contains(out, "sk-very-secret") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	if !strings.Contains(out, "OPENAI_API_KEY=set") {
		t.Errorf("expected OPENAI_API_KEY=set, got %s", out)
	}
	if !strings.Contains(out, "MODEL_PROVIDER=openai") {
		t.Errorf("expected MODEL_PROVIDER=openai, got %s", out)
	}
	if !strings.Contains(out, "command=ask") {
		t.Errorf("expected command=ask, got %s", out)
	}
}
