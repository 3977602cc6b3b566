// Package audit logs every CLI command invocation together with the
// environment it resolved, so operators can reconstruct which model, index
// and embedding backend a run used. Secret values are reduced to "set" or
// "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type auditEntry struct {
	key    string
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", false},
	{"MODEL_NAME", false},
	{"OLLAMA_HOST", false},
	{"OPENAI_API_KEY", true},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"ARK_API_KEY", true},
	{"GOOGLE_API_KEY", true},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"INDEX_BACKEND", false},
	{"INDEX_PATH", false},
	{"QDRANT_HOST", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"FINQA_API_KEY", true},
	{"FINQA_HISTORY_DB", false},
	{"LOG_LEVEL", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool, len(auditKeys))
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits one structured audit entry when a CLI command begins.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, SanitiseKey(entry.key, os.Getenv(entry.key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns "set" or "unset" for secret keys and the value itself
// (or "unset") for everything else.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	if value == "" {
		return "unset"
	}
	return value
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory
// collapsed to "~", or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
