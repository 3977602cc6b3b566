package embedder

import (
	"log/slog"
	"os"
	"strings"
)

// knownChatModelPrefixes are name fragments of chat/completion models that
// produce poor or broken embeddings.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
	"glm",
	"doubao",
	"yi-",
}

// looksLikeChatModel reports whether model resembles a chat model rather
// than a dedicated embedding model. Names that say "embed" are exempt, so
// qwen3-embedding passes.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateModel warns when EMBEDDING_MODEL looks like a chat model, or when
// it equals MODEL_NAME, a common copy-paste mistake that makes the index
// useless without any error.
func ValidateModel(log *slog.Logger) {
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		return
	}
	if looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}
	if chat := os.Getenv("MODEL_NAME"); chat != "" && strings.EqualFold(chat, model) {
		log.Warn("embedder: EMBEDDING_MODEL equals MODEL_NAME",
			slog.String("model", model),
		)
	}
}
