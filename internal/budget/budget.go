// Package budget estimates token counts and trims the history window that
// the generation stage renders into its prompt. Backends use different
// tokenizers, so estimation is a mixed-script heuristic: each Han character
// counts as one token and every other run of characters as one token per
// four runes. Financial filings in Chinese would be badly under-counted by
// a plain bytes/4 rule.
package budget

import (
	"unicode"

	"github.com/cloudwego/eino/schema"
)

const (
	// runesPerToken is the ratio applied to non-Han text.
	runesPerToken = 4

	// messageOverhead approximates per-message framing in chat APIs.
	messageOverhead = 4

	// DefaultHistoryTokens is the default budget for the rendered history
	// window. Zero disables trimming.
	DefaultHistoryTokens = 2000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	han, other := 0, 0
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			han++
			continue
		}
		other++
	}
	n := han + other/runesPerToken
	if n == 0 && other > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// summing role and content plus framing overhead for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest messages from history until its estimated
// size fits within maxTokens. maxTokens <= 0 means no limit. The input
// slice is never modified; the result may share its backing array.
func TrimHistory(history []*schema.Message, maxTokens int) []*schema.Message {
	if maxTokens <= 0 || len(history) == 0 {
		return history
	}
	total := EstimateMessages(history)
	for len(history) > 0 && total > maxTokens {
		total -= EstimateMessages(history[:1])
		history = history[1:]
	}
	return history
}
