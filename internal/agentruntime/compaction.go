package agentruntime

import (
	"strings"

	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
)

// CompactionConfig configures the context-compression trigger of spec §4.2.
type CompactionConfig struct {
	// TurnThreshold is the number of user+assistant pairs at or above
	// which compression triggers.
	TurnThreshold int
	// TokenThreshold is the estimated-token count at or above which
	// compression triggers.
	TokenThreshold int
}

// DefaultCompactionConfig returns sensible defaults: 20 turns or ~4000
// estimated tokens.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{TurnThreshold: 20, TokenThreshold: 4000}
}

// messageTruncateThreshold is the individual-message token estimate above
// which a message is truncated in place before being serialized for the
// compressor (spec §4.2).
const messageTruncateThreshold = 2000

// postCompactionFloor is how many trailing messages survive a compaction
// pass (spec §4.2: "truncated to at most the last 4 messages").
const postCompactionFloor = 4

// estimateTokens implements spec §4.2's estimator: total characters / 2 *
// 1.2.
func estimateTokens(s string) int {
	return int(float64(len(s)) / 2 * 1.2)
}

// estimateHistoryTokens sums estimateTokens across every message's
// content.
func estimateHistoryTokens(history []providers.Message) int {
	total := 0
	for _, m := range history {
		total += estimateTokens(m.Content)
	}
	return total
}

// countTurns counts user+assistant pairs (approximated as the number of
// user messages, since append-on-success always adds them in pairs).
func countTurns(history []providers.Message) int {
	turns := 0
	for _, m := range history {
		if m.Role == providers.RoleUser {
			turns++
		}
	}
	return turns
}

// shouldCompress reports whether history crosses either threshold.
func (c CompactionConfig) shouldCompress(history []providers.Message) bool {
	if countTurns(history) >= c.TurnThreshold {
		return true
	}
	return estimateHistoryTokens(history) >= c.TokenThreshold
}

// truncateMessage truncates content whose estimated token count exceeds
// messageTruncateThreshold to its first 40% + marker + last 40%.
func truncateMessage(content string) string {
	if estimateTokens(content) <= messageTruncateThreshold {
		return content
	}
	n := len(content)
	head := content[:int(float64(n)*0.4)]
	tail := content[n-int(float64(n)*0.4):]
	return head + "[…truncated…]" + tail
}

// truncatedHistoryForSummary returns history with every over-threshold
// message truncated in place, ready to be serialized as the compressor's
// input.
func truncatedHistoryForSummary(history []providers.Message) []providers.Message {
	out := make([]providers.Message, len(history))
	for i, m := range history {
		out[i] = providers.Message{Role: m.Role, Content: truncateMessage(m.Content)}
	}
	return out
}

// tailFloor returns at most the last postCompactionFloor messages.
func tailFloor(history []providers.Message) []providers.Message {
	if len(history) <= postCompactionFloor {
		return history
	}
	return history[len(history)-postCompactionFloor:]
}

const summaryHeading = "## 历史对话总结"

// injectSummary applies the substitution rule of spec §4.2: substitute
// into {CONTEXT_SUMMARY} if the template declares it, else append once
// under the fixed heading.
func injectSummary(rendered, summary string, hasPlaceholder bool) string {
	if summary == "" {
		return rendered
	}
	if hasPlaceholder {
		return strings.ReplaceAll(rendered, "{CONTEXT_SUMMARY}", summary)
	}
	return rendered + "\n\n" + summaryHeading + "\n\n" + summary
}
