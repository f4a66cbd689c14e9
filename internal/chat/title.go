package chat

import (
	"strings"

	"github.com/raphaelgruber/gatechat/internal/models"
)

// titleMaxRunes is where derived titles are cut off.
const titleMaxRunes = 24

// IsDefaultTitle reports whether a conversation still carries a default
// title and is therefore eligible for auto-renaming. Empty and
// whitespace-only titles count as default; the comparison is
// case-insensitive.
func IsDefaultTitle(title string) bool {
	trimmed := strings.TrimSpace(title)
	return trimmed == "" || strings.EqualFold(trimmed, models.DefaultTitle)
}

// DeriveTitle builds a conversation title from the first user message:
// whitespace runs collapse to single spaces and anything beyond 24 runes is
// cut with an ellipsis. Empty input falls back to the default title.
func DeriveTitle(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return models.DefaultTitle
	}
	runes := []rune(collapsed)
	if len(runes) <= titleMaxRunes {
		return collapsed
	}
	return string(runes[:titleMaxRunes]) + "…"
}
