package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDefaultTitle(t *testing.T) {
	assert.True(t, IsDefaultTitle("New chat"))
	assert.True(t, IsDefaultTitle("new CHAT"))
	assert.True(t, IsDefaultTitle(""))
	assert.True(t, IsDefaultTitle("   "))
	assert.False(t, IsDefaultTitle("Trip planning"))
	assert.False(t, IsDefaultTitle("New chat!"))
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "Plan my trip", "Plan my trip"},
		{"collapses whitespace", "  Plan \t my\n\n trip  ", "Plan my trip"},
		{"exactly at limit", strings.Repeat("a", 24), strings.Repeat("a", 24)},
		{"truncates with ellipsis", strings.Repeat("a", 25), strings.Repeat("a", 24) + "…"},
		{"counts runes not bytes", strings.Repeat("界", 30), strings.Repeat("界", 24) + "…"},
		{"empty falls back", "   ", "New chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.text))
		})
	}
}
