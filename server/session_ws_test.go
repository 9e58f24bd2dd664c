package server

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCloseReason(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantLen int
	}{
		{"short", "server shutdown", 15},
		{"exact", strings.Repeat("a", 120), 120},
		{"ascii", strings.Repeat("a", 200), 120},
		// 119 bytes then a two byte rune straddling the limit.
		{"rune at limit", strings.Repeat("a", 119) + "é" + "tail", 119},
		{"multibyte", strings.Repeat("日本", 30), 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := closeReason(tt.msg)
			assert.Len(t, got, tt.wantLen)
			assert.True(t, utf8.ValidString(got))
			assert.True(t, strings.HasPrefix(tt.msg, got))
		})
	}
}
