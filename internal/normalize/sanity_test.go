package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", true},
		{"short", "ok", true},
		{"sentence", "Finished my 5k run this morning, feeling great!", true},
		{"emoji heavy", "🔥🔥🔥 day 30 of meditation 🧘 streak unlocked 🎉🎉", true},
		{"non latin", "今日は瞑想を三十分しました。とても良い気分です。", true},
		{"invalid utf8", "hello \xff\xfe world", false},
		{"replacement runes", "data " + strings.Repeat("�", 5) + " more", false},
		{"control bytes", "a\x00b\x01c\x02d\x03e\x04f", false},
		{"symbol soup", strings.Repeat("#$%^&*(){}[]<>", 3), false},
		{"whitespace", "a" + strings.Repeat(" ", 30) + "b", false},
		{"base64 blob", strings.Repeat("aGVsbG8gd29ybGQ=", 4), false},
		{"long url is fine", "see https://example.com/a/b/c?x=1 tonight", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeText(tt.in))
		})
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"zero", time.Time{}, ""},
		{"seconds", now.Add(-20 * time.Second), "just now"},
		{"future", now.Add(3 * time.Minute), "just now"},
		{"minutes", now.Add(-12 * time.Minute), "12m"},
		{"hours", now.Add(-5 * time.Hour), "5h"},
		{"days", now.Add(-3 * 24 * time.Hour), "3d"},
		{"same year", time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC), "Jan 2"},
		{"previous year", time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC), "Dec 1, 2025"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativeTime(now, tt.at))
		})
	}
}
