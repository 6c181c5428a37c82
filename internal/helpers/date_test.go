package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRelativeTimeAt(t *testing.T) {
	now := time.Date(2025, 8, 12, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input time.Time
		want  string
	}{
		{
			name:  "seconds ago",
			input: now.Add(-30 * time.Second),
			want:  "30 seconds ago",
		},
		{
			name:  "one minute ago",
			input: now.Add(-90 * time.Second),
			want:  "1 minute ago",
		},
		{
			name:  "hours ago",
			input: now.Add(-5 * time.Hour),
			want:  "5 hours ago",
		},
		{
			name:  "days ago",
			input: now.Add(-49 * time.Hour),
			want:  "2 days ago",
		},
		{
			name:  "future",
			input: now.Add(10 * time.Minute),
			want:  "10 minutes from now",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRelativeTimeAt(tt.input, now))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10))
	assert.Equal(t, "hel...", TruncateString("hello world", 6))
	assert.Equal(t, "", TruncateString("hello", 0))
}
