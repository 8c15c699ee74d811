package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "camp-1", "camp-1"},
		{"control chars", "camp\x00-1\x07", "camp-1"},
		{"keeps newline", "a\nb", "a\nb"},
		{"keeps tab", "a\tb", "a\tb"},
		{"trims whitespace", "  camp-1  ", "camp-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeString(tt.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 8, "hello..."},
		{"tiny limit", "hello", 2, ".."},
		{"rune boundary", "héllo wörld", 5, "h..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateString(tt.input, tt.maxLen)
			assert.Equal(t, tt.expected, got)
			assert.LessOrEqual(t, len(got), tt.maxLen)
		})
	}
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "", MaskSensitive("", 4))
	assert.Equal(t, "******", MaskSensitive("secret", 4))
	assert.Equal(t, "********7890", MaskSensitive("eyJhbGciOi1234567890", 4))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{850 * time.Millisecond, "850ms"},
		{12400 * time.Millisecond, "12.40s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{time.Hour + 2*time.Minute + 30*time.Second, "1h02m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatDuration(tt.d))
	}
}

func TestGenerateSessionID(t *testing.T) {
	id1 := GenerateSessionID()
	id2 := GenerateSessionID()

	assert.NotEqual(t, id1, id2)
	require.True(t, strings.HasPrefix(id1, "session_"))
	_, err := uuid.Parse(strings.TrimPrefix(id1, "session_"))
	assert.NoError(t, err)
}

func TestGenerateConnectionUID(t *testing.T) {
	_, err := uuid.Parse(GenerateConnectionUID())
	assert.NoError(t, err)
}

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.Len(t, id, len("req_")+32)
	assert.NotEqual(t, id, GenerateRequestID())
}
