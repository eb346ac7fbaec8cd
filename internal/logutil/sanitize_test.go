package logutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "SSH-2.0-OpenSSH_9.6", want: "SSH-2.0-OpenSSH_9.6"},
		{name: "newlines", in: "SSH-2.0-x\r\nlevel=ERROR msg=forged", want: "SSH-2.0-x  level=ERROR msg=forged"},
		{name: "control chars", in: "a\x00b\x1bc\x7fd", want: "abcd"},
		{name: "tabs", in: "a\tb", want: "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeForLog(tt.in))
		})
	}
}

func TestSanitizeForLog_Truncates(t *testing.T) {
	t.Parallel()

	got := SanitizeForLog(strings.Repeat("x", 1000))
	assert.Equal(t, strings.Repeat("x", maxLogValue)+"...", got)
}
