// Package logutil holds helpers for logging values that come from remote peers.
package logutil

import "strings"

// maxLogValue bounds how much of a remote-supplied value reaches the logs.
const maxLogValue = 256

// SanitizeForLog strips newlines and control characters from s and truncates it, so banners
// and other remote-supplied strings cannot forge log entries.
func SanitizeForLog(s string) string {
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)

	var result strings.Builder
	result.Grow(min(len(s), maxLogValue))
	n := 0
	for _, r := range s {
		if r < 32 || r == 0x7f {
			continue
		}
		if n == maxLogValue {
			result.WriteString("...")
			break
		}
		result.WriteRune(r)
		n++
	}
	return result.String()
}
