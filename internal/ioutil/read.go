package ioutil

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxBodySize caps how much of an upstream response body is buffered
const MaxBodySize = 1 << 20

// ReadBody reads at most limit bytes from r. Bodies larger than limit are
// cut off rather than rejected; callers only interpret JSON documents, which
// a truncated body will fail to parse anyway.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// ReadLimited reads up to limit bytes and returns them as a string, or a
// description of the read failure. Meant for error messages and logs.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := ReadBody(r, limit)
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// Truncate returns at most n characters of s. It never splits a multi-byte
// character.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count == n {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
