// Package stdio implements the single-session, newline-or-brace-delimited
// JSON-RPC transport read from stdin and written to stdout.
package stdio

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// ReadMessage reads one complete JSON-RPC message from r. A message ends
// either at a top-level newline (the common one-message-per-line case) or
// when brace depth returns to zero having opened at least one object,
// whichever comes first — this lets a message that was split across
// multiple reads (no newline until the object actually closes) still be
// framed correctly. Depth tracking respects string/escape state so a
// brace or newline inside a quoted JSON string never ends the message.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	depth := 0
	inString := false
	escaped := false
	started := false

	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				trimmed := bytes.TrimSpace(buf.Bytes())
				if len(trimmed) > 0 {
					return trimmed, nil
				}
			}
			return nil, err
		}

		if !started {
			if isSpace(b) {
				continue
			}
			started = true
		}
		buf.WriteByte(b)

		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth <= 0 {
				return bytes.TrimSpace(buf.Bytes()), nil
			}
		case '\n':
			if depth == 0 {
				trimmed := bytes.TrimSpace(buf.Bytes())
				if len(trimmed) > 0 {
					return trimmed, nil
				}
				buf.Reset()
				started = false
			}
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// BestEffortID scans a buffer that failed to parse as JSON for an "id"
// field, returning the string or integer value that follows it so a
// -32700 parse-error response can still echo the caller's id instead of
// always falling back to null. Returns nil if none can be found.
func BestEffortID(raw []byte) any {
	idx := bytes.Index(raw, []byte(`"id"`))
	if idx < 0 {
		return nil
	}
	rest := raw[idx+len(`"id"`):]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return nil
	}
	rest = bytes.TrimSpace(rest[colon+1:])
	if len(rest) == 0 {
		return nil
	}

	if rest[0] == '"' {
		end := bytes.IndexByte(rest[1:], '"')
		if end < 0 {
			return nil
		}
		return string(rest[1 : 1+end])
	}

	end := 0
	for end < len(rest) && isNumberByte(rest[end]) {
		end++
	}
	if end == 0 {
		return nil
	}
	n, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return nil
	}
	return n
}

func isNumberByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == '-' || b == '+' || b == '.' || b == 'e' || b == 'E'
}
