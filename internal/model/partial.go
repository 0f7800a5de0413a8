package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// CodeSnapshot extracts the partial value of the "code" key from an
// incomplete JSON object. Structured code generation streams text like
//
//	{"code": "package main\nfunc ...
//
// and the client wants the decoded string so far after every chunk, not the
// raw JSON. Returns false until the opening quote of the value has arrived.
func CodeSnapshot(raw string) (string, bool) {
	idx := strings.Index(raw, `"code"`)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(`"code"`):]

	// Skip to the colon, then to the opening quote.
	rest = strings.TrimLeft(rest, " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}

	return decodePartialString(rest[1:]), true
}

// decodePartialString decodes JSON string content up to the closing quote or
// the end of input. A trailing incomplete escape sequence is dropped rather
// than decoded wrong.
func decodePartialString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			return b.String()
		case c == '\\':
			if i+1 >= len(s) {
				return b.String()
			}
			esc := s[i+1]
			switch esc {
			case '"', '\\', '/':
				b.WriteByte(esc)
				i += 2
			case 'n':
				b.WriteByte('\n')
				i += 2
			case 't':
				b.WriteByte('\t')
				i += 2
			case 'r':
				b.WriteByte('\r')
				i += 2
			case 'b':
				b.WriteByte('\b')
				i += 2
			case 'f':
				b.WriteByte('\f')
				i += 2
			case 'u':
				if i+6 > len(s) {
					return b.String()
				}
				n, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
				if err != nil {
					i += 6
					continue
				}
				r := rune(n)
				if utf16.IsSurrogate(r) && i+12 <= len(s) && s[i+6] == '\\' && s[i+7] == 'u' {
					n2, err := strconv.ParseUint(s[i+8:i+12], 16, 32)
					if err == nil {
						r = utf16.DecodeRune(r, rune(n2))
						b.WriteRune(r)
						i += 12
						continue
					}
				}
				b.WriteRune(r)
				i += 6
			default:
				i += 2
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// ArrayDecoder incrementally parses a streamed top-level JSON array, emitting
// each element as soon as it is complete. Feed accepts text in arbitrary
// chunk boundaries.
type ArrayDecoder struct {
	buf       []byte
	started   bool
	done      bool
	pos       int
	depth     int
	inString  bool
	escaped   bool
	elemStart int
}

// NewArrayDecoder creates a decoder positioned before the opening bracket.
func NewArrayDecoder() *ArrayDecoder {
	return &ArrayDecoder{elemStart: -1}
}

// Feed appends chunk to the stream and returns any elements completed by it.
func (d *ArrayDecoder) Feed(chunk string) ([]json.RawMessage, error) {
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, chunk...)

	var elements []json.RawMessage
	for ; d.pos < len(d.buf); d.pos++ {
		c := d.buf[d.pos]

		if !d.started {
			if c == '[' {
				d.started = true
			}
			continue
		}

		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case c == '\\':
				d.escaped = true
			case c == '"':
				d.inString = false
				if d.depth == 0 && d.elemStart >= 0 {
					// A bare string element closes on its quote.
					elements = append(elements, d.take(d.pos+1))
				}
			}
			continue
		}

		switch c {
		case '"':
			d.inString = true
			if d.elemStart < 0 {
				d.elemStart = d.pos
			}
		case '{', '[':
			if d.elemStart < 0 {
				d.elemStart = d.pos
			}
			d.depth++
		case '}', ']':
			if d.depth > 0 {
				d.depth--
				if d.depth == 0 && d.elemStart >= 0 {
					elements = append(elements, d.take(d.pos + 1))
				}
				continue
			}
			if c == ']' {
				// Closing bracket of the top-level array. A trailing
				// scalar element ends here too.
				if d.elemStart >= 0 {
					elements = append(elements, d.take(d.pos))
				}
				d.done = true
				return elements, nil
			}
			return nil, fmt.Errorf("unbalanced bracket at offset %d", d.pos)
		case ',':
			if d.depth == 0 && d.elemStart >= 0 {
				elements = append(elements, d.take(d.pos))
			}
		case ' ', '\t', '\r', '\n':
		default:
			// Start of a number, true, false, or null.
			if d.depth == 0 && d.elemStart < 0 {
				d.elemStart = d.pos
			}
		}
	}
	return elements, nil
}

// Done reports whether the closing bracket has been consumed.
func (d *ArrayDecoder) Done() bool {
	return d.done
}

// take slices out the element ending at end and resets element tracking.
func (d *ArrayDecoder) take(end int) json.RawMessage {
	elem := bytes.TrimSpace(d.buf[d.elemStart:end])
	d.elemStart = -1
	out := make(json.RawMessage, len(elem))
	copy(out, elem)
	return out
}

// DecodeStringArray parses a complete JSON array of strings. Model output
// sometimes wraps the array in markdown fences; those are stripped first.
func DecodeStringArray(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var out []string
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, fmt.Errorf("decoding string array: %w", err)
	}
	return out, nil
}
