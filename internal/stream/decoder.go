package stream

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DataPrefix marks the event-stream lines that carry a payload.
const DataPrefix = "data: "

// DoneSentinel is the payload some backends send as an explicit end of stream.
const DoneSentinel = "[DONE]"

// Decoder turns raw byte chunks of a response body into complete text lines. Chunks may be split at any
// byte, including in the middle of a multi-byte character or between "\r" and "\n". Incomplete
// trailing characters and the unterminated tail of the last line are retained for the next Write.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	t transform.Transformer

	pending []byte
	line    strings.Builder
}

// NewDecoder creates a decoder with empty leftover state.
func NewDecoder() *Decoder {
	return &Decoder{
		t: unicode.UTF8.NewDecoder(),
	}
}

// Write decodes p and returns every line completed by it, in arrival order. Lines are returned without
// their terminator; a trailing "\r" is dropped as well.
func (d *Decoder) Write(p []byte) []string {
	text := d.decode(p, false)
	if text == "" {
		return nil
	}

	d.line.WriteString(text)
	if !strings.Contains(text, "\n") {
		return nil
	}

	parts := strings.Split(d.line.String(), "\n")
	rest := parts[len(parts)-1]
	lines := parts[:len(parts)-1]
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	d.line.Reset()
	d.line.WriteString(rest)

	return lines
}

// Close ends the stream. The retained fragment of an unterminated line is never emitted as a line:
// it is returned only so callers can log what was dropped. The decoder is reset for reuse.
func (d *Decoder) Close() string {
	d.line.WriteString(d.decode(nil, true))
	discarded := d.line.String()

	d.line.Reset()
	d.pending = d.pending[:0]
	d.t.Reset()

	return discarded
}

func (d *Decoder) decode(p []byte, atEOF bool) string {
	src := make([]byte, 0, len(d.pending)+len(p))
	src = append(src, d.pending...)
	src = append(src, p...)

	// An ill-formed byte expands to a 3-byte replacement character.
	dst := make([]byte, 3*len(src)+4)
	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]
		if err == transform.ErrShortDst && nSrc > 0 {
			continue
		}
		break
	}
	d.pending = append(d.pending[:0], src...)

	return out.String()
}
