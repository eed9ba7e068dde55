package stream_test

import (
	"strings"
	"testing"

	"github.com/skyegpt/skyegpt-web/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const body = "data: Hi\n" +
	"data: {\"text\":\" thére\"}\r\n" +
	"\n" +
	"data: {\"dynamic_loading_text\":[\"Searching…\",\"Reading docs\"]}\n" +
	"data: \", 世界 👋\"\n" +
	"data: 42\n" +
	"data: unterminated"

func collect(t *testing.T, chunks [][]byte) ([]string, string) {
	t.Helper()

	dec := stream.NewDecoder()
	var lines []string
	for _, c := range chunks {
		lines = append(lines, dec.Write(c)...)
	}
	return lines, dec.Close()
}

func extractText(lines []string) string {
	var sb strings.Builder
	for _, l := range lines {
		payload, ok := strings.CutPrefix(l, stream.DataPrefix)
		if !ok {
			continue
		}
		if d := stream.Extract(payload); d.Kind == stream.KindText {
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}

func TestDecoderWholeBody(t *testing.T) {
	lines, discarded := collect(t, [][]byte{[]byte(body)})

	require.Equal(t, []string{
		"data: Hi",
		"data: {\"text\":\" thére\"}",
		"",
		"data: {\"dynamic_loading_text\":[\"Searching…\",\"Reading docs\"]}",
		"data: \", 世界 👋\"",
		"data: 42",
	}, lines)
	assert.Equal(t, "data: unterminated", discarded)
	assert.Equal(t, "Hi thére, 世界 👋42", extractText(lines))
}

func TestDecoderSplitAtEveryByte(t *testing.T) {
	raw := []byte(body)
	want, _ := collect(t, [][]byte{raw})

	for i := 0; i <= len(raw); i++ {
		got, _ := collect(t, [][]byte{raw[:i], raw[i:]})
		require.Equal(t, want, got, "split at byte %d", i)
	}

	single := make([][]byte, len(raw))
	for i := range raw {
		single[i] = raw[i : i+1]
	}
	got, _ := collect(t, single)
	assert.Equal(t, want, got)
	assert.Equal(t, extractText(want), extractText(got))
}

func TestDecoderDiscardsUnterminatedTail(t *testing.T) {
	dec := stream.NewDecoder()

	assert.Empty(t, dec.Write([]byte("data: par")))
	assert.Empty(t, dec.Write([]byte("tial")))
	assert.Equal(t, "data: partial", dec.Close())

	// The decoder is reusable after Close.
	assert.Equal(t, []string{"data: next"}, dec.Write([]byte("data: next\n")))
}

func TestDecoderIllFormedBytes(t *testing.T) {
	dec := stream.NewDecoder()

	lines := dec.Write([]byte{'d', 'a', 't', 'a', ':', ' ', 0xff, '\n'})
	require.Len(t, lines, 1)
	assert.Equal(t, "data: �", lines[0])

	// A truncated multi-byte character at the end of the stream never becomes part of a line.
	assert.Empty(t, dec.Write([]byte{0xe4, 0xb8}))
	assert.Equal(t, "�", dec.Close())
}
