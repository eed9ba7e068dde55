package stream

import "strings"

// Accumulator is the owned buffer a response is assembled into. It is created once per attempt and
// handed to the read loop by pointer.
type Accumulator struct {
	sb       strings.Builder
	produced bool
	deltas   int
}

// Append adds a text delta. Empty deltas still mark the stream as having produced output.
func (a *Accumulator) Append(delta string) {
	a.sb.WriteString(delta)
	a.produced = true
	a.deltas++
}

// String returns the text accumulated so far.
func (a *Accumulator) String() string {
	return a.sb.String()
}

// Empty reports whether the accumulated text is empty or whitespace only.
func (a *Accumulator) Empty() bool {
	return strings.TrimSpace(a.sb.String()) == ""
}

// Produced reports whether any text delta, even an empty one, was appended.
func (a *Accumulator) Produced() bool {
	return a.produced
}

// Deltas returns the number of text deltas appended.
func (a *Accumulator) Deltas() int {
	return a.deltas
}

// Reset clears the accumulator for a new attempt.
func (a *Accumulator) Reset() {
	a.sb.Reset()
	a.produced = false
	a.deltas = 0
}
