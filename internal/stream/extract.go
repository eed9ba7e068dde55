package stream

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind classifies what a payload contributes to a response.
type Kind int

const (
	// KindNone means the payload contributes nothing.
	KindNone Kind = iota
	// KindText is a text delta to append to the message. The text may be empty or whitespace.
	KindText
	// KindStatus is a side-channel list of "currently analyzing" texts that must not reach the message.
	KindStatus
)

// Delta is the classification of one payload.
type Delta struct {
	Kind   Kind
	Text   string
	Status []string
}

// Text-bearing fields of object payloads, in priority order.
var textFields = []string{"text", "message", "content", "response"}

const statusField = "dynamic_loading_text"

// Extract classifies the payload of one "data: " line. It never fails: a payload that does not parse as
// JSON is literal text, and shapes it does not recognize contribute nothing.
func Extract(payload string) Delta {
	if strings.TrimSpace(payload) == "" {
		return Delta{Kind: KindText, Text: payload}
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return Delta{Kind: KindText, Text: payload}
	}

	switch val := v.(type) {
	case nil:
		return Delta{}
	case []any:
		return statusDelta(val)
	case map[string]any:
		return objectDelta(val)
	default:
		if s, ok := scalarText(val); ok {
			return Delta{Kind: KindText, Text: s}
		}
		return Delta{}
	}
}

func objectDelta(obj map[string]any) Delta {
	if raw, ok := obj[statusField]; ok {
		switch st := raw.(type) {
		case string:
			return statusDelta([]any{st})
		case []any:
			return statusDelta(st)
		default:
			return Delta{}
		}
	}

	for _, f := range textFields {
		if s, ok := obj[f].(string); ok {
			return Delta{Kind: KindText, Text: s}
		}
	}

	// A non-string "text" value still stringifies when it is a scalar.
	if s, ok := scalarText(obj["text"]); ok {
		return Delta{Kind: KindText, Text: s}
	}

	return Delta{}
}

func statusDelta(items []any) Delta {
	var texts []string
	for _, it := range items {
		s, ok := scalarText(it)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		texts = append(texts, s)
	}
	if len(texts) == 0 {
		return Delta{}
	}
	return Delta{Kind: KindStatus, Status: texts}
}

func scalarText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
