package script

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is one unit of speech: one synthesis call.
type Segment struct {
	Text    string  `json:"text"`
	VoiceID *string `json:"voice_id"`
	Actor   *string `json:"actor"`
}

// Voice returns the segment's voice ID, or fallback when none was given.
func (s Segment) Voice(fallback string) string {
	if s.VoiceID != nil && *s.VoiceID != "" {
		return *s.VoiceID
	}
	return fallback
}

// ParseError reports malformed script input. No job is created for it.
type ParseError struct {
	Message string
	Trace   []string
}

func (e *ParseError) Error() string {
	return e.Message
}

// Parse normalizes raw text, a JSON array of segments, or a JSON object with a
// "script" key into an ordered list of segments.
func Parse(input string) ([]Segment, error) {
	segments, _, err := ParseWithTrace(input)
	return segments, err
}

// ParseWithTrace is Parse plus the processing notes collected along the way.
func ParseWithTrace(input string) ([]Segment, []string, error) {
	trace := []string{"Parsing script input"}
	trimmed := strings.TrimSpace(input)

	switch {
	case strings.HasPrefix(trimmed, "["):
		trace = append(trace, "Input looks like a JSON array")
		var elems []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &elems); err != nil {
			return nil, trace, invalidJSON(err, trace)
		}
		return parseElements(elems, trace)

	case strings.HasPrefix(trimmed, "{"):
		trace = append(trace, "Input looks like a JSON object")
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, trace, invalidJSON(err, trace)
		}
		raw, ok := obj["script"]
		if !ok || isNull(raw) {
			trace = append(trace, "No 'script' key, treating as empty script")
			return []Segment{}, trace, nil
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, trace, &ParseError{Message: "Field 'script' must be an array of segments", Trace: trace}
		}
		return parseElements(elems, trace)

	default:
		if trimmed == "" {
			return nil, trace, &ParseError{Message: "script is empty", Trace: trace}
		}
		trace = append(trace, "Input is plain text, using a single segment")
		return []Segment{{Text: trimmed}}, trace, nil
	}
}

func parseElements(elems []json.RawMessage, trace []string) ([]Segment, []string, error) {
	segments := make([]Segment, 0, len(elems))
	for i, raw := range elems {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			trace = append(trace, fmt.Sprintf("Skipping element %d: not an object", i))
			continue
		}

		text, err := stringField(fields, "text")
		if err != nil {
			return nil, trace, &ParseError{
				Message: fmt.Sprintf("Invalid field 'text' in script element %d: %v", i, err),
				Trace:   trace,
			}
		}
		if text == nil || strings.TrimSpace(*text) == "" {
			return nil, trace, &ParseError{
				Message: fmt.Sprintf("Missing required field 'text' in script element %d", i),
				Trace:   trace,
			}
		}

		voiceID, err := stringField(fields, "voice_id")
		if err != nil {
			return nil, trace, &ParseError{
				Message: fmt.Sprintf("Invalid field 'voice_id' in script element %d: %v", i, err),
				Trace:   trace,
			}
		}
		actor, err := stringField(fields, "actor")
		if err != nil {
			return nil, trace, &ParseError{
				Message: fmt.Sprintf("Invalid field 'actor' in script element %d: %v", i, err),
				Trace:   trace,
			}
		}

		seg := Segment{Text: strings.TrimSpace(*text), VoiceID: voiceID, Actor: actor}
		trace = append(trace, fmt.Sprintf("Parsed element %d (actor=%s, voice=%s)", i, deref(actor), deref(voiceID)))
		segments = append(segments, seg)
	}
	trace = append(trace, fmt.Sprintf("Parsed %d segments", len(segments)))
	return segments, trace, nil
}

// stringField returns nil for an absent or null field. Empty optional fields
// are also nil; empty text is left for the caller to reject.
func stringField(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected a string")
	}
	if key != "text" && s == "" {
		return nil, nil
	}
	return &s, nil
}

func invalidJSON(err error, trace []string) error {
	return &ParseError{Message: fmt.Sprintf("Invalid JSON format: %v", err), Trace: trace}
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// TotalChars sums segment text lengths.
func TotalChars(segments []Segment) int {
	n := 0
	for _, s := range segments {
		n += len(s.Text)
	}
	return n
}
