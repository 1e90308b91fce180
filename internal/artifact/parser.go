// Package artifact turns raw generator output into validated mini-lessons.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

// Parser converts raw generator output into an Artifact. Implementations
// return *domain.ArtifactParseError on failure.
type Parser interface {
	Parse(raw string) (domain.Artifact, error)
}

// BraceParser extracts the substring between the first '{' and the last '}'
// and decodes it. Generators tend to wrap their JSON in prose.
type BraceParser struct{}

// Parse implements Parser.
func (BraceParser) Parse(raw string) (domain.Artifact, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return domain.Artifact{}, &domain.ArtifactParseError{Reason: "no JSON object found", Raw: raw}
	}
	return decode(raw[start:end+1], raw)
}

// StrictParser requires the whole output to be a single JSON object, as
// produced by schema-constrained generation.
type StrictParser struct{}

// Parse implements Parser.
func (StrictParser) Parse(raw string) (domain.Artifact, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return domain.Artifact{}, &domain.ArtifactParseError{Reason: "output is not a JSON object", Raw: raw}
	}
	return decode(trimmed, raw)
}

// FallbackParser tries each parser in order and returns the first success.
// When all fail the last error is returned.
type FallbackParser []Parser

// Parse implements Parser.
func (f FallbackParser) Parse(raw string) (domain.Artifact, error) {
	err := error(&domain.ArtifactParseError{Reason: "no parsers configured", Raw: raw})
	for _, p := range f {
		var a domain.Artifact
		if a, err = p.Parse(raw); err == nil {
			return a, nil
		}
	}
	return domain.Artifact{}, err
}

// Default returns the parser chain used by the engine: strict first, then
// the brace heuristic.
func Default() Parser {
	return FallbackParser{StrictParser{}, BraceParser{}}
}

type wireSlide struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Body    string   `json:"body"`
	Bullets []string `json:"bullets"`
	Example string   `json:"example"`
}

type wireArtifact struct {
	Title           string            `json:"title"`
	Slides          []json.RawMessage `json:"slides"`
	DurationMinutes json.RawMessage   `json:"duration_minutes"`
}

func decode(payload, raw string) (domain.Artifact, error) {
	var w wireArtifact
	dec := json.NewDecoder(strings.NewReader(payload))
	if err := dec.Decode(&w); err != nil {
		return domain.Artifact{}, &domain.ArtifactParseError{Reason: "invalid JSON payload", Raw: raw, Err: err}
	}
	if dec.More() {
		return domain.Artifact{}, &domain.ArtifactParseError{Reason: "trailing data after JSON object", Raw: raw}
	}

	title := strings.TrimSpace(w.Title)
	if title == "" {
		return domain.Artifact{}, &domain.ArtifactParseError{Reason: "missing title", Raw: raw}
	}
	if len(w.Slides) == 0 {
		return domain.Artifact{}, &domain.ArtifactParseError{Reason: "missing slides", Raw: raw}
	}

	slides := make([]domain.Slide, 0, len(w.Slides))
	for i, rawSlide := range w.Slides {
		if !bytes.HasPrefix(bytes.TrimSpace(rawSlide), []byte("{")) {
			return domain.Artifact{}, &domain.ArtifactParseError{
				Reason: "slide is not an object",
				Raw:    raw,
				Err:    fmt.Errorf("slide %d", i),
			}
		}
		var s wireSlide
		if err := json.Unmarshal(rawSlide, &s); err != nil {
			return domain.Artifact{}, &domain.ArtifactParseError{Reason: "invalid slide", Raw: raw, Err: err}
		}
		content := s.Content
		if content == "" {
			content = s.Body
		}
		slides = append(slides, domain.Slide{
			Title:   s.Title,
			Content: content,
			Bullets: s.Bullets,
			Example: s.Example,
		})
	}

	return domain.Artifact{Title: title, Slides: slides, DurationMinutes: duration(w.DurationMinutes)}, nil
}

// duration accepts a number or a numeric string such as "5" or "5 minutes".
// Anything else falls back to the default.
func duration(raw json.RawMessage) float64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if fields := strings.Fields(s); len(fields) > 0 {
			if f, err := strconv.ParseFloat(fields[0], 64); err == nil && f > 0 {
				return f
			}
		}
	}
	return domain.DefaultDurationMinutes
}
