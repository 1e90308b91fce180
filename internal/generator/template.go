package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TemplateGenerator builds a deterministic lesson without any external
// service. Used for local development and demos when no provider is set.
type TemplateGenerator struct{}

type templateSlide struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Bullets []string `json:"bullets,omitempty"`
}

// Generate implements Generator. Output is wrapped in prose the same way
// chat models tend to answer.
func (TemplateGenerator) Generate(ctx context.Context, topic string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	topic = strings.TrimSpace(topic)
	lesson := struct {
		Title    string          `json:"title"`
		Slides   []templateSlide `json:"slides"`
		Duration int             `json:"duration_minutes"`
	}{
		Title: fmt.Sprintf("%s in 5 Minutes", topic),
		Slides: []templateSlide{
			{
				Title:   "What it is",
				Content: fmt.Sprintf("%s is easier once you know the one idea everything else builds on. Start small.", topic),
			},
			{
				Title:   "Key ideas",
				Content: fmt.Sprintf("Keep these in mind while working with %s.", topic),
				Bullets: []string{
					"Read the error message slowly, it usually names the problem",
					"Reduce the example until it is as small as possible",
					"Change one thing at a time and observe the result",
				},
			},
			{
				Title:   "Try it",
				Content: fmt.Sprintf("Write the smallest program that uses %s, then extend it step by step.", topic),
			},
		},
		Duration: 5,
	}

	body, err := json.Marshal(lesson)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Here is a short lesson on %s:\n%s\nYou've got this!", topic, body), nil
}
