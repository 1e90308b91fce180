// Package generator produces raw mini-lesson text for a topic.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
)

// Generator is the generative capability: topic in, raw lesson text out.
// Output is usually JSON but may be wrapped in prose; callers parse it.
type Generator interface {
	Generate(ctx context.Context, topic string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, topic string) (string, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, topic string) (string, error) { return f(ctx, topic) }

const systemPrompt = `You are a patient programming tutor. A learner is struggling and you create
short, focused mini-lessons that unblock them. Be concrete, use small code examples,
and avoid long theory. Answer with a single JSON object and nothing else.`

// BuildPrompt returns the user prompt asking for a lesson on topic.
func BuildPrompt(topic string) string {
	return fmt.Sprintf(`Create a mini-lesson about %q for a learner who is struggling with it.

Return a JSON object with:
- "title": a short lesson title
- "slides": 3 to 5 slides, each with "title", "content", optional "bullets" (list of strings) and optional "example" (code)
- "duration_minutes": estimated reading time in minutes (number)`, topic)
}

// lessonSchema constrains structured output to the artifact shape.
var lessonSchema = &jsonSchema{
	Type:                 "object",
	AdditionalProperties: false,
	Required:             []string{"title", "slides", "duration_minutes"},
	Properties: map[string]*jsonSchema{
		"title": {Type: "string", Description: "Short lesson title"},
		"duration_minutes": {
			Type:        "number",
			Description: "Estimated reading time in minutes",
		},
		"slides": {
			Type:        "array",
			Description: "Three to five slides in presentation order",
			Items: &jsonSchema{
				Type:                 "object",
				AdditionalProperties: false,
				Required:             []string{"title", "content", "bullets", "example"},
				Properties: map[string]*jsonSchema{
					"title":   {Type: "string"},
					"content": {Type: "string"},
					"bullets": {Type: "array", Items: &jsonSchema{Type: "string"}},
					"example": {Type: "string", Description: "Code example, empty when not applicable"},
				},
			},
		},
	},
}

// jsonSchema implements json.Marshaler for the JSON Schema response format.
// The alias type prevents infinite recursion during marshaling.
type jsonSchema struct {
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Items                *jsonSchema            `json:"items,omitempty"`
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}
