package domain

// DefaultDurationMinutes is used when a generated lesson omits its duration.
const DefaultDurationMinutes = 5

// Slide is one step of a mini-lesson. Order within Artifact.Slides is the
// presentation order.
type Slide struct {
	Title   string   `json:"title"`
	Content string   `json:"content,omitempty"`
	Bullets []string `json:"bullets,omitempty"`
	Example string   `json:"example,omitempty"`
}

// Artifact is a generated mini-lesson.
type Artifact struct {
	Title           string  `json:"title"`
	Slides          []Slide `json:"slides"`
	DurationMinutes float64 `json:"duration_minutes"`
}
