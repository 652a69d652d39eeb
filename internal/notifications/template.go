package notifications

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// MessageData is what a review request template can reference.
type MessageData struct {
	FirstName    string
	CustomerName string
	LocationName string
	Provider     string
}

// Renderer renders the configured review request template.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the template once. Missing keys fail the render.
func NewRenderer(text string) (*Renderer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message template is empty")
	}
	tmpl, err := template.New("review_request").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse message template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(data MessageData) (string, error) {
	if data.FirstName == "" {
		data.FirstName = "there"
	}
	if data.LocationName == "" {
		data.LocationName = "us"
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render message: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
