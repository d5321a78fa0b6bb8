package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MinSynopsisLength is the shortest synopsis, in characters, worth sending
// to the model.
const MinSynopsisLength = 20

var ErrSynopsisTooShort = fmt.Errorf("synopsis must be at least %d characters", MinSynopsisLength)

const suggestSystemPrompt = `You help fiction authors develop a book from its synopsis.
Answer with a single JSON object and nothing else:
{"titles": [up to 3 title ideas], "logline": "one sentence pitch", "chapters": [up to 5 short chapter ideas]}`

// SuggestRequest is the author's input.
type SuggestRequest struct {
	Title    string `json:"title,omitempty"`
	Synopsis string `json:"synopsis"`
}

// Suggestions is a model answer decoded into parts an editor can show.
type Suggestions struct {
	Titles   []string `json:"titles"`
	Logline  string   `json:"logline"`
	Chapters []string `json:"chapters"`
	// Raw holds the model text when it did not follow the JSON shape.
	Raw string `json:"raw,omitempty"`
}

type Suggester struct {
	gen TextGenerator
}

func NewSuggester(gen TextGenerator) *Suggester {
	return &Suggester{gen: gen}
}

func (s *Suggester) Suggest(ctx context.Context, req SuggestRequest) (Suggestions, error) {
	synopsis := strings.TrimSpace(req.Synopsis)
	if utf8.RuneCountInString(synopsis) < MinSynopsisLength {
		return Suggestions{}, ErrSynopsisTooShort
	}
	if s.gen == nil {
		return Suggestions{}, errors.New("suggestions not configured")
	}
	var prompt strings.Builder
	if t := strings.TrimSpace(req.Title); t != "" {
		prompt.WriteString("Working title: ")
		prompt.WriteString(t)
		prompt.WriteString("\n")
	}
	prompt.WriteString("Synopsis:\n")
	prompt.WriteString(synopsis)

	text, err := s.gen.GenerateText(ctx, suggestSystemPrompt, prompt.String())
	if err != nil {
		return Suggestions{}, fmt.Errorf("generate suggestions: %w", err)
	}
	return parseSuggestions(text), nil
}

func parseSuggestions(text string) Suggestions {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	var out Suggestions
	if err := json.Unmarshal([]byte(body), &out); err == nil {
		out.Titles = cleanList(out.Titles)
		out.Chapters = cleanList(out.Chapters)
		out.Logline = strings.TrimSpace(out.Logline)
		if len(out.Titles) > 0 || len(out.Chapters) > 0 || out.Logline != "" {
			return out
		}
	}

	// Plain text answer: treat each non-empty line as a chapter idea.
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return Suggestions{Chapters: lines, Raw: strings.TrimSpace(text)}
}

func cleanList(items []string) []string {
	out := items[:0]
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
