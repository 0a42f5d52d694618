package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
)

// parseInputLimit caps how much of a pasted module description goes
// into the extraction prompt.
const parseInputLimit = 8000

// ExternalModule is the structured form of a free-text module
// description from another institution. ParseError marks the fallback
// produced when the model response was not usable JSON; RawText then
// carries the original input for manual handling.
type ExternalModule struct {
	Title         string   `json:"title"`
	Credits       *float64 `json:"credits"`
	Workload      string   `json:"workload,omitempty"`
	LearningGoals []string `json:"learning_goals,omitempty"`
	Assessment    string   `json:"assessment,omitempty"`
	Level         string   `json:"level,omitempty"`
	Institution   string   `json:"institution,omitempty"`
	RawText       string   `json:"raw_text,omitempty"`
	ParseError    bool     `json:"parse_error,omitempty"`
}

const parseSystemPrompt = `Du bist ein Assistent, der Modulbeschreibungen von Hochschulen analysiert. Extrahiere die Kerninformationen aus der Beschreibung und antworte ausschliesslich mit einem JSON-Objekt in genau diesem Format:

{
  "title": "Modultitel",
  "credits": 6.0,
  "workload": "z.B. 180 Stunden",
  "learning_goals": ["Lernziel 1", "Lernziel 2"],
  "assessment": "Pruefungsform, z.B. Klausur",
  "level": "Bachelor oder Master, falls erkennbar",
  "institution": "Name der Hochschule, falls genannt"
}

Fehlende Angaben: fuer Strings "", fuer credits null, fuer learning_goals []. Erfinde keine Informationen.`

// Parse extracts structured fields from a free-text external module
// description. Provider failures are returned as errors; a response
// that is not valid JSON yields a fallback ExternalModule with
// ParseError set rather than an error, so callers can still show the
// user something.
func (m *Matcher) Parse(ctx context.Context, text string) (*ExternalModule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}

	input := cutRunes(text, parseInputLimit)

	resp, err := m.generator.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: parseSystemPrompt},
			{Role: "user", Content: "Modulbeschreibung:\n\n" + input},
		},
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("parsing module description: %w", err)
	}

	raw, ok := extractJSON(resp.Content)
	if !ok {
		m.log.Warn("parse: no JSON in model response, using fallback")
		return parseFallback(text), nil
	}

	var mod ExternalModule
	if err := json.Unmarshal([]byte(raw), &mod); err != nil {
		m.log.Warn("parse: malformed JSON from model, using fallback", "error", err)
		return parseFallback(text), nil
	}
	if mod.Title == "" {
		mod.Title = "Unbekannt"
	}
	return &mod, nil
}

func parseFallback(text string) *ExternalModule {
	return &ExternalModule{
		Title:      "Unbekannt",
		RawText:    cutRunes(text, 2000),
		ParseError: true,
	}
}

// QueryText renders the parsed module back into retrieval text. Used
// by the combined parse-then-match flow.
func (e *ExternalModule) QueryText() string {
	var b strings.Builder
	b.WriteString(e.Title)
	if len(e.LearningGoals) > 0 {
		b.WriteString("\n\nLernziele:\n")
		b.WriteString(strings.Join(e.LearningGoals, "\n"))
	}
	if e.Workload != "" {
		b.WriteString("\n\nWorkload: ")
		b.WriteString(e.Workload)
	}
	if e.Assessment != "" {
		b.WriteString("\nPruefungsform: ")
		b.WriteString(e.Assessment)
	}
	return b.String()
}
