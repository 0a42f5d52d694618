package matching

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
)

func newParseMatcher(gen *fakeProvider) *Matcher {
	return NewMatcher(newFakeIndex(), &fakeProvider{}, gen, Options{}, nil)
}

func TestParseExtractsFields(t *testing.T) {
	gen := &fakeProvider{chatContent: `{
		"title": "Verwaltungsrecht I",
		"credits": 5,
		"workload": "150 Stunden",
		"learning_goals": ["Grundbegriffe kennen", "Faelle loesen"],
		"assessment": "Klausur",
		"level": "Bachelor",
		"institution": "Uni Hamburg"
	}`}
	m := newParseMatcher(gen)

	mod, err := m.Parse(context.Background(), "Verwaltungsrecht I, 5 CP, Klausur ...")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if mod.Title != "Verwaltungsrecht I" {
		t.Errorf("Title = %q", mod.Title)
	}
	if mod.Credits == nil || *mod.Credits != 5 {
		t.Errorf("Credits = %v", mod.Credits)
	}
	if len(mod.LearningGoals) != 2 {
		t.Errorf("LearningGoals = %v", mod.LearningGoals)
	}
	if mod.ParseError {
		t.Error("ParseError set on clean response")
	}
}

func TestParseFencedResponse(t *testing.T) {
	gen := &fakeProvider{chatContent: "```json\n{\"title\": \"Statistik\", \"credits\": null}\n```"}
	m := newParseMatcher(gen)

	mod, err := m.Parse(context.Background(), "Statistik fuer Sozialwissenschaften")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if mod.Title != "Statistik" {
		t.Errorf("Title = %q", mod.Title)
	}
	if mod.Credits != nil {
		t.Errorf("Credits = %v, want nil", mod.Credits)
	}
}

func TestParseMalformedFallsBack(t *testing.T) {
	input := strings.Repeat("Modulbeschreibung ", 200)
	gen := &fakeProvider{chatContent: "Das ist leider keine JSON-Antwort."}
	m := newParseMatcher(gen)

	mod, err := m.Parse(context.Background(), input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !mod.ParseError {
		t.Fatal("ParseError not set on fallback")
	}
	if mod.Title != "Unbekannt" {
		t.Errorf("Title = %q, want Unbekannt", mod.Title)
	}
	if len(mod.RawText) != 2000 {
		t.Errorf("RawText length = %d, want 2000", len(mod.RawText))
	}
}

func TestParseProviderErrorPropagates(t *testing.T) {
	gen := &fakeProvider{chatFn: func(llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("upstream 500")
	}}
	m := newParseMatcher(gen)

	if _, err := m.Parse(context.Background(), "irgendein Text"); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestParseEmptyInput(t *testing.T) {
	m := newParseMatcher(&fakeProvider{})
	if _, err := m.Parse(context.Background(), "  "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestParseTruncatesPromptInput(t *testing.T) {
	var captured string
	gen := &fakeProvider{chatFn: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req.Messages[len(req.Messages)-1].Content
		return &llm.ChatResponse{Content: `{"title": "X"}`}, nil
	}}
	m := newParseMatcher(gen)

	if _, err := m.Parse(context.Background(), strings.Repeat("a", 20000)); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(captured) > parseInputLimit+100 {
		t.Errorf("prompt carries %d bytes, input not truncated", len(captured))
	}
}

func TestParseTruncationKeepsValidUTF8(t *testing.T) {
	// Umlauts are two bytes each; a byte-based cut would land inside
	// a rune at both the prompt cap and the fallback cap.
	input := strings.Repeat("ä", parseInputLimit+500)

	var captured string
	gen := &fakeProvider{chatFn: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req.Messages[len(req.Messages)-1].Content
		return &llm.ChatResponse{Content: "keine JSON-Antwort"}, nil
	}}
	m := newParseMatcher(gen)

	mod, err := m.Parse(context.Background(), input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !utf8.ValidString(captured) {
		t.Error("prompt input contains invalid UTF-8")
	}
	if got := len([]rune(captured)) - len([]rune("Modulbeschreibung:\n\n")); got != parseInputLimit {
		t.Errorf("prompt carries %d input runes, want %d", got, parseInputLimit)
	}
	if !utf8.ValidString(mod.RawText) {
		t.Error("fallback raw text contains invalid UTF-8")
	}
	if got := len([]rune(mod.RawText)); got != 2000 {
		t.Errorf("fallback raw text = %d runes, want 2000", got)
	}
}

func TestQueryText(t *testing.T) {
	mod := &ExternalModule{
		Title:         "Organisationslehre",
		LearningGoals: []string{"Strukturen verstehen"},
		Workload:      "180 Stunden",
		Assessment:    "Hausarbeit",
	}
	q := mod.QueryText()
	for _, want := range []string{"Organisationslehre", "Lernziele:", "Strukturen verstehen", "180 Stunden", "Hausarbeit"} {
		if !strings.Contains(q, want) {
			t.Errorf("QueryText missing %q:\n%s", want, q)
		}
	}
}
