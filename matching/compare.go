package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/index"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/llm"
)

// GoalCoverage records how one external learning goal maps onto the
// catalog unit.
type GoalCoverage struct {
	Lernziel  string `json:"lernziel"`
	Status    string `json:"status"` // abgedeckt, teilweise, nicht_abgedeckt
	Anmerkung string `json:"anmerkung"`
}

// CreditComparison holds the ECTS comparison between the external
// module and the catalog unit.
type CreditComparison struct {
	Extern    float64 `json:"extern"`
	Intern    float64 `json:"intern"`
	Bewertung string  `json:"bewertung"` // ok, problem
}

// Verdict is a structured recognition assessment for one catalog unit.
// The fields up to Fazit come from the model under a strict schema;
// the remainder is enriched from index metadata after validation.
type Verdict struct {
	UnitID           string           `json:"unit_id"`
	LernzieleMatch   int              `json:"lernziele_match"` // 0-100
	Empfehlung       string           `json:"empfehlung"`      // vollstaendig, teilweise, keine
	LernzielAbgleich []GoalCoverage   `json:"lernziel_abgleich"`
	Credits          CreditComparison `json:"credits"`
	Niveau           string           `json:"niveau"`
	Pruefungsform    string           `json:"pruefungsform"`
	Workload         string           `json:"workload"`
	Defizite         []string         `json:"defizite"`
	Fazit            string           `json:"fazit"`

	UnitTitle       string `json:"unit_title,omitempty"`
	ModuleTitle     string `json:"module_title,omitempty"`
	UnitCredits     string `json:"unit_credits,omitempty"`
	UnitSWS         string `json:"unit_sws,omitempty"`
	UnitWorkload    string `json:"unit_workload,omitempty"`
	Verantwortliche string `json:"verantwortliche,omitempty"`
}

// CandidateError reports a per-candidate failure inside a batch
// comparison. Failures are isolated: one candidate erroring does not
// void the others' verdicts.
type CandidateError struct {
	UnitID string `json:"unit_id"`
	Error  string `json:"error"`
}

// CompareTiming breaks down where a comparison spent its time, in
// milliseconds.
type CompareTiming struct {
	StoreFetchMs int64 `json:"store_fetch_ms"`
	LLMWallMs    int64 `json:"llm_wall_ms"`
	LLMAvgCallMs int64 `json:"llm_avg_call_ms"`
	TotalMs      int64 `json:"total_ms"`
}

// CompareOutcome is the result of a batch comparison. UnresolvedIDs
// lists requested unit ids absent from the index; Error carries a
// human-readable marker when no candidate could be resolved at all.
type CompareOutcome struct {
	Verdicts      []Verdict        `json:"verdicts"`
	Errors        []CandidateError `json:"errors,omitempty"`
	UnresolvedIDs []string         `json:"unresolved_ids,omitempty"`
	Error         string           `json:"error,omitempty"`
	Timing        CompareTiming    `json:"timing"`
}

const assessmentCriteria = `Bewertungskriterien fuer die Anerkennung:
- "vollstaendig": mindestens 80% der Lernziele sind abgedeckt und die Credits passen.
- "teilweise": mindestens 50% der Lernziele sind abgedeckt.
- "keine": weniger als 50% der Lernziele sind abgedeckt.
- Credits: "ok" wenn die externen Credits groesser oder gleich den internen sind oder hoechstens etwa 10% darunter liegen, sonst "problem".
- Nenne konkrete Defizite (maximal 5), falls Lernziele fehlen oder nur teilweise abgedeckt sind.
- Sei kritisch und erfinde keine Abdeckung, die aus der Beschreibung nicht hervorgeht.`

const compareSystemPrompt = `Du bist ein Pruefer fuer die Anerkennung extern erbrachter Studienleistungen an einer Hochschule. Du vergleichst ein externes Modul mit einer internen Lehrveranstaltung (Unit) und gibst eine strukturierte Einschaetzung ab.

` + assessmentCriteria + `

Antworte ausschliesslich mit einem JSON-Objekt nach dem vorgegebenen Schema.`

// verdictSchema constrains the model output. Enums and required
// fields are enforced provider-side where json_schema mode is
// supported; validateVerdict re-checks regardless.
var verdictSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "unit_id": {"type": "string"},
    "lernziele_match": {"type": "integer", "minimum": 0, "maximum": 100},
    "empfehlung": {"type": "string", "enum": ["vollstaendig", "teilweise", "keine"]},
    "lernziel_abgleich": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "lernziel": {"type": "string"},
          "status": {"type": "string", "enum": ["abgedeckt", "teilweise", "nicht_abgedeckt"]},
          "anmerkung": {"type": "string"}
        },
        "required": ["lernziel", "status", "anmerkung"],
        "additionalProperties": false
      }
    },
    "credits": {
      "type": "object",
      "properties": {
        "extern": {"type": "number"},
        "intern": {"type": "number"},
        "bewertung": {"type": "string", "enum": ["ok", "problem"]}
      },
      "required": ["extern", "intern", "bewertung"],
      "additionalProperties": false
    },
    "niveau": {"type": "string"},
    "pruefungsform": {"type": "string"},
    "workload": {"type": "string"},
    "defizite": {"type": "array", "items": {"type": "string"}, "maxItems": 5},
    "fazit": {"type": "string"}
  },
  "required": ["unit_id", "lernziele_match", "empfehlung", "lernziel_abgleich", "credits", "niveau", "pruefungsform", "workload", "defizite", "fazit"],
  "additionalProperties": false
}`)

// CompareMany assesses the external module against the given catalog
// units in parallel. Candidates missing from the index are reported in
// UnresolvedIDs; per-candidate LLM failures land in Errors while the
// surviving verdicts are still returned, ordered by the input ids.
func (m *Matcher) CompareMany(ctx context.Context, external *ExternalModule, unitIDs []string) (*CompareOutcome, error) {
	if external == nil {
		return nil, fmt.Errorf("compare: external module is nil")
	}
	if len(unitIDs) == 0 {
		return nil, fmt.Errorf("compare: no unit ids given")
	}

	total := time.Now()

	fetchStart := time.Now()
	entries, err := m.index.Get(ctx, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates: %w", err)
	}
	fetchMs := time.Since(fetchStart).Milliseconds()

	found := make(map[string]bool, len(entries))
	for _, e := range entries {
		found[e.ID] = true
	}
	var unresolved []string
	for _, id := range unitIDs {
		if !found[id] {
			unresolved = append(unresolved, id)
		}
	}

	outcome := &CompareOutcome{UnresolvedIDs: unresolved}
	if len(entries) == 0 {
		outcome.Error = "no candidates resolved"
		outcome.Timing = CompareTiming{StoreFetchMs: fetchMs, TotalMs: time.Since(total).Milliseconds()}
		return outcome, nil
	}

	type result struct {
		pos     int
		verdict *Verdict
		err     error
		callMs  int64
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]result, 0, len(entries))
	)
	sem := make(chan struct{}, m.concurrency)

	llmStart := time.Now()
	for i, entry := range entries {
		wg.Add(1)
		go func(pos int, e index.Entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			callStart := time.Now()
			v, err := m.compareEntry(callCtx, external, e)
			mu.Lock()
			results = append(results, result{pos: pos, verdict: v, err: err, callMs: time.Since(callStart).Milliseconds()})
			mu.Unlock()
		}(i, entry)
	}
	wg.Wait()
	llmMs := time.Since(llmStart).Milliseconds()

	sort.Slice(results, func(a, b int) bool { return results[a].pos < results[b].pos })

	var callTotal int64
	for _, r := range results {
		callTotal += r.callMs
		if r.err != nil {
			m.log.Warn("compare: candidate failed", "unit_id", entries[r.pos].ID, "error", r.err)
			outcome.Errors = append(outcome.Errors, CandidateError{UnitID: entries[r.pos].ID, Error: r.err.Error()})
			continue
		}
		outcome.Verdicts = append(outcome.Verdicts, *r.verdict)
	}

	outcome.Timing = CompareTiming{
		StoreFetchMs: fetchMs,
		LLMWallMs:    llmMs,
		LLMAvgCallMs: callTotal / int64(len(results)),
		TotalMs:      time.Since(total).Milliseconds(),
	}

	m.log.Info("compare: batch complete",
		"requested", len(unitIDs),
		"verdicts", len(outcome.Verdicts),
		"errors", len(outcome.Errors),
		"unresolved", len(unresolved),
		"llm_wall_ms", llmMs,
	)
	return outcome, nil
}

// CompareOne assesses the external module against a single catalog
// unit. Unlike CompareMany, a missing unit or LLM failure is returned
// as an error.
func (m *Matcher) CompareOne(ctx context.Context, external *ExternalModule, unitID string) (*Verdict, error) {
	if external == nil {
		return nil, fmt.Errorf("compare: external module is nil")
	}
	entries, err := m.index.Get(ctx, []string{unitID})
	if err != nil {
		return nil, fmt.Errorf("fetching candidate: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.compareEntry(callCtx, external, entries[0])
}

func (m *Matcher) compareEntry(ctx context.Context, external *ExternalModule, entry index.Entry) (*Verdict, error) {
	externalJSON, err := json.Marshal(external)
	if err != nil {
		return nil, fmt.Errorf("encoding external module: %w", err)
	}

	var prompt strings.Builder
	prompt.WriteString("Externes Modul (JSON):\n")
	prompt.Write(externalJSON)
	prompt.WriteString("\n\nInterne Lehrveranstaltung (unit_id: ")
	prompt.WriteString(entry.ID)
	prompt.WriteString("):\n\n")
	prompt.WriteString(entry.Document)
	prompt.WriteString("\n\nVergleiche das externe Modul mit dieser Lehrveranstaltung.")

	resp, err := m.generator.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: compareSystemPrompt},
			{Role: "user", Content: prompt.String()},
		},
		ResponseFormat: "json_schema",
		ResponseSchema: verdictSchema,
		SchemaName:     "anerkennung_verdict",
	})
	if err != nil {
		return nil, err
	}

	raw, ok := extractJSON(resp.Content)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrSchemaViolation)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := validateVerdict(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	// The model echoes unit_id but the stored id is authoritative.
	v.UnitID = entry.ID
	enrichVerdict(&v, entry.Metadata)
	return &v, nil
}

// validateVerdict re-checks the schema constraints locally. Providers
// without strict json_schema support (ollama, some gateways) can
// return out-of-range or off-enum values even with a well-behaved
// prompt.
func validateVerdict(v *Verdict) error {
	if v.LernzieleMatch < 0 {
		v.LernzieleMatch = 0
	}
	if v.LernzieleMatch > 100 {
		v.LernzieleMatch = 100
	}
	switch v.Empfehlung {
	case "vollstaendig", "teilweise", "keine":
	default:
		return fmt.Errorf("invalid empfehlung %q", v.Empfehlung)
	}
	switch v.Credits.Bewertung {
	case "ok", "problem":
	default:
		return fmt.Errorf("invalid credits bewertung %q", v.Credits.Bewertung)
	}
	for i, g := range v.LernzielAbgleich {
		switch g.Status {
		case "abgedeckt", "teilweise", "nicht_abgedeckt":
		default:
			return fmt.Errorf("invalid lernziel status %q at index %d", g.Status, i)
		}
	}
	if len(v.Defizite) > 5 {
		v.Defizite = v.Defizite[:5]
	}
	return nil
}

func enrichVerdict(v *Verdict, meta index.Metadata) {
	v.UnitTitle = meta.UnitTitle
	v.ModuleTitle = meta.ModuleTitle
	v.UnitCredits = meta.Credits
	v.UnitSWS = meta.SWS
	v.UnitWorkload = meta.Workload
	v.Verantwortliche = meta.Verantwortliche
}
