package memengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ExtractionModel is the external collaborator boundary for the extraction
// pipeline: a model endpoint that turns a prompt into a structured-output
// response. Its wire format is out of scope; the Extractor only consumes
// Complete(prompt) -> raw JSON text, exactly the narrow boundary described
// for the extraction model in the design notes.
type ExtractionModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ExtractionSchema is the JSON Schema handed to an ExtractionModel that
// supports structured output, describing the fixed record shape {type,
// content, explicit, mentions, contradiction_marker, corrective, rationale}
// that downstream code validates before use.
const ExtractionSchema = `{"type":"array","items":{"type":"object","properties":{` +
	`"type":{"type":"string"},` +
	`"content":{"type":"string"},` +
	`"explicit":{"type":"boolean"},` +
	`"mentions":{"type":"integer"},` +
	`"contradiction_marker":{"type":"boolean"},` +
	`"corrective":{"type":"boolean"},` +
	`"rationale":{"type":"string"}` +
	`},"required":["type","content"]}}`

// ExtractionPrompt is the system prompt describing the extraction task to
// the model, grounded in the teacher's fact-extraction prompt but emitting
// the richer confidence-signal record this engine's scorer needs instead
// of a pre-computed confidence number.
const ExtractionPrompt = `You are a memory extraction system. Given a conversation transcript, extract durable claims worth remembering about the participants, their environment, and their stated facts.

For each claim, emit an object with:
- "type": a lowercase snake_case label describing domain + aspect + kind in 2-5 tokens (e.g. "proxmox_cluster_node_configuration"). Never reuse a fixed category list; invent a fresh label per claim.
- "content": a single, concise statement of the claim, in your own words.
- "explicit": true if the claim was stated outright rather than inferred.
- "mentions": how many times this claim (or a paraphrase of it) recurs in the transcript.
- "contradiction_marker": true if the speaker hedges, corrects themselves, or expresses uncertainty about this claim.
- "corrective": true if this claim explicitly supersedes or corrects something said earlier in the transcript.
- "rationale": one short phrase justifying the extraction.

Return a JSON array. Return [] if nothing is worth remembering. Return ONLY the JSON array, no extra text.`

type rawCandidate struct {
	Type                string `json:"type"`
	Content             string `json:"content"`
	Explicit            bool   `json:"explicit"`
	Mentions            int    `json:"mentions"`
	ContradictionMarker bool   `json:"contradiction_marker"`
	Corrective          bool   `json:"corrective"`
	Rationale           string `json:"rationale"`
}

// Extractor consumes a finished conversation transcript and emits
// candidate memories with calibrated confidences. Confidence bucketing,
// rounding, and type normalization are deterministic post-processing that
// happens after the model call, per the "extraction is deterministic in
// its post-processing" contract.
type Extractor struct {
	model         ExtractionModel
	minConfidence float64
	logger        *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMinExtractionConfidence sets the floor below which a candidate is
// discarded before it ever reaches StorageService (nominally 0.6 —
// "selective-aggressive": anything at or above this is emitted).
func WithMinExtractionConfidence(min float64) ExtractorOption {
	return func(e *Extractor) { e.minConfidence = min }
}

// WithExtractorLogger sets the structured logger for an Extractor.
func WithExtractorLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an Extractor bound to model.
func NewExtractor(model ExtractionModel, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		model:         model,
		minConfidence: 0.6,
		logger:        slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ShouldExtract reports whether a turn is worth running extraction over.
// Trivial acknowledgements never reach the model, cutting needless calls —
// the same skip list the teacher's ShouldExtract applies, generalized
// beyond user-fact extraction to any transcript turn.
func ShouldExtract(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return false
	}
	lower := strings.ToLower(trimmed)
	skip := []string{
		"ok", "okay", "thanks", "thank you", "thx", "ty",
		"yes", "no", "yep", "nope", "nice", "cool", "great", "good",
		"lol", "haha", "hmm", "hm", "oh", "ah",
	}
	for _, s := range skip {
		if lower == s {
			return false
		}
	}
	return true
}

// Extract converts a finished transcript into candidate memories.
// Failure to reach the model endpoint yields an empty candidate list,
// never an error that reaches the caller — per the extraction-model
// degradation contract.
func (e *Extractor) Extract(ctx context.Context, turns []Turn) []Candidate {
	if len(turns) == 0 {
		return nil
	}

	var anyWorth bool
	for _, t := range turns {
		if ShouldExtract(t.Text) {
			anyWorth = true
			break
		}
	}
	if !anyWorth {
		return nil
	}

	prompt := e.buildPrompt(turns)
	resp, err := e.model.Complete(ctx, prompt)
	if err != nil {
		e.logger.WarnContext(ctx, "extraction model unavailable, returning empty candidates", "error", err)
		return nil
	}

	raw := parseRawCandidates(resp)
	candidates := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		c, ok := e.score(r)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func (e *Extractor) buildPrompt(turns []Turn) string {
	var b strings.Builder
	b.WriteString(ExtractionPrompt)
	b.WriteString("\n\nTranscript:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return b.String()
}

// score applies the multi-factor confidence formula from section 4.1 and
// normalizes the type label, then filters against minConfidence. The
// second return value is false when the candidate is malformed (empty
// content/type) or falls below the floor.
func (e *Extractor) score(r rawCandidate) (Candidate, bool) {
	content := strings.TrimSpace(r.Content)
	typ := normalizeType(r.Type)
	if content == "" || typ == "" {
		return Candidate{}, false
	}

	var confidence float64
	if r.Explicit {
		confidence = 0.55
	} else {
		confidence = 0.35
	}
	mentions := r.Mentions
	if mentions > 3 {
		mentions = 3
	}
	if mentions > 0 {
		confidence += float64(mentions) * 0.08
	}
	if r.ContradictionMarker {
		confidence -= 0.15
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	if r.Corrective && confidence < 0.8 {
		confidence = 0.8
	}
	// Deterministic rounding (bucketing) to two decimal places.
	confidence = float64(int(confidence*100+0.5)) / 100

	if confidence < e.minConfidence {
		return Candidate{}, false
	}

	return Candidate{
		Type:       typ,
		Content:    content,
		Confidence: confidence,
		Rationale:  r.Rationale,
		Corrective: r.Corrective,
	}, true
}

// normalizeType lowercases, NFC-normalizes, and turns whitespace into
// underscores, per the extractor's type-normalization responsibility.
func normalizeType(typ string) string {
	typ = norm.NFC.String(strings.TrimSpace(typ))
	typ = strings.ToLower(typ)
	fields := strings.Fields(typ)
	return strings.Join(fields, "_")
}

// parseRawCandidates parses the model's JSON array response, tolerating a
// markdown-fenced array the way the teacher's ParseExtractedFacts does.
func parseRawCandidates(response string) []rawCandidate {
	response = strings.TrimSpace(response)
	var raw []rawCandidate
	if err := json.Unmarshal([]byte(response), &raw); err == nil {
		return raw
	}
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start >= 0 && end > start {
		_ = json.Unmarshal([]byte(response[start:end+1]), &raw)
	}
	return raw
}
