package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"

	"github.com/sells-group/relgraph/internal/config"
	"github.com/sells-group/relgraph/internal/cost"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
	"github.com/sells-group/relgraph/pkg/anthropic"
)

// maxTopics caps the topics kept per contact.
const maxTopics = 3

// ErrUnparsable is returned when the model answered but the answer could not
// be read. The Extraction returned alongside it still carries the usage.
var ErrUnparsable = eris.New("pipeline: unparsable extraction response")

// Contact identifies who an extraction is about.
type Contact struct {
	Email string
	Name  string
}

// Extraction is one model call's parsed output and what it cost.
type Extraction struct {
	Result model.ExtractionResult
	Usage  model.Usage
	Model  string
}

// Extractor infers company, role and topics from a contact's messages.
type Extractor interface {
	Extract(ctx context.Context, c Contact, msgs []model.MessageExcerpt) (*Extraction, error)
}

// ClaudeExtractor implements Extractor with the Anthropic API.
type ClaudeExtractor struct {
	client    anthropic.Client
	calc      *cost.Calculator
	model     string
	maxTokens int64
	bodyChars int
	system    []anthropic.SystemBlock
}

// NewClaudeExtractor builds the extractor and its (cacheable) system prompt.
func NewClaudeExtractor(client anthropic.Client, calc *cost.Calculator, ac config.AnthropicConfig, ec config.ExtractConfig) *ClaudeExtractor {
	return &ClaudeExtractor{
		client:    client,
		calc:      calc,
		model:     ac.Model,
		maxTokens: ac.MaxTokens,
		bodyChars: ec.BodyChars,
		system:    anthropic.CachedSystem(systemPrompt()),
	}
}

// Model returns the model id used for calls.
func (e *ClaudeExtractor) Model() string { return e.model }

// Extract implements Extractor.
func (e *ClaudeExtractor) Extract(ctx context.Context, c Contact, msgs []model.MessageExcerpt) (*Extraction, error) {
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    e.system,
		Messages:  []anthropic.Message{{Role: "user", Content: buildUserPrompt(c, msgs, e.bodyChars)}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: extract %s", c.Email)
	}

	u := resp.Usage
	out := &Extraction{
		Model: e.model,
		Usage: model.Usage{
			InputTokens:  int(u.BilledInput()),
			OutputTokens: int(u.OutputTokens),
			CostUSD: e.calc.Claude(e.model, int(u.InputTokens), int(u.OutputTokens),
				int(u.CacheCreationInputTokens), int(u.CacheReadInputTokens)),
		},
	}

	res, err := parseResult(resp.Text())
	if err != nil {
		return out, eris.Wrapf(err, "pipeline: extract %s", c.Email)
	}
	out.Result = res
	return out, nil
}

var resultSchema = func() string {
	r := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	b, err := json.MarshalIndent(r.Reflect(&model.ExtractionResult{}), "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}()

func systemPrompt() string {
	return `You read short excerpts of email exchanges between the user and one contact and infer facts about the contact.

Reply with a single JSON object and nothing else. It must validate against this schema:
` + resultSchema + `

Rules:
- company: the contact's current employer, or null when the messages do not show it. Never guess from the email domain alone when it is a free mail provider.
- role: the contact's job title, or null.
- topics: one to three short lowercase phrases describing what the contact and the user discuss.
- confidence: how sure you are overall, between 0 and 1.`
}

func buildUserPrompt(c Contact, msgs []model.MessageExcerpt, bodyChars int) string {
	var sb strings.Builder
	if c.Name != "" {
		fmt.Fprintf(&sb, "Contact: %s <%s>\n", c.Name, c.Email)
	} else {
		fmt.Fprintf(&sb, "Contact: %s\n", c.Email)
	}
	for i, m := range msgs {
		fmt.Fprintf(&sb, "\n--- Message %d ---\nSubject: %s\n", i+1, m.Subject)
		if !m.Date.IsZero() {
			fmt.Fprintf(&sb, "Date: %s\n", m.Date.UTC().Format("2006-01-02"))
		}
		sb.WriteString("\n")
		sb.WriteString(truncateRunes(m.Body, bodyChars))
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseResult reads the model's answer, repairing malformed JSON when it can.
func parseResult(text string) (model.ExtractionResult, error) {
	var res model.ExtractionResult
	cleaned := cleanJSON(text)
	if !strings.HasPrefix(cleaned, "{") {
		return res, ErrUnparsable
	}
	if err := json.Unmarshal([]byte(cleaned), &res); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(cleaned)
		if rerr != nil {
			return model.ExtractionResult{}, eris.Wrap(ErrUnparsable, rerr.Error())
		}
		res = model.ExtractionResult{}
		if err := json.Unmarshal([]byte(repaired), &res); err != nil {
			return model.ExtractionResult{}, eris.Wrap(ErrUnparsable, err.Error())
		}
	}
	return sanitize(res), nil
}

// sanitize normalizes a parsed result: blank or placeholder strings become
// null, topics are normalized, deduplicated and capped, confidence is
// clamped to [0,1].
func sanitize(r model.ExtractionResult) model.ExtractionResult {
	r.Company = cleanField(r.Company)
	r.Role = cleanField(r.Role)

	seen := make(map[string]bool, len(r.Topics))
	topics := make([]string, 0, maxTopics)
	for _, t := range r.Topics {
		t = normalize.Topic(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
		if len(topics) == maxTopics {
			break
		}
	}
	r.Topics = topics

	switch {
	case math.IsNaN(r.Confidence) || r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
	return r
}

func cleanField(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	switch strings.ToLower(v) {
	case "", "null", "none", "unknown", "n/a":
		return nil
	}
	return &v
}
